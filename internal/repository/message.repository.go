package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nicolu0/nexus-relay/internal/model"
	"github.com/nicolu0/nexus-relay/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a message does not exist.
	ErrNotFound = errors.New("message not found")
)

// MessageRepository is the relay's append-only ledger. Rows are inserted
// exactly once per delivery id (unique constraint); a conflicting insert
// resolves to the already-stored row instead of an error, which is what
// makes the inbound handler safe under at-least-once webhook delivery.
type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

// Append stores a message. When the delivery id is already present the
// insert is a no-op and the previously stored row is returned.
func (r *MessageRepository) Append(ctx context.Context, msg *model.Message) (*model.Message, error) {
	entity := toMessageEntity(msg)

	res := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "delivery_id"}},
			DoNothing: true,
		}).
		Create(entity)
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected == 0 && entity.DeliveryID != nil {
		// lost the race to a concurrent insert; return the winner
		var existing MessageEntity
		err := r.Read(ctx).WithContext(ctx).
			Where("delivery_id = ?", *entity.DeliveryID).
			First(&existing).Error
		if err != nil {
			return nil, err
		}
		return toMessageModel(&existing), nil
	}

	return toMessageModel(entity), nil
}

// IsDuplicate reports whether a message with this provider-assigned
// delivery id was already recorded.
func (r *MessageRepository) IsDuplicate(ctx context.Context, deliveryID string) (bool, error) {
	if deliveryID == "" {
		return false, nil
	}
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&MessageEntity{}).
		Where("delivery_id = ?", deliveryID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecentDuplicateFromVendor reports whether an inbound vendor message for
// this pair with identical body text was recorded within the trailing
// window. Content-level dedup: the same human message arriving twice
// through different channels must not trigger a second classification or
// forward cycle.
func (r *MessageRepository) RecentDuplicateFromVendor(ctx context.Context, landlordPhone, vendorPhone, body string, window time.Duration) (bool, error) {
	cutoff := time.Now().Add(-window)

	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&MessageEntity{}).
		Where("landlord_phone = ?", landlordPhone).
		Where("vendor_phone = ?", vendorPhone).
		Where("direction = ?", string(model.DirectionInbound)).
		Where("sender_role = ?", string(model.RoleVendor)).
		Where("body = ?", body).
		Where("created_at >= ?", cutoff).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecentConversation returns the last `limit` messages between the pair,
// oldest first, for use as classification context.
func (r *MessageRepository) RecentConversation(ctx context.Context, landlordPhone, vendorPhone string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = 10
	}

	var entities []*MessageEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("landlord_phone = ?", landlordPhone).
		Where("vendor_phone = ?", vendorPhone).
		Order("created_at DESC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}

	// newest-first from the query; the oracle wants oldest-first
	for i, j := 0, len(entities)-1; i < j; i, j = i+1, j-1 {
		entities[i], entities[j] = entities[j], entities[i]
	}

	return toMessageModels(entities), nil
}

func (r *MessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&MessageEntity{})

	if f.LandlordPhone != nil && *f.LandlordPhone != "" {
		q = q.Where("landlord_phone = ?", *f.LandlordPhone)
	}
	if f.VendorPhone != nil && *f.VendorPhone != "" {
		q = q.Where("vendor_phone = ?", *f.VendorPhone)
	}
	if f.Direction != nil {
		q = q.Where("direction = ?", string(*f.Direction))
	}
	if f.SenderRole != nil {
		q = q.Where("sender_role = ?", string(*f.SenderRole))
	}
	if f.WorkOrderID != nil && *f.WorkOrderID != "" {
		q = q.Where("work_order_id = ?", *f.WorkOrderID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*MessageEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toMessageModels(entities), total, nil
}

// GetByDeliveryID looks a message up by its provider delivery id.
func (r *MessageRepository) GetByDeliveryID(ctx context.Context, deliveryID string) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("delivery_id = ?", deliveryID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toMessageModel(&entity), nil
}
