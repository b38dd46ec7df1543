package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nicolu0/nexus-relay/internal/model"
	"github.com/nicolu0/nexus-relay/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrWorkOrderNotFound is returned when a work order does not exist.
	ErrWorkOrderNotFound = errors.New("work order not found")
)

type WorkOrderRepository struct {
	*pg.DB
}

func NewWorkOrderRepository(db *pg.DB) *WorkOrderRepository {
	return &WorkOrderRepository{
		db,
	}
}

// OpenCandidates returns the non-completed work orders for a landlord/vendor
// pair, newest first. These are the rows the classifier is allowed to match
// an inbound vendor message against.
func (r *WorkOrderRepository) OpenCandidates(ctx context.Context, landlordPhone, vendorPhone string) ([]*model.WorkOrder, error) {
	statuses := make([]string, 0, len(model.OpenStatuses))
	for _, s := range model.OpenStatuses {
		statuses = append(statuses, string(s))
	}

	var entities []*WorkOrderEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("landlord_phone = ?", landlordPhone).
		Where("vendor_phone = ?", vendorPhone).
		Where("status IN ?", statuses).
		Order("created_at DESC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toWorkOrderModels(entities), nil
}

// AdvanceStatus sets the work order's status iff it is currently open. The
// guard lives in the WHERE clause so concurrent writers cannot interleave a
// completed -> in_progress regression; the first writer to complete wins and
// every later advance is a no-op. Returns true when a row changed.
func (r *WorkOrderRepository) AdvanceStatus(ctx context.Context, id string, next model.WorkOrderStatus) (bool, error) {
	if !next.Valid() {
		return false, errors.New("invalid work order status: " + string(next))
	}

	statuses := make([]string, 0, len(model.OpenStatuses))
	for _, s := range model.OpenStatuses {
		statuses = append(statuses, string(s))
	}

	res := r.Write(ctx).WithContext(ctx).
		Model(&WorkOrderEntity{}).
		Where("id = ?", id).
		Where("status IN ?", statuses).
		Updates(map[string]interface{}{
			"status":     string(next),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Upsert creates or replaces the work order keyed by email id. A re-approval
// of the same email thread overwrites the suggested fields instead of
// spawning a second job.
func (r *WorkOrderRepository) Upsert(ctx context.Context, req model.WorkOrderUpsertRequest) (*model.WorkOrder, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	emailID := req.EmailID
	entity := &WorkOrderEntity{
		ID:            uuid.NewString(),
		EmailID:       &emailID,
		Status:        string(req.Status),
		LandlordPhone: req.LandlordPhone,
		VendorPhone:   req.VendorPhone,
		VendorName:    req.VendorName,
		Summary:       req.Summary,
		PropertyLabel: req.PropertyLabel,
		UnitLabel:     req.UnitLabel,
	}

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "email_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "landlord_phone", "vendor_phone", "vendor_name",
				"summary", "property_label", "unit_label", "updated_at",
			}),
		}).
		Create(entity).Error
	if err != nil {
		return nil, err
	}

	// Re-read: on conflict the generated id differs from the stored one.
	var stored WorkOrderEntity
	err = r.Read(ctx).WithContext(ctx).
		Where("email_id = ?", emailID).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return toWorkOrderModel(&stored), nil
}

func (r *WorkOrderRepository) Get(ctx context.Context, id string) (*model.WorkOrder, error) {
	var entity WorkOrderEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkOrderNotFound
		}
		return nil, err
	}
	return toWorkOrderModel(&entity), nil
}

func (r *WorkOrderRepository) List(ctx context.Context, f model.WorkOrderFilter) ([]*model.WorkOrder, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&WorkOrderEntity{})

	if f.LandlordPhone != nil && *f.LandlordPhone != "" {
		q = q.Where("landlord_phone = ?", *f.LandlordPhone)
	}
	if f.VendorPhone != nil && *f.VendorPhone != "" {
		q = q.Where("vendor_phone = ?", *f.VendorPhone)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		q = q.Where("status IN ?", statuses)
	}

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

	var entities []*WorkOrderEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toWorkOrderModels(entities), total, nil
}
