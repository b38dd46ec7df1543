package repository

import (
	"time"

	"github.com/nicolu0/nexus-relay/internal/model"
)

type MessageEntity struct {
	ID            int64     `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	DeliveryID    *string   `db:"delivery_id"    gorm:"column:delivery_id;uniqueIndex"`
	Direction     string    `db:"direction"      gorm:"column:direction;not null"`
	SenderRole    string    `db:"sender_role"    gorm:"column:sender_role;not null"`
	LandlordPhone string    `db:"landlord_phone" gorm:"column:landlord_phone;index:idx_messages_pair"`
	VendorPhone   string    `db:"vendor_phone"   gorm:"column:vendor_phone;index:idx_messages_pair"`
	Body          string    `db:"body"           gorm:"column:body"`
	WorkOrderID   *string   `db:"work_order_id"  gorm:"column:work_order_id;index"`
	CreatedAt     time.Time `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
}

func (MessageEntity) TableName() string {
	return "messages"
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	return &MessageEntity{
		ID:            m.ID,
		DeliveryID:    m.DeliveryID,
		Direction:     string(m.Direction),
		SenderRole:    string(m.SenderRole),
		LandlordPhone: m.LandlordPhone,
		VendorPhone:   m.VendorPhone,
		Body:          m.Body,
		WorkOrderID:   m.WorkOrderID,
		CreatedAt:     m.CreatedAt,
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
		ID:            e.ID,
		DeliveryID:    e.DeliveryID,
		Direction:     model.Direction(e.Direction),
		SenderRole:    model.SenderRole(e.SenderRole),
		LandlordPhone: e.LandlordPhone,
		VendorPhone:   e.VendorPhone,
		Body:          e.Body,
		WorkOrderID:   e.WorkOrderID,
		CreatedAt:     e.CreatedAt,
	}
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	if entities == nil {
		return nil
	}
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}
