package repository

import (
	"time"

	"github.com/nicolu0/nexus-relay/internal/model"
)

type WorkOrderEntity struct {
	ID            string    `db:"id"             gorm:"primaryKey;column:id"`
	EmailID       *string   `db:"email_id"       gorm:"column:email_id;uniqueIndex"`
	Status        string    `db:"status"         gorm:"column:status;not null;default:pending"`
	LandlordPhone string    `db:"landlord_phone" gorm:"column:landlord_phone;index"`
	VendorPhone   string    `db:"vendor_phone"   gorm:"column:vendor_phone;index"`
	VendorName    *string   `db:"vendor_name"    gorm:"column:vendor_name"`
	Summary       string    `db:"summary"        gorm:"column:summary"`
	PropertyLabel *string   `db:"property_label" gorm:"column:property_label"`
	UnitLabel     *string   `db:"unit_label"     gorm:"column:unit_label"`
	CreatedAt     time.Time `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `db:"updated_at"     gorm:"column:updated_at;autoUpdateTime"`
}

func (WorkOrderEntity) TableName() string {
	return "work_orders"
}

func toWorkOrderEntity(w *model.WorkOrder) *WorkOrderEntity {
	if w == nil {
		return nil
	}
	return &WorkOrderEntity{
		ID:            w.ID,
		EmailID:       w.EmailID,
		Status:        string(w.Status),
		LandlordPhone: w.LandlordPhone,
		VendorPhone:   w.VendorPhone,
		VendorName:    w.VendorName,
		Summary:       w.Summary,
		PropertyLabel: w.PropertyLabel,
		UnitLabel:     w.UnitLabel,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

func toWorkOrderModel(e *WorkOrderEntity) *model.WorkOrder {
	if e == nil {
		return nil
	}
	return &model.WorkOrder{
		ID:            e.ID,
		EmailID:       e.EmailID,
		Status:        model.WorkOrderStatus(e.Status),
		LandlordPhone: e.LandlordPhone,
		VendorPhone:   e.VendorPhone,
		VendorName:    e.VendorName,
		Summary:       e.Summary,
		PropertyLabel: e.PropertyLabel,
		UnitLabel:     e.UnitLabel,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func toWorkOrderModels(entities []*WorkOrderEntity) []*model.WorkOrder {
	if entities == nil {
		return nil
	}
	models := make([]*model.WorkOrder, len(entities))
	for i, e := range entities {
		models[i] = toWorkOrderModel(e)
	}
	return models
}
