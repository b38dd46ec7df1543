package model

import (
	"errors"
	"time"
)

// WorkOrderStatus is the lifecycle state of a maintenance job. Transitions
// only ever advance: pending -> in_progress -> completed.
type WorkOrderStatus string

const (
	WorkOrderPending    WorkOrderStatus = "pending"
	WorkOrderInProgress WorkOrderStatus = "in_progress"
	WorkOrderCompleted  WorkOrderStatus = "completed"
)

// OpenStatuses is the set of statuses a status write is allowed to replace.
// Completed jobs are terminal; a late or misclassified vendor message must
// never reopen one.
var OpenStatuses = []WorkOrderStatus{WorkOrderPending, WorkOrderInProgress}

func (s WorkOrderStatus) Valid() bool {
	switch s {
	case WorkOrderPending, WorkOrderInProgress, WorkOrderCompleted:
		return true
	}
	return false
}

// WorkOrder is one maintenance job. Jobs are created by the intake
// pipelines (email, photo); the relay core only reads them and conditionally
// advances their status.
type WorkOrder struct {
	ID            string          `json:"id"             db:"id"             gorm:"primaryKey;column:id"`
	EmailID       *string         `json:"email_id"       db:"email_id"       gorm:"column:email_id;uniqueIndex"`
	Status        WorkOrderStatus `json:"status"         db:"status"         gorm:"column:status;not null;default:pending"`
	LandlordPhone string          `json:"landlord_phone" db:"landlord_phone" gorm:"column:landlord_phone;index"`
	VendorPhone   string          `json:"vendor_phone"   db:"vendor_phone"   gorm:"column:vendor_phone;index"`
	VendorName    *string         `json:"vendor_name"    db:"vendor_name"    gorm:"column:vendor_name"`
	Summary       string          `json:"summary"        db:"summary"        gorm:"column:summary"`
	PropertyLabel *string         `json:"property_label" db:"property_label" gorm:"column:property_label"`
	UnitLabel     *string         `json:"unit_label"     db:"unit_label"     gorm:"column:unit_label"`
	CreatedAt     time.Time       `json:"created_at"     db:"created_at"     gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `json:"updated_at"     db:"updated_at"     gorm:"column:updated_at;autoUpdateTime"`
}

func (WorkOrder) TableName() string { return "work_orders" }

// WorkOrderUpsertRequest is the approve-path input: a suggested row the
// property manager accepted, keyed by the email thread it came from.
type WorkOrderUpsertRequest struct {
	EmailID       string
	Status        WorkOrderStatus
	LandlordPhone string
	VendorPhone   string
	VendorName    *string
	Summary       string
	PropertyLabel *string
	UnitLabel     *string
}

func (p WorkOrderUpsertRequest) Validate() error {
	if p.EmailID == "" {
		return errors.New("email_id is required")
	}
	if p.Summary == "" {
		return errors.New("summary is required")
	}
	if !p.Status.Valid() {
		return errors.New("status must be pending, in_progress or completed")
	}
	return nil
}

// WorkOrderFilter controls store List queries.
type WorkOrderFilter struct {
	LandlordPhone *string
	VendorPhone   *string
	Statuses      []WorkOrderStatus
	Limit         int
	Offset        int
	Desc          bool
}
