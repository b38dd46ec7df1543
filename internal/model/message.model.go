package model

import (
	"time"
)

// Direction says which way a message travelled through the relay.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SenderRole identifies which party a message originated from. The relay
// recognizes exactly two human identities per deployment; everything else is
// attributed to the system.
type SenderRole string

const (
	RoleLandlord SenderRole = "landlord"
	RoleVendor   SenderRole = "vendor"
	RoleSystem   SenderRole = "system"
)

// Message is one SMS event in the ledger. Rows are append-only: created
// once, never updated, never deleted.
type Message struct {
	ID            int64      `json:"id"              db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	DeliveryID    *string    `json:"delivery_id"     db:"delivery_id"     gorm:"column:delivery_id;uniqueIndex"`
	Direction     Direction  `json:"direction"       db:"direction"       gorm:"column:direction;not null"`
	SenderRole    SenderRole `json:"sender_role"     db:"sender_role"     gorm:"column:sender_role;not null"`
	LandlordPhone string     `json:"landlord_phone"  db:"landlord_phone"  gorm:"column:landlord_phone"`
	VendorPhone   string     `json:"vendor_phone"    db:"vendor_phone"    gorm:"column:vendor_phone"`
	Body          string     `json:"body"            db:"body"            gorm:"column:body"`
	WorkOrderID   *string    `json:"work_order_id"   db:"work_order_id"   gorm:"column:work_order_id;index"`
	CreatedAt     time.Time  `json:"created_at"      db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (Message) TableName() string { return "messages" }

// MessageFilter controls ledger List queries.
type MessageFilter struct {
	LandlordPhone *string // normalized
	VendorPhone   *string // normalized
	Direction     *Direction
	SenderRole    *SenderRole
	WorkOrderID   *string
	From          *time.Time
	To            *time.Time
	Limit         int // default 50
	Offset        int
	Desc          bool // order by created_at
}
