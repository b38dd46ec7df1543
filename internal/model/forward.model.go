package model

import "time"

// ForwardJob is a failed outbound forward parked for asynchronous retry.
// Jobs ride the redis stream and are retried by the forwarder worker.
type ForwardJob struct {
	ID            string     `json:"id"`
	To            string     `json:"to"`
	Body          string     `json:"body"`
	SenderRole    SenderRole `json:"sender_role"`
	LandlordPhone string     `json:"landlord_phone"`
	VendorPhone   string     `json:"vendor_phone"`
	WorkOrderID   *string    `json:"work_order_id,omitempty"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"created_at"`
}
