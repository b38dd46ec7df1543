// Package oracle classifies inbound vendor SMS against the open work
// orders for a landlord/vendor pair. The classifier degrades instead of
// failing: any model or transport problem yields a low-confidence "other"
// result so the relay keeps forwarding messages.
package oracle

import (
	"context"
	"time"
)

// Category is the classifier's read of a vendor message.
type Category string

const (
	// CategoryConfirmation means the vendor is accepting or scheduling the work.
	CategoryConfirmation Category = "confirmation"
	// CategoryCompletion means the vendor states the work is finished.
	CategoryCompletion Category = "completion"
	// CategoryOther covers questions, pricing, partial updates and anything unclear.
	CategoryOther Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryConfirmation, CategoryCompletion, CategoryOther:
		return true
	}
	return false
}

// Candidate is a work order the message may refer to. Only open jobs for
// the sending vendor's pair are ever offered.
type Candidate struct {
	ID            string     `json:"id"`
	Summary       string     `json:"summary"`
	Status        string     `json:"status"`
	PropertyLabel *string    `json:"property_label,omitempty"`
	UnitLabel     *string    `json:"unit_label,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

// ConversationMessage is one line of recent context, oldest first.
type ConversationMessage struct {
	SenderRole string    `json:"sender_role"`
	CreatedAt  time.Time `json:"created_at"`
	Body       string    `json:"body"`
}

// Classification is the oracle's structured verdict.
type Classification struct {
	Category            Category `json:"category"`
	Confidence          float64  `json:"confidence"`
	Reasoning           string   `json:"reasoning"`
	WorkOrderID         *string  `json:"work_order_id"`
	WorkOrderConfidence float64  `json:"work_order_confidence"`
}

// Request carries everything the classifier sees for one message.
type Request struct {
	Body         string
	Candidates   []Candidate
	Conversation []ConversationMessage
}

// Classifier decides what a vendor message means. Implementations must
// never return an error for model-side problems; they degrade instead.
type Classifier interface {
	Classify(ctx context.Context, req Request) (*Classification, error)
}

// Degraded is the safe fallback verdict: category "other", zero
// confidence, no work order match.
func Degraded(reason string) *Classification {
	return &Classification{
		Category:            CategoryOther,
		Confidence:          0,
		Reasoning:           reason,
		WorkOrderID:         nil,
		WorkOrderConfidence: 0,
	}
}
