// Package dispatcher is the relay's core: it takes one inbound SMS event,
// deduplicates it, resolves the sender's role, records it in the ledger,
// and drives classification, work order transitions and forwarding.
//
// Nothing here is allowed to fail the request. Downstream errors degrade
// to "logged but not classified/forwarded"; the webhook caller always gets
// a terminal outcome.
package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nicolu0/nexus-relay/internal/gateways"
	"github.com/nicolu0/nexus-relay/internal/model"
	"github.com/nicolu0/nexus-relay/internal/oracle"
	"github.com/nicolu0/nexus-relay/internal/phone"
	"github.com/nicolu0/nexus-relay/pkg/logger"
	"github.com/nicolu0/nexus-relay/pkg/prom"
)

// Outcome is the terminal status token returned to the webhook caller.
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeDuplicate       Outcome = "duplicate_ignored"
	OutcomeDuplicateRecent Outcome = "duplicate_ignored_recent"
)

// Inbound is one message-received event from the SMS gateway.
type Inbound struct {
	DeliveryID string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Ledger is the slice of the message store the dispatcher needs.
type Ledger interface {
	IsDuplicate(ctx context.Context, deliveryID string) (bool, error)
	RecentDuplicateFromVendor(ctx context.Context, landlordPhone, vendorPhone, body string, window time.Duration) (bool, error)
	Append(ctx context.Context, msg *model.Message) (*model.Message, error)
	RecentConversation(ctx context.Context, landlordPhone, vendorPhone string, limit int) ([]*model.Message, error)
}

// WorkOrderStore is the slice of the work order store the dispatcher needs.
type WorkOrderStore interface {
	OpenCandidates(ctx context.Context, landlordPhone, vendorPhone string) ([]*model.WorkOrder, error)
	AdvanceStatus(ctx context.Context, id string, next model.WorkOrderStatus) (bool, error)
}

// Sender delivers one outbound SMS tagged with its conversation attribution.
type Sender interface {
	Send(ctx context.Context, to, body string, attr gateway.Attribution) (*gateway.BatchResponse, error)
}

// ForwardQueue parks failed forwards for asynchronous retry. Optional: a
// nil queue means failed forwards are dropped after logging, which matches
// degraded-but-alive behavior.
type ForwardQueue interface {
	Enqueue(ctx context.Context, job *model.ForwardJob) error
}

// Config fixes the two conversation identities and the tunables.
type Config struct {
	LandlordPhone string
	VendorPhone   string
	RelayFrom     string

	MatchThreshold    float64
	ConversationLimit int
	DuplicateWindow   time.Duration
}

type Dispatcher struct {
	ledger     Ledger
	orders     WorkOrderStore
	classifier oracle.Classifier
	sender     Sender
	retries    ForwardQueue

	landlordNorm  string
	vendorNorm    string
	relayFromNorm string

	threshold         float64
	conversationLimit int
	duplicateWindow   time.Duration
}

func New(cfg Config, ledger Ledger, orders WorkOrderStore, classifier oracle.Classifier, sender Sender, retries ForwardQueue) *Dispatcher {
	threshold := cfg.MatchThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	limit := cfg.ConversationLimit
	if limit <= 0 {
		limit = 10
	}
	window := cfg.DuplicateWindow
	if window <= 0 {
		window = 10 * time.Second
	}

	return &Dispatcher{
		ledger:            ledger,
		orders:            orders,
		classifier:        classifier,
		sender:            sender,
		retries:           retries,
		landlordNorm:      phone.Normalize(cfg.LandlordPhone),
		vendorNorm:        phone.Normalize(cfg.VendorPhone),
		relayFromNorm:     phone.Normalize(cfg.RelayFrom),
		threshold:         threshold,
		conversationLimit: limit,
		duplicateWindow:   window,
	}
}

// Process runs one inbound event through the pipeline and returns its
// terminal outcome. It never returns an error for downstream failures.
func (d *Dispatcher) Process(ctx context.Context, in Inbound) Outcome {
	outcome := d.process(ctx, in)
	prom.IncInboundOutcome(string(outcome))
	return outcome
}

func (d *Dispatcher) process(ctx context.Context, in Inbound) Outcome {
	fromNorm := phone.Normalize(in.From)

	logger.Info("Inbound SMS received",
		"delivery_id", in.DeliveryID,
		"from", fromNorm,
		"to", phone.Normalize(in.To),
	)

	// Delivery-id dedup. At-least-once webhook delivery means replays are
	// routine, not exceptional.
	if in.DeliveryID != "" {
		dup, err := d.ledger.IsDuplicate(ctx, in.DeliveryID)
		if err != nil {
			logger.Error("Dedup check failed, continuing as non-duplicate", "error", err, "delivery_id", in.DeliveryID)
		} else if dup {
			logger.Info("Duplicate delivery ignored", "delivery_id", in.DeliveryID)
			return OutcomeDuplicate
		}
	}

	// Misconfigured deployment: log receipt as system, never forward.
	if d.landlordNorm == "" || d.vendorNorm == "" {
		logger.Warn("Landlord or vendor number missing from config, logging only", "delivery_id", in.DeliveryID)
		d.appendQuietly(ctx, in, model.RoleSystem, nil)
		return OutcomeOK
	}

	switch fromNorm {
	case d.landlordNorm:
		return d.processLandlord(ctx, in)
	case d.vendorNorm:
		return d.processVendor(ctx, in)
	}

	// Echo from our own sending number: drop without logging so forwards
	// don't re-enter the ledger as phantom inbound traffic.
	if d.relayFromNorm != "" && fromNorm == d.relayFromNorm {
		logger.Info("Ignoring echo from relay's own number", "delivery_id", in.DeliveryID)
		return OutcomeOK
	}

	logger.Info("Inbound from unknown sender, logging as system only", "from", fromNorm, "delivery_id", in.DeliveryID)
	d.appendQuietly(ctx, in, model.RoleSystem, nil)
	return OutcomeOK
}

func (d *Dispatcher) processLandlord(ctx context.Context, in Inbound) Outcome {
	d.appendQuietly(ctx, in, model.RoleLandlord, nil)

	forwardBody := "Work request from landlord " + in.From + ":\n" + in.Body
	d.forward(ctx, d.vendorNorm, forwardBody, model.RoleLandlord, nil)

	return OutcomeOK
}

func (d *Dispatcher) processVendor(ctx context.Context, in Inbound) Outcome {
	// Content dedup runs before classification so a double-delivered text
	// costs one oracle call and one transition attempt, not two.
	dup, err := d.ledger.RecentDuplicateFromVendor(ctx, d.landlordNorm, d.vendorNorm, in.Body, d.duplicateWindow)
	if err != nil {
		logger.Error("Content dedup check failed, continuing as non-duplicate", "error", err)
	} else if dup {
		logger.Info("Recent identical vendor message ignored", "delivery_id", in.DeliveryID)
		return OutcomeDuplicateRecent
	}

	workOrderID := d.classifyAndAdvance(ctx, in)

	d.appendQuietly(ctx, in, model.RoleVendor, workOrderID)

	forwardBody := "Update from vendor " + in.From + ":\n" + in.Body
	d.forward(ctx, d.landlordNorm, forwardBody, model.RoleVendor, workOrderID)

	return OutcomeOK
}

// classifyAndAdvance asks the oracle what the vendor message means and, on
// a confident match, advances the referenced work order. Returns the
// matched work order id, or nil when nothing matched confidently.
func (d *Dispatcher) classifyAndAdvance(ctx context.Context, in Inbound) *string {
	if d.classifier == nil {
		return nil
	}

	candidates, err := d.orders.OpenCandidates(ctx, d.landlordNorm, d.vendorNorm)
	if err != nil {
		logger.Error("Failed to fetch work order candidates", "error", err)
		candidates = nil
	}

	conversation, err := d.ledger.RecentConversation(ctx, d.landlordNorm, d.vendorNorm, d.conversationLimit)
	if err != nil {
		logger.Error("Failed to fetch recent conversation", "error", err)
		conversation = nil
	}

	start := time.Now()
	cls, err := d.classifier.Classify(ctx, oracle.Request{
		Body:         in.Body,
		Candidates:   toCandidates(candidates),
		Conversation: toConversation(conversation),
	})
	if err != nil {
		logger.Error("Classification failed", "error", err)
		return nil
	}

	prom.IncClassification(string(cls.Category))
	prom.AddClassificationDuration(time.Since(start).Seconds(), string(cls.Category))

	logger.Info("Vendor SMS classified",
		"category", string(cls.Category),
		"confidence", cls.Confidence,
		"work_order_confidence", cls.WorkOrderConfidence,
		"reasoning", cls.Reasoning,
	)

	if cls.WorkOrderID == nil || *cls.WorkOrderID == "" || cls.WorkOrderConfidence < d.threshold {
		logger.Info("No confident work order match")
		return nil
	}

	workOrderID := *cls.WorkOrderID

	var next model.WorkOrderStatus
	switch cls.Category {
	case oracle.CategoryConfirmation:
		next = model.WorkOrderInProgress
	case oracle.CategoryCompletion:
		next = model.WorkOrderCompleted
	default:
		// matched but no lifecycle meaning; keep the id for the ledger row
		return &workOrderID
	}

	changed, err := d.orders.AdvanceStatus(ctx, workOrderID, next)
	if err != nil {
		logger.Error("Failed to advance work order", "error", err, "work_order_id", workOrderID, "to", string(next))
	} else if changed {
		prom.IncTransition(string(next))
		logger.Info("Work order advanced", "work_order_id", workOrderID, "to", string(next))
	} else {
		logger.Info("Work order not advanced, already terminal or missing", "work_order_id", workOrderID, "to", string(next))
	}

	return &workOrderID
}

// appendQuietly records a ledger row; ledger failures are logged and
// swallowed so receipt logging can never fail the webhook.
func (d *Dispatcher) appendQuietly(ctx context.Context, in Inbound, role model.SenderRole, workOrderID *string) {
	var deliveryID *string
	if in.DeliveryID != "" {
		id := in.DeliveryID
		deliveryID = &id
	}

	_, err := d.ledger.Append(ctx, &model.Message{
		DeliveryID:    deliveryID,
		Direction:     model.DirectionInbound,
		SenderRole:    role,
		LandlordPhone: d.landlordNorm,
		VendorPhone:   d.vendorNorm,
		Body:          in.Body,
		WorkOrderID:   workOrderID,
	})
	if err != nil {
		logger.Error("Failed to record inbound message", "error", err, "delivery_id", in.DeliveryID)
	}
}

// forward sends one outbound SMS and records it. A failed send is parked
// on the retry queue when one is configured.
func (d *Dispatcher) forward(ctx context.Context, to, body string, role model.SenderRole, workOrderID *string) {
	if d.sender == nil {
		logger.Warn("No sender configured, skipping forward")
		return
	}

	resp, err := d.sender.Send(ctx, to, body, gateway.Attribution{
		LandlordPhone: d.landlordNorm,
		VendorPhone:   d.vendorNorm,
		SenderRole:    string(role),
		WorkOrderID:   workOrderID,
	})
	if err != nil {
		prom.IncForwardResult("failed")
		logger.Error("Failed to forward message", "error", err, "to", to)
		d.enqueueRetry(ctx, to, body, role, workOrderID)
		return
	}

	prom.IncForwardResult("sent")

	var deliveryID *string
	if resp != nil && resp.ID != "" {
		id := resp.ID
		deliveryID = &id
	}

	_, err = d.ledger.Append(ctx, &model.Message{
		DeliveryID:    deliveryID,
		Direction:     model.DirectionOutbound,
		SenderRole:    role,
		LandlordPhone: d.landlordNorm,
		VendorPhone:   d.vendorNorm,
		Body:          body,
		WorkOrderID:   workOrderID,
	})
	if err != nil {
		logger.Error("Failed to record outbound message", "error", err)
	}
}

func (d *Dispatcher) enqueueRetry(ctx context.Context, to, body string, role model.SenderRole, workOrderID *string) {
	if d.retries == nil {
		return
	}
	err := d.retries.Enqueue(ctx, &model.ForwardJob{
		ID:            uuid.NewString(),
		To:            to,
		Body:          body,
		SenderRole:    role,
		LandlordPhone: d.landlordNorm,
		VendorPhone:   d.vendorNorm,
		WorkOrderID:   workOrderID,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		logger.Error("Failed to enqueue forward retry", "error", err, "to", to)
		return
	}
	prom.IncForwardResult("queued")
}

func toCandidates(orders []*model.WorkOrder) []oracle.Candidate {
	candidates := make([]oracle.Candidate, 0, len(orders))
	for _, wo := range orders {
		createdAt := wo.CreatedAt
		candidates = append(candidates, oracle.Candidate{
			ID:            wo.ID,
			Summary:       wo.Summary,
			Status:        string(wo.Status),
			PropertyLabel: wo.PropertyLabel,
			UnitLabel:     wo.UnitLabel,
			CreatedAt:     &createdAt,
		})
	}
	return candidates
}

func toConversation(messages []*model.Message) []oracle.ConversationMessage {
	conversation := make([]oracle.ConversationMessage, 0, len(messages))
	for _, msg := range messages {
		conversation = append(conversation, oracle.ConversationMessage{
			SenderRole: string(msg.SenderRole),
			CreatedAt:  msg.CreatedAt,
			Body:       msg.Body,
		})
	}
	return conversation
}
