package forwarder

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nicolu0/nexus-relay/internal/gateways"
	"github.com/nicolu0/nexus-relay/internal/model"
	"github.com/nicolu0/nexus-relay/internal/queue"
	"github.com/nicolu0/nexus-relay/pkg/logger"
	"github.com/nicolu0/nexus-relay/pkg/prom"
)

// Ledger records the outbound message after a successful retry delivery.
type Ledger interface {
	Append(ctx context.Context, msg *model.Message) (*model.Message, error)
}

// Sender delivers one outbound SMS tagged with its conversation attribution.
type Sender interface {
	Send(ctx context.Context, to, body string, attr gateway.Attribution) (*gateway.BatchResponse, error)
}

// ForwardProcessor drains parked forward jobs: each job is sent through
// the gateway at most once (idempotency guard on the job id) and recorded
// in the ledger on success.
type ForwardProcessor struct {
	sender      Sender
	ledger      Ledger
	idempotency *IdempotencyService
}

func NewForwardProcessor(sender Sender, ledger Ledger, idempotency *IdempotencyService) *ForwardProcessor {
	return &ForwardProcessor{
		sender:      sender,
		ledger:      ledger,
		idempotency: idempotency,
	}
}

func (p *ForwardProcessor) GetType() string {
	return "forward"
}

// Process delivers one parked forward. Return semantics follow the queue
// contract: nil acks, error leaves the job pending for reclaim.
func (p *ForwardProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	var job model.ForwardJob
	if err := json.Unmarshal(queueMessage.Data, &job); err != nil {
		logger.Error("Failed to unmarshal forward job", "error", err)
		return err // malformed payload rides to the DLQ
	}

	if job.ID == "" || job.To == "" {
		logger.Error("Forward job missing id or recipient, dropping", "forward_id", job.ID)
		return nil // nothing retryable here, ack it away
	}

	dc, err := p.idempotency.AcquireLock(ctx, job.ID)
	if err != nil {
		if errors.Is(err, ErrAlreadyForwarded) {
			logger.Info("Forward already delivered, skipping", "forward_id", job.ID)
			return nil
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			prom.IncForwardResult("abandoned")
			logger.Error("Forward abandoned after max retries", "forward_id", job.ID)
			return nil // ack; the DLQ copy is the audit trail
		}
		if errors.Is(err, ErrLockAcquireFailed) {
			return errors.New("lock held by another consumer")
		}
		return err
	}

	defer func() {
		if dc.lockAcquired {
			p.idempotency.ReleaseLock(ctx, dc)
		}
	}()

	logger.Info("Retrying forward",
		"forward_id", job.ID,
		"to", job.To,
		"retry_count", dc.RetryCount,
		"is_retry", dc.IsRetry)

	resp, err := p.sender.Send(ctx, job.To, job.Body, gateway.Attribution{
		LandlordPhone: job.LandlordPhone,
		VendorPhone:   job.VendorPhone,
		SenderRole:    string(job.SenderRole),
		WorkOrderID:   job.WorkOrderID,
	})
	if err != nil {
		prom.IncForwardResult("retry_failed")
		logger.Error("Forward retry failed", "forward_id", job.ID, "error", err)
		if markErr := p.idempotency.MarkFailed(ctx, dc, err); markErr != nil {
			logger.Error("Failed to mark forward failure", "forward_id", job.ID, "error", markErr)
		}
		return err
	}

	prom.IncForwardResult("retry_sent")

	var deliveryID *string
	if resp != nil && resp.ID != "" {
		id := resp.ID
		deliveryID = &id
	}

	_, err = p.ledger.Append(ctx, &model.Message{
		DeliveryID:    deliveryID,
		Direction:     model.DirectionOutbound,
		SenderRole:    job.SenderRole,
		LandlordPhone: job.LandlordPhone,
		VendorPhone:   job.VendorPhone,
		Body:          job.Body,
		WorkOrderID:   job.WorkOrderID,
	})
	if err != nil {
		// message is out the door; a ledger hiccup must not trigger a re-send
		logger.Error("Failed to record retried forward", "forward_id", job.ID, "error", err)
	}

	if markErr := p.idempotency.MarkDelivered(ctx, dc); markErr != nil {
		logger.Error("Failed to mark forward delivered", "forward_id", job.ID, "error", markErr)
	}

	return nil
}
