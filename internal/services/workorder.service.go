package services

import (
	"context"
	"errors"

	"github.com/nicolu0/nexus-relay/internal/model"
)

var (
	ErrWorkOrderNotFound = errors.New("work order not found")
	ErrInvalidStatus     = errors.New("invalid work order status")
	ErrAlreadyTerminal   = errors.New("work order is completed and cannot change")
)

type WorkOrderRepository interface {
	Upsert(ctx context.Context, req model.WorkOrderUpsertRequest) (*model.WorkOrder, error)
	AdvanceStatus(ctx context.Context, id string, next model.WorkOrderStatus) (bool, error)
	Get(ctx context.Context, id string) (*model.WorkOrder, error)
	List(ctx context.Context, f model.WorkOrderFilter) ([]*model.WorkOrder, int64, error)
	OpenCandidates(ctx context.Context, landlordPhone, vendorPhone string) ([]*model.WorkOrder, error)
}

type WorkOrderService struct {
	repo WorkOrderRepository
}

func NewWorkOrderService(repo WorkOrderRepository) *WorkOrderService {
	return &WorkOrderService{repo: repo}
}

// Approve accepts a suggested work order from the email intake. Keyed by
// email thread: re-approving the same thread updates in place.
func (s *WorkOrderService) Approve(ctx context.Context, req model.WorkOrderUpsertRequest) (*model.WorkOrder, error) {
	if req.Status == "" {
		req.Status = model.WorkOrderPending
	}
	return s.repo.Upsert(ctx, req)
}

// UpdateStatus manually advances a work order. The completed state stays
// terminal even for manual writes.
func (s *WorkOrderService) UpdateStatus(ctx context.Context, id string, next model.WorkOrderStatus) (*model.WorkOrder, error) {
	if !next.Valid() {
		return nil, ErrInvalidStatus
	}

	changed, err := s.repo.AdvanceStatus(ctx, id, next)
	if err != nil {
		return nil, err
	}
	if !changed {
		// distinguish a missing row from a terminal one
		wo, getErr := s.repo.Get(ctx, id)
		if getErr != nil {
			return nil, ErrWorkOrderNotFound
		}
		if wo.Status == model.WorkOrderCompleted {
			return nil, ErrAlreadyTerminal
		}
		return nil, ErrWorkOrderNotFound
	}

	return s.repo.Get(ctx, id)
}

func (s *WorkOrderService) Get(ctx context.Context, id string) (*model.WorkOrder, error) {
	return s.repo.Get(ctx, id)
}

func (s *WorkOrderService) List(ctx context.Context, f model.WorkOrderFilter) ([]*model.WorkOrder, int64, error) {
	return s.repo.List(ctx, f)
}
