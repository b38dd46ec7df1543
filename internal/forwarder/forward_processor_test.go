package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nicolu0/nexus-relay/internal/gateways"
	"github.com/nicolu0/nexus-relay/internal/model"
	"github.com/nicolu0/nexus-relay/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, to, body string, attr gateway.Attribution) (*gateway.BatchResponse, error) {
	args := m.Called(ctx, to, body, attr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.BatchResponse), args.Error(1)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Append(ctx context.Context, msg *model.Message) (*model.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func queueMessage(t *testing.T, job *model.ForwardJob) *queue.Message {
	t.Helper()
	data, err := json.Marshal(job)
	require.NoError(t, err)
	return &queue.Message{ID: "stream-1", Data: data}
}

func newProcessor(t *testing.T) (*ForwardProcessor, *mockSender, *mockLedger, *IdempotencyService) {
	mr, adapter := setupTestRedis(t)
	t.Cleanup(mr.Close)

	sender := &mockSender{}
	ledger := &mockLedger{}
	idem := NewIdempotencyService(adapter, DefaultIdempotencyConfig())
	return NewForwardProcessor(sender, ledger, idem), sender, ledger, idem
}

func TestForwardProcessor_Delivers(t *testing.T) {
	p, sender, ledger, idem := newProcessor(t)
	ctx := context.Background()

	woID := "wo-1"
	job := &model.ForwardJob{
		ID:            "fw-1",
		To:            "15550100100",
		Body:          "Update from vendor:\nall fixed",
		SenderRole:    model.RoleVendor,
		LandlordPhone: "15550100100",
		VendorPhone:   "15550100200",
		WorkOrderID:   &woID,
	}

	sender.On("Send", mock.Anything, job.To, job.Body, mock.Anything).Return(&gateway.BatchResponse{ID: "batch-9"}, nil)

	var recorded *model.Message
	ledger.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		recorded = args.Get(1).(*model.Message)
	}).Return(&model.Message{ID: 7}, nil)

	err := p.Process(ctx, queueMessage(t, job))
	require.NoError(t, err)

	sender.AssertExpectations(t)
	require.NotNil(t, recorded)
	assert.Equal(t, model.DirectionOutbound, recorded.Direction)
	assert.Equal(t, model.RoleVendor, recorded.SenderRole)
	require.NotNil(t, recorded.DeliveryID)
	assert.Equal(t, "batch-9", *recorded.DeliveryID)
	require.NotNil(t, recorded.WorkOrderID)
	assert.Equal(t, woID, *recorded.WorkOrderID)

	delivered, err := idem.IsDelivered(ctx, "fw-1")
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestForwardProcessor_RedeliveryIsNoop(t *testing.T) {
	p, sender, ledger, _ := newProcessor(t)
	ctx := context.Background()

	job := &model.ForwardJob{ID: "fw-2", To: "15550100100", Body: "hi"}

	sender.On("Send", mock.Anything, job.To, job.Body, mock.Anything).Return(&gateway.BatchResponse{ID: "b-1"}, nil).Once()
	ledger.On("Append", mock.Anything, mock.Anything).Return(&model.Message{ID: 1}, nil)

	require.NoError(t, p.Process(ctx, queueMessage(t, job)))
	require.NoError(t, p.Process(ctx, queueMessage(t, job)))

	sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestForwardProcessor_SendFailureNacks(t *testing.T) {
	p, sender, ledger, idem := newProcessor(t)
	ctx := context.Background()

	job := &model.ForwardJob{ID: "fw-3", To: "15550100100", Body: "hi"}

	sender.On("Send", mock.Anything, job.To, job.Body, mock.Anything).Return(nil, errors.New("provider down"))

	err := p.Process(ctx, queueMessage(t, job))
	assert.Error(t, err)
	ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)

	count, err := idem.GetRetryCount(ctx, "fw-3")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestForwardProcessor_MaxRetriesAcks(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	t.Cleanup(mr.Close)

	cfg := DefaultIdempotencyConfig()
	cfg.MaxRetries = 1
	idem := NewIdempotencyService(adapter, cfg)
	sender := &mockSender{}
	ledger := &mockLedger{}
	p := NewForwardProcessor(sender, ledger, idem)
	ctx := context.Background()

	job := &model.ForwardJob{ID: "fw-4", To: "15550100100", Body: "hi"}
	sender.On("Send", mock.Anything, job.To, job.Body, mock.Anything).Return(nil, errors.New("provider down")).Once()

	// first attempt fails and burns the only retry
	assert.Error(t, p.Process(ctx, queueMessage(t, job)))

	// second attempt is abandoned with an ack so the queue moves on
	assert.NoError(t, p.Process(ctx, queueMessage(t, job)))
	sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestForwardProcessor_MalformedPayload(t *testing.T) {
	p, sender, _, _ := newProcessor(t)

	err := p.Process(context.Background(), &queue.Message{ID: "s-1", Data: []byte("not json")})
	assert.Error(t, err)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestForwardProcessor_MissingFieldsAcked(t *testing.T) {
	p, sender, _, _ := newProcessor(t)

	err := p.Process(context.Background(), queueMessage(t, &model.ForwardJob{Body: "no id or recipient"}))
	assert.NoError(t, err)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
