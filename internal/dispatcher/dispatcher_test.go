package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nicolu0/nexus-relay/internal/gateways"
	"github.com/nicolu0/nexus-relay/internal/model"
	"github.com/nicolu0/nexus-relay/internal/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) IsDuplicate(ctx context.Context, deliveryID string) (bool, error) {
	args := m.Called(ctx, deliveryID)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) RecentDuplicateFromVendor(ctx context.Context, landlordPhone, vendorPhone, body string, window time.Duration) (bool, error) {
	args := m.Called(ctx, landlordPhone, vendorPhone, body, window)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) Append(ctx context.Context, msg *model.Message) (*model.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockLedger) RecentConversation(ctx context.Context, landlordPhone, vendorPhone string, limit int) ([]*model.Message, error) {
	args := m.Called(ctx, landlordPhone, vendorPhone, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Message), args.Error(1)
}

type mockOrders struct {
	mock.Mock
}

func (m *mockOrders) OpenCandidates(ctx context.Context, landlordPhone, vendorPhone string) ([]*model.WorkOrder, error) {
	args := m.Called(ctx, landlordPhone, vendorPhone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WorkOrder), args.Error(1)
}

func (m *mockOrders) AdvanceStatus(ctx context.Context, id string, next model.WorkOrderStatus) (bool, error) {
	args := m.Called(ctx, id, next)
	return args.Bool(0), args.Error(1)
}

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Classify(ctx context.Context, req oracle.Request) (*oracle.Classification, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.Classification), args.Error(1)
}

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

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, job *model.ForwardJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

const (
	landlordRaw  = "+1 (555) 010-0100"
	vendorRaw    = "+1 (555) 010-0200"
	landlordNorm = "15550100100"
	vendorNorm   = "15550100200"
)

type fixture struct {
	ledger     *mockLedger
	orders     *mockOrders
	classifier *mockClassifier
	sender     *mockSender
	queue      *mockQueue
	dispatcher *Dispatcher
}

func newFixture() *fixture {
	f := &fixture{
		ledger:     &mockLedger{},
		orders:     &mockOrders{},
		classifier: &mockClassifier{},
		sender:     &mockSender{},
		queue:      &mockQueue{},
	}
	f.dispatcher = New(Config{
		LandlordPhone: landlordRaw,
		VendorPhone:   vendorRaw,
		RelayFrom:     "15550100999",
	}, f.ledger, f.orders, f.classifier, f.sender, f.queue)
	return f
}

func echoMessage(args mock.Arguments) *model.Message {
	return args.Get(1).(*model.Message)
}

func TestProcess_DeliveryDedup(t *testing.T) {
	f := newFixture()
	f.ledger.On("IsDuplicate", mock.Anything, "d-1").Return(true, nil)

	outcome := f.dispatcher.Process(context.Background(), Inbound{DeliveryID: "d-1", From: vendorRaw, Body: "done"})

	assert.Equal(t, OutcomeDuplicate, outcome)
	f.ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	f.classifier.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_DedupErrorContinues(t *testing.T) {
	f := newFixture()
	f.ledger.On("IsDuplicate", mock.Anything, "d-1").Return(false, errors.New("db down"))
	f.ledger.On("Append", mock.Anything, mock.Anything).Return(&model.Message{ID: 1}, nil)
	f.sender.On("Send", mock.Anything, vendorNorm, mock.Anything, mock.Anything).Return(&gateway.BatchResponse{ID: "b-1"}, nil)

	outcome := f.dispatcher.Process(context.Background(), Inbound{DeliveryID: "d-1", From: landlordRaw, Body: "fix sink"})

	assert.Equal(t, OutcomeOK, outcome)
}

func TestProcess_LandlordPath(t *testing.T) {
	f := newFixture()

	var appended []*model.Message
	f.ledger.On("IsDuplicate", mock.Anything, "d-1").Return(false, nil)
	f.ledger.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		appended = append(appended, echoMessage(args))
	}).Return(&model.Message{ID: 1}, nil)
	f.sender.On("Send", mock.Anything, vendorNorm, "Work request from landlord "+landlordRaw+":\nfix the sink", mock.Anything).
		Return(&gateway.BatchResponse{ID: "batch-1"}, nil)

	outcome := f.dispatcher.Process(context.Background(), Inbound{
		DeliveryID: "d-1",
		From:       landlordRaw,
		Body:       "fix the sink",
	})

	assert.Equal(t, OutcomeOK, outcome)
	f.sender.AssertExpectations(t)
	f.classifier.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)

	require.Len(t, appended, 2)
	assert.Equal(t, model.DirectionInbound, appended[0].Direction)
	assert.Equal(t, model.RoleLandlord, appended[0].SenderRole)
	assert.Equal(t, landlordNorm, appended[0].LandlordPhone)
	assert.Equal(t, model.DirectionOutbound, appended[1].Direction)
	require.NotNil(t, appended[1].DeliveryID)
	assert.Equal(t, "batch-1", *appended[1].DeliveryID)
}

func TestProcess_VendorConfirmation(t *testing.T) {
	f := newFixture()
	woID := "wo-1"

	var appended []*model.Message
	f.ledger.On("IsDuplicate", mock.Anything, "d-2").Return(false, nil)
	f.ledger.On("RecentDuplicateFromVendor", mock.Anything, landlordNorm, vendorNorm, "I can come Friday", mock.Anything).Return(false, nil)
	f.ledger.On("RecentConversation", mock.Anything, landlordNorm, vendorNorm, 10).Return([]*model.Message{}, nil)
	f.ledger.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		appended = append(appended, echoMessage(args))
	}).Return(&model.Message{ID: 1}, nil)
	f.orders.On("OpenCandidates", mock.Anything, landlordNorm, vendorNorm).Return([]*model.WorkOrder{
		{ID: woID, Summary: "sink leak", Status: model.WorkOrderPending},
	}, nil)
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(&oracle.Classification{
		Category:            oracle.CategoryConfirmation,
		Confidence:          0.9,
		WorkOrderID:         &woID,
		WorkOrderConfidence: 0.8,
	}, nil)
	f.orders.On("AdvanceStatus", mock.Anything, woID, model.WorkOrderInProgress).Return(true, nil)

	var sentAttr gateway.Attribution
	f.sender.On("Send", mock.Anything, landlordNorm, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sentAttr = args.Get(3).(gateway.Attribution)
	}).Return(&gateway.BatchResponse{ID: "batch-2"}, nil)

	outcome := f.dispatcher.Process(context.Background(), Inbound{
		DeliveryID: "d-2",
		From:       vendorRaw,
		Body:       "I can come Friday",
	})

	assert.Equal(t, OutcomeOK, outcome)
	f.orders.AssertExpectations(t)

	assert.Equal(t, "vendor", sentAttr.SenderRole)
	require.NotNil(t, sentAttr.WorkOrderID)
	assert.Equal(t, woID, *sentAttr.WorkOrderID)

	// both inbound and outbound rows carry the matched work order id
	require.Len(t, appended, 2)
	require.NotNil(t, appended[0].WorkOrderID)
	assert.Equal(t, woID, *appended[0].WorkOrderID)
	require.NotNil(t, appended[1].WorkOrderID)
	assert.Equal(t, woID, *appended[1].WorkOrderID)
}

func TestProcess_VendorCompletion(t *testing.T) {
	f := newFixture()
	woID := "wo-2"

	f.ledger.On("IsDuplicate", mock.Anything, mock.Anything).Return(false, nil)
	f.ledger.On("RecentDuplicateFromVendor", mock.Anything, landlordNorm, vendorNorm, mock.Anything, mock.Anything).Return(false, nil)
	f.ledger.On("RecentConversation", mock.Anything, landlordNorm, vendorNorm, 10).Return([]*model.Message{}, nil)
	f.ledger.On("Append", mock.Anything, mock.Anything).Return(&model.Message{ID: 1}, nil)
	f.orders.On("OpenCandidates", mock.Anything, landlordNorm, vendorNorm).Return([]*model.WorkOrder{}, nil)
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(&oracle.Classification{
		Category:            oracle.CategoryCompletion,
		Confidence:          0.95,
		WorkOrderID:         &woID,
		WorkOrderConfidence: 0.9,
	}, nil)
	f.orders.On("AdvanceStatus", mock.Anything, woID, model.WorkOrderCompleted).Return(true, nil)
	f.sender.On("Send", mock.Anything, landlordNorm, mock.Anything, mock.Anything).Return(&gateway.BatchResponse{}, nil)

	outcome := f.dispatcher.Process(context.Background(), Inbound{DeliveryID: "d-3", From: vendorRaw, Body: "all fixed"})

	assert.Equal(t, OutcomeOK, outcome)
	f.orders.AssertCalled(t, "AdvanceStatus", mock.Anything, woID, model.WorkOrderCompleted)
}

func TestProcess_VendorBelowThreshold(t *testing.T) {
	f := newFixture()
	woID := "wo-3"

	var appended []*model.Message
	f.ledger.On("IsDuplicate", mock.Anything, mock.Anything).Return(false, nil)
	f.ledger.On("RecentDuplicateFromVendor", mock.Anything, landlordNorm, vendorNorm, mock.Anything, mock.Anything).Return(false, nil)
	f.ledger.On("RecentConversation", mock.Anything, landlordNorm, vendorNorm, 10).Return([]*model.Message{}, nil)
	f.ledger.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		appended = append(appended, echoMessage(args))
	}).Return(&model.Message{ID: 1}, nil)
	f.orders.On("OpenCandidates", mock.Anything, landlordNorm, vendorNorm).Return([]*model.WorkOrder{}, nil)
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(&oracle.Classification{
		Category:            oracle.CategoryCompletion,
		Confidence:          0.9,
		WorkOrderID:         &woID,
		WorkOrderConfidence: 0.4,
	}, nil)
	f.sender.On("Send", mock.Anything, landlordNorm, mock.Anything, mock.Anything).Return(&gateway.BatchResponse{}, nil)

	outcome := f.dispatcher.Process(context.Background(), Inbound{DeliveryID: "d-4", From: vendorRaw, Body: "maybe done?"})

	assert.Equal(t, OutcomeOK, outcome)
	f.orders.AssertNotCalled(t, "AdvanceStatus", mock.Anything, mock.Anything, mock.Anything)
	require.NotEmpty(t, appended)
	assert.Nil(t, appended[0].WorkOrderID)
}

func TestProcess_VendorOtherKeepsMatchWithoutTransition(t *testing.T) {
	f := newFixture()
	woID := "wo-4"

	var appended []*model.Message
	f.ledger.On("IsDuplicate", mock.Anything, mock.Anything).Return(false, nil)
	f.ledger.On("RecentDuplicateFromVendor", mock.Anything, landlordNorm, vendorNorm, mock.Anything, mock.Anything).Return(false, nil)
	f.ledger.On("RecentConversation", mock.Anything, landlordNorm, vendorNorm, 10).Return([]*model.Message{}, nil)
	f.ledger.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		appended = append(appended, echoMessage(args))
	}).Return(&model.Message{ID: 1}, nil)
	f.orders.On("OpenCandidates", mock.Anything, landlordNorm, vendorNorm).Return([]*model.WorkOrder{}, nil)
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(&oracle.Classification{
		Category:            oracle.CategoryOther,
		Confidence:          0.6,
		WorkOrderID:         &woID,
		WorkOrderConfidence: 0.7,
	}, nil)
	f.sender.On("Send", mock.Anything, landlordNorm, mock.Anything, mock.Anything).Return(&gateway.BatchResponse{}, nil)

	outcome := f.dispatcher.Process(context.Background(), Inbound{DeliveryID: "d-5", From: vendorRaw, Body: "what is the unit number?"})

	assert.Equal(t, OutcomeOK, outcome)
	f.orders.AssertNotCalled(t, "AdvanceStatus", mock.Anything, mock.Anything, mock.Anything)
	require.NotEmpty(t, appended)
	require.NotNil(t, appended[0].WorkOrderID)
	assert.Equal(t, woID, *appended[0].WorkOrderID)
}

func TestProcess_VendorContentDedup(t *testing.T) {
	f := newFixture()
	f.ledger.On("IsDuplicate", mock.Anything, mock.Anything).Return(false, nil)
	f.ledger.On("RecentDuplicateFromVendor", mock.Anything, landlordNorm, vendorNorm, "done", mock.Anything).Return(true, nil)

	outcome := f.dispatcher.Process(context.Background(), Inbound{DeliveryID: "d-6", From: vendorRaw, Body: "done"})

	assert.Equal(t, OutcomeDuplicateRecent, outcome)
	f.classifier.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
	f.ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_ClassifierErrorStillForwards(t *testing.T) {
	f := newFixture()

	f.ledger.On("IsDuplicate", mock.Anything, mock.Anything).Return(false, nil)
	f.ledger.On("RecentDuplicateFromVendor", mock.Anything, landlordNorm, vendorNorm, mock.Anything, mock.Anything).Return(false, nil)
	f.ledger.On("RecentConversation", mock.Anything, landlordNorm, vendorNorm, 10).Return([]*model.Message{}, nil)
	f.ledger.On("Append", mock.Anything, mock.Anything).Return(&model.Message{ID: 1}, nil)
	f.orders.On("OpenCandidates", mock.Anything, landlordNorm, vendorNorm).Return([]*model.WorkOrder{}, nil)
	f.classifier.On("Classify", mock.Anything, mock.Anything).Return(nil, errors.New("model unavailable"))
	f.sender.On("Send", mock.Anything, landlordNorm, mock.Anything, mock.Anything).Return(&gateway.BatchResponse{}, nil)

	outcome := f.dispatcher.Process(context.Background(), Inbound{DeliveryID: "d-7", From: vendorRaw, Body: "on my way"})

	assert.Equal(t, OutcomeOK, outcome)
	f.sender.AssertExpectations(t)
	f.orders.AssertNotCalled(t, "AdvanceStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_MisconfiguredLogsOnly(t *testing.T) {
	f := newFixture()
	f.dispatcher = New(Config{VendorPhone: vendorRaw}, f.ledger, f.orders, f.classifier, f.sender, f.queue)

	var appended []*model.Message
	f.ledger.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		appended = append(appended, echoMessage(args))
	}).Return(&model.Message{ID: 1}, nil)

	outcome := f.dispatcher.Process(context.Background(), Inbound{From: landlordRaw, Body: "hello"})

	assert.Equal(t, OutcomeOK, outcome)
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	require.Len(t, appended, 1)
	assert.Equal(t, model.RoleSystem, appended[0].SenderRole)
}

func TestProcess_UnknownSenderLogsAsSystem(t *testing.T) {
	f := newFixture()

	var appended []*model.Message
	f.ledger.On("Append", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		appended = append(appended, echoMessage(args))
	}).Return(&model.Message{ID: 1}, nil)

	outcome := f.dispatcher.Process(context.Background(), Inbound{From: "+1 555 999 8888", Body: "wrong number"})

	assert.Equal(t, OutcomeOK, outcome)
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	require.Len(t, appended, 1)
	assert.Equal(t, model.RoleSystem, appended[0].SenderRole)
}

func TestProcess_OwnNumberEchoIgnored(t *testing.T) {
	f := newFixture()

	outcome := f.dispatcher.Process(context.Background(), Inbound{From: "+1 555 010 0999", Body: "Update from vendor ..."})

	assert.Equal(t, OutcomeOK, outcome)
	f.ledger.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_SendFailureEnqueuesRetry(t *testing.T) {
	f := newFixture()

	f.ledger.On("IsDuplicate", mock.Anything, mock.Anything).Return(false, nil)
	f.ledger.On("Append", mock.Anything, mock.Anything).Return(&model.Message{ID: 1}, nil)
	f.sender.On("Send", mock.Anything, vendorNorm, mock.Anything, mock.Anything).Return(nil, errors.New("provider down"))

	var job *model.ForwardJob
	f.queue.On("Enqueue", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		job = args.Get(1).(*model.ForwardJob)
	}).Return(nil)

	outcome := f.dispatcher.Process(context.Background(), Inbound{DeliveryID: "d-8", From: landlordRaw, Body: "fix the door"})

	assert.Equal(t, OutcomeOK, outcome)
	f.queue.AssertExpectations(t)
	require.NotNil(t, job)
	assert.Equal(t, vendorNorm, job.To)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.RoleLandlord, job.SenderRole)
}
