package services

import (
	"context"
	"errors"
	"testing"

	"github.com/nicolu0/nexus-relay/internal/gateways"
	"github.com/nicolu0/nexus-relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Append(ctx context.Context, msg *model.Message) (*model.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MockMessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Message), args.Get(1).(int64), args.Error(2)
}

func (m *MockMessageRepository) RecentConversation(ctx context.Context, landlordPhone, vendorPhone string, limit int) ([]*model.Message, error) {
	args := m.Called(ctx, landlordPhone, vendorPhone, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Message), args.Error(1)
}

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, to, body string, attr gateway.Attribution) (*gateway.BatchResponse, error) {
	args := m.Called(ctx, to, body, attr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.BatchResponse), args.Error(1)
}

func TestMessageService_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("sends to vendor and records system row", func(t *testing.T) {
		repo := new(MockMessageRepository)
		sender := new(MockSender)
		svc := NewMessageService(repo, sender, "+1 555 010 0100", "+1 555 010 0200")

		sender.On("Send", ctx, "15550100200", "please confirm timing", mock.Anything).
			Return(&gateway.BatchResponse{ID: "batch-1"}, nil)

		var appended *model.Message
		repo.On("Append", ctx, mock.Anything).Run(func(args mock.Arguments) {
			appended = args.Get(1).(*model.Message)
		}).Return(&model.Message{ID: 5}, nil)

		msg, err := svc.Send(ctx, SendRequest{To: "+1 (555) 010-0200", Body: "  please confirm timing  "})
		require.NoError(t, err)
		assert.EqualValues(t, 5, msg.ID)

		require.NotNil(t, appended)
		assert.Equal(t, model.DirectionOutbound, appended.Direction)
		assert.Equal(t, model.RoleSystem, appended.SenderRole)
		require.NotNil(t, appended.DeliveryID)
		assert.Equal(t, "batch-1", *appended.DeliveryID)
	})

	t.Run("rejects empty body", func(t *testing.T) {
		repo := new(MockMessageRepository)
		sender := new(MockSender)
		svc := NewMessageService(repo, sender, "15550100100", "15550100200")

		_, err := svc.Send(ctx, SendRequest{To: "15550100200", Body: "   "})
		assert.ErrorIs(t, err, ErrEmptyBody)
		sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects unknown recipient", func(t *testing.T) {
		repo := new(MockMessageRepository)
		sender := new(MockSender)
		svc := NewMessageService(repo, sender, "15550100100", "15550100200")

		_, err := svc.Send(ctx, SendRequest{To: "15559999999", Body: "hi"})
		assert.ErrorIs(t, err, ErrInvalidRecipient)
	})

	t.Run("surfaces gateway failure", func(t *testing.T) {
		repo := new(MockMessageRepository)
		sender := new(MockSender)
		svc := NewMessageService(repo, sender, "15550100100", "15550100200")

		sender.On("Send", ctx, "15550100100", "hello", mock.Anything).Return(nil, errors.New("provider down"))

		_, err := svc.Send(ctx, SendRequest{To: "15550100100", Body: "hello"})
		assert.Error(t, err)
		repo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	})

	t.Run("nil sender", func(t *testing.T) {
		repo := new(MockMessageRepository)
		svc := NewMessageService(repo, nil, "15550100100", "15550100200")

		_, err := svc.Send(ctx, SendRequest{To: "15550100200", Body: "hi"})
		assert.ErrorIs(t, err, ErrNoSender)
	})
}

func TestMessageService_List(t *testing.T) {
	repo := new(MockMessageRepository)
	svc := NewMessageService(repo, nil, "15550100100", "15550100200")
	ctx := context.Background()

	expected := []*model.Message{{ID: 1}, {ID: 2}}
	repo.On("List", ctx, mock.Anything).Return(expected, int64(2), nil)

	msgs, total, err := svc.List(ctx, model.MessageFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, expected, msgs)
}

func TestMessageService_Conversation(t *testing.T) {
	repo := new(MockMessageRepository)
	svc := NewMessageService(repo, nil, "+1 555 010 0100", "+1 555 010 0200")
	ctx := context.Background()

	repo.On("RecentConversation", ctx, "15550100100", "15550100200", 10).
		Return([]*model.Message{{ID: 1, Body: "hello"}}, nil)

	msgs, err := svc.Conversation(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Body)
}
