package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nicolu0/nexus-relay/internal/gateways"
	"github.com/nicolu0/nexus-relay/internal/model"
	"github.com/nicolu0/nexus-relay/internal/phone"
)

var (
	ErrEmptyBody        = fmt.Errorf("message body cannot be empty")
	ErrInvalidRecipient = fmt.Errorf("recipient must be the landlord or the vendor")
	ErrNoSender         = errors.New("no outbound sender configured")
)

type MessageRepository interface {
	Append(ctx context.Context, msg *model.Message) (*model.Message, error)
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) // results, totalCount
	RecentConversation(ctx context.Context, landlordPhone, vendorPhone string, limit int) ([]*model.Message, error)
}

type Sender interface {
	Send(ctx context.Context, to, body string, attr gateway.Attribution) (*gateway.BatchResponse, error)
}

// MessageService is the read/manual-send surface over the ledger. The
// dispatcher owns inbound writes; this service only lists conversations
// and lets an operator push a manual outbound message.
type MessageService struct {
	messageRepo   MessageRepository
	sender        Sender
	landlordPhone string
	vendorPhone   string
}

func NewMessageService(messageRepo MessageRepository, sender Sender, landlordPhone, vendorPhone string) *MessageService {
	return &MessageService{
		messageRepo:   messageRepo,
		sender:        sender,
		landlordPhone: phone.Normalize(landlordPhone),
		vendorPhone:   phone.Normalize(vendorPhone),
	}
}

func (s *MessageService) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	return s.messageRepo.List(ctx, f)
}

// Conversation returns the last messages of the landlord/vendor thread,
// oldest first.
func (s *MessageService) Conversation(ctx context.Context, limit int) ([]*model.Message, error) {
	return s.messageRepo.RecentConversation(ctx, s.landlordPhone, s.vendorPhone, limit)
}

// SendRequest is a manual outbound message from the operator surface.
type SendRequest struct {
	To          string  `json:"to"`
	Body        string  `json:"body"`
	WorkOrderID *string `json:"work_order_id,omitempty"`
}

// Send pushes one manual outbound SMS to the landlord or the vendor and
// records it in the ledger as a system message.
func (s *MessageService) Send(ctx context.Context, req SendRequest) (*model.Message, error) {
	if s.sender == nil {
		return nil, ErrNoSender
	}

	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, ErrEmptyBody
	}

	toNorm := phone.Normalize(req.To)
	if toNorm == "" || (toNorm != s.landlordPhone && toNorm != s.vendorPhone) {
		return nil, ErrInvalidRecipient
	}

	resp, err := s.sender.Send(ctx, toNorm, body, gateway.Attribution{
		LandlordPhone: s.landlordPhone,
		VendorPhone:   s.vendorPhone,
		SenderRole:    string(model.RoleSystem),
		WorkOrderID:   req.WorkOrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	var deliveryID *string
	if resp != nil && resp.ID != "" {
		id := resp.ID
		deliveryID = &id
	}

	return s.messageRepo.Append(ctx, &model.Message{
		DeliveryID:    deliveryID,
		Direction:     model.DirectionOutbound,
		SenderRole:    model.RoleSystem,
		LandlordPhone: s.landlordPhone,
		VendorPhone:   s.vendorPhone,
		Body:          body,
		WorkOrderID:   req.WorkOrderID,
	})
}
