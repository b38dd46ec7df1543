package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/nicolu0/nexus-relay/internal/model"
	"github.com/nicolu0/nexus-relay/internal/services"
	xhttp "github.com/nicolu0/nexus-relay/pkg/http"
)

type MessageService interface {
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error)
	Conversation(ctx context.Context, limit int) ([]*model.Message, error)
	Send(ctx context.Context, req services.SendRequest) (*model.Message, error)
}
type MessageHandler struct {
	svc MessageService
}

func RegisterMessageRoutes(e *router.Group, h *MessageHandler) {
	e.GET("/messages", h.ListMessages)
	e.GET("/messages/conversation", h.GetConversation)
	e.POST("/messages", h.SendMessage)
}

func NewMessageHandler(messageService MessageService) *MessageHandler {
	return &MessageHandler{
		svc: messageService,
	}
}

type listResponse struct {
	Items []*model.Message `json:"items"`
	Total int64            `json:"total"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *MessageHandler) ListMessages(ctx *xhttp.RequestCtx) {
	var f model.MessageFilter

	if v := query(ctx, "landlord_phone"); v != "" {
		f.LandlordPhone = &v
	}
	if v := query(ctx, "vendor_phone"); v != "" {
		f.VendorPhone = &v
	}
	if v := query(ctx, "direction"); v != "" {
		d := model.Direction(v)
		f.Direction = &d
	}
	if v := query(ctx, "sender_role"); v != "" {
		r := model.SenderRole(v)
		f.SenderRole = &r
	}
	if v := query(ctx, "work_order_id"); v != "" {
		f.WorkOrderID = &v
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, listResponse{Items: items, Total: total})
}

func (h *MessageHandler) GetConversation(ctx *xhttp.RequestCtx) {
	limit := 0
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			limit = n
		}
	}

	items, err := h.svc.Conversation(ctx, limit)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, listResponse{Items: items, Total: int64(len(items))})
}

func (h *MessageHandler) SendMessage(ctx *xhttp.RequestCtx) {
	var req services.SendRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	msg, err := h.svc.Send(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyBody), errors.Is(err, services.ErrInvalidRecipient):
			writeError(ctx, 400, err.Error())
		case errors.Is(err, services.ErrNoSender):
			writeError(ctx, 503, err.Error())
		default:
			writeError(ctx, 502, err.Error())
		}
		return
	}
	writeJSON(ctx, 201, msg)
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func param(ctx *xhttp.RequestCtx, name string) string {
	if v, ok := ctx.UserValue(name).(string); ok {
		return v
	}
	return ""
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
