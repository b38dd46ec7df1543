package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nicolu0/nexus-relay/internal/dispatcher"
	xhttp "github.com/nicolu0/nexus-relay/pkg/http"
)

type InboundDispatcher interface {
	Process(ctx context.Context, in dispatcher.Inbound) dispatcher.Outcome
}

// InboundHandler receives provider webhook callbacks for incoming SMS.
type InboundHandler struct {
	disp InboundDispatcher
}

func RegisterInboundRoutes(e *router.Group, h *InboundHandler) {
	e.POST("/sms/incoming", h.ReceiveSMS)
}

func NewInboundHandler(disp InboundDispatcher) *InboundHandler {
	return &InboundHandler{disp: disp}
}

type inboundResponse struct {
	Status string `json:"status"`
}

// ReceiveSMS is the webhook endpoint. Malformed JSON is the only client
// error; every processed message answers 200 so the provider never retries
// a delivery we already decided on.
func (h *InboundHandler) ReceiveSMS(ctx *xhttp.RequestCtx) {
	var in dispatcher.Inbound
	if err := readJSON(ctx, &in); err != nil {
		writeError(ctx, 400, "Invalid JSON payload")
		return
	}

	outcome := h.disp.Process(ctx, in)
	writeJSON(ctx, 200, inboundResponse{Status: string(outcome)})
}
