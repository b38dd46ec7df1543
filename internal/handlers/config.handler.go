package handlers

import (
	"github.com/fasthttp/router"
	"github.com/nicolu0/nexus-relay/internal/config"
	"github.com/nicolu0/nexus-relay/internal/gateways"
	"github.com/nicolu0/nexus-relay/internal/phone"
	xhttp "github.com/nicolu0/nexus-relay/pkg/http"
)

type ProviderStatser interface {
	GetProviderStats() []gateway.ProviderStats
}

// ConfigHandler exposes the routing configuration the relay is running
// with, for operator debugging. Secrets are never included.
type ConfigHandler struct {
	stats ProviderStatser
}

func RegisterConfigRoutes(e *router.Group, h *ConfigHandler) {
	e.GET("/config", h.GetConfig)
}

func NewConfigHandler(stats ProviderStatser) *ConfigHandler {
	return &ConfigHandler{stats: stats}
}

type configResponse struct {
	AppEnv            string                  `json:"app_env"`
	LandlordPhone     string                  `json:"landlord_phone"`
	VendorPhone       string                  `json:"vendor_phone"`
	RelayFrom         string                  `json:"relay_from"`
	RoutingConfigured bool                    `json:"routing_configured"`
	ClassifierModel   string                  `json:"classifier_model"`
	MatchThreshold    float64                 `json:"match_threshold"`
	ConversationLimit int                     `json:"conversation_limit"`
	DuplicateWindowMs int64                   `json:"duplicate_window_ms"`
	Providers         []gateway.ProviderStats `json:"providers"`
}

func (h *ConfigHandler) GetConfig(ctx *xhttp.RequestCtx) {
	c := config.Get()

	landlord := phone.Normalize(c.LandlordPhoneNumber)
	vendor := phone.Normalize(c.VendorPhoneNumber)

	resp := configResponse{
		AppEnv:            c.AppEnv,
		LandlordPhone:     landlord,
		VendorPhone:       vendor,
		RelayFrom:         phone.Normalize(c.RelayFromNumber),
		RoutingConfigured: landlord != "" && vendor != "",
		ClassifierModel:   c.ClassifierModel,
		MatchThreshold:    c.MatchThresholdOrDefault(),
		ConversationLimit: c.ConversationLimitOrDefault(),
		DuplicateWindowMs: c.DuplicateWindowOrDefault().Milliseconds(),
	}
	if h.stats != nil {
		resp.Providers = h.stats.GetProviderStats()
	}

	writeJSON(ctx, 200, resp)
}
