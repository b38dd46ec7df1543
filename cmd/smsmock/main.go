package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// BatchRequest mirrors the provider's batches API payload.
type BatchRequest struct {
	From string   `json:"from" binding:"required"`
	To   []string `json:"to" binding:"required"`
	Body string   `json:"body" binding:"required"`
}

// BatchResponse mirrors the provider's batches API response.
type BatchResponse struct {
	ID        string    `json:"id"`
	To        []string  `json:"to"`
	From      string    `json:"from"`
	Body      string    `json:"body"`
	Canceled  bool      `json:"canceled"`
	CreatedAt time.Time `json:"created_at"`
}

// InboundEvent is the webhook payload the mock pushes at the relay when an
// incoming SMS is simulated.
type InboundEvent struct {
	DeliveryID string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status       string    `json:"status"`
	ProviderID   string    `json:"provider_id"`
	Timestamp    time.Time `json:"timestamp"`
	DeliveryRate float64   `json:"delivery_rate"`
}

// MockProvider simulates a Sinch-style SMS REST API.
type MockProvider struct {
	deliveryRate float64
	minDelay     time.Duration
	maxDelay     time.Duration
	providerID   string
	webhookURL   string
	rng          *rand.Rand

	mu      sync.Mutex
	batches map[string]*BatchResponse
}

func NewMockProvider(deliveryRate float64, minDelay, maxDelay time.Duration, webhookURL string) *MockProvider {
	return &MockProvider{
		deliveryRate: deliveryRate,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
		providerID:   "MOCK_PROVIDER_" + uuid.New().String()[:8],
		webhookURL:   webhookURL,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		batches:      make(map[string]*BatchResponse),
	}
}

func (m *MockProvider) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockProvider) shouldSucceed() bool {
	return m.rng.Float64() < m.deliveryRate
}

// acceptBatch simulates the provider accepting one outbound batch.
func (m *MockProvider) acceptBatch(req *BatchRequest) (*BatchResponse, bool) {
	time.Sleep(m.randomDelay())

	if !m.shouldSucceed() {
		log.Warn().
			Str("from", req.From).
			Strs("to", req.To).
			Msg("Simulated provider rejection")
		return nil, false
	}

	resp := &BatchResponse{
		ID:        "01" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:24],
		To:        req.To,
		From:      req.From,
		Body:      req.Body,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.batches[resp.ID] = resp
	m.mu.Unlock()

	log.Info().
		Str("batch_id", resp.ID).
		Strs("to", req.To).
		Msg("Batch accepted")

	return resp, true
}

func (m *MockProvider) getBatch(id string) *BatchResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches[id]
}

// pushInbound delivers a simulated incoming SMS to the relay webhook.
func (m *MockProvider) pushInbound(event *InboundEvent) error {
	if m.webhookURL == "" {
		return fmt.Errorf("RELAY_WEBHOOK_URL is not configured")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	resp, err := http.Post(m.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	log.Info().
		Str("delivery_id", event.DeliveryID).
		Str("from", event.From).
		Int("status", resp.StatusCode).
		Msg("Inbound event pushed to relay")
	return nil
}

// Handler struct holds the mock provider and routes
type Handler struct {
	provider *MockProvider
}

func NewHandler(provider *MockProvider) *Handler {
	return &Handler{provider: provider}
}

// SendBatch handles POST /v1/:service_plan_id/batches like the real API.
func (h *Handler) SendBatch(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	log.Info().
		Str("service_plan_id", c.Param("service_plan_id")).
		Strs("to", req.To).
		Msg("Received batch send request")

	resp, ok := h.provider.acceptBatch(&req)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "provider temporarily unavailable"})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetBatch handles GET /v1/:service_plan_id/batches/:batch_id.
func (h *Handler) GetBatch(c *gin.Context) {
	id := c.Param("batch_id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch_id is required"})
		return
	}

	batch := h.provider.getBatch(id)
	if batch == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	c.JSON(http.StatusOK, batch)
}

// SimulateInbound lets a tester inject an incoming SMS. The mock assigns a
// delivery id and pushes the event at the relay's webhook, exactly like the
// provider would on a real incoming message.
func (h *Handler) SimulateInbound(c *gin.Context) {
	var req struct {
		From string `json:"from" binding:"required"`
		To   string `json:"to" binding:"required"`
		Body string `json:"body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	event := &InboundEvent{
		DeliveryID: uuid.New().String(),
		From:       req.From,
		To:         req.To,
		Body:       req.Body,
		ReceivedAt: time.Now().UTC(),
	}

	if err := h.provider.pushInbound(event); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, event)
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		ProviderID:   h.provider.providerID,
		Timestamp:    time.Now(),
		DeliveryRate: h.provider.deliveryRate,
	})
}

// UpdateConfig allows changing provider behavior at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		DeliveryRate *float64 `json:"delivery_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.DeliveryRate != nil {
		if *config.DeliveryRate >= 0 && *config.DeliveryRate <= 1.0 {
			h.provider.deliveryRate = *config.DeliveryRate
			log.Info().Float64("rate", *config.DeliveryRate).Msg("Updated delivery rate")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Configuration updated",
		"delivery_rate": h.provider.deliveryRate,
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	// Add request logging middleware
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	// Provider-compatible routes
	router.POST("/v1/:service_plan_id/batches", handler.SendBatch)
	router.GET("/v1/:service_plan_id/batches/:batch_id", handler.GetBatch)

	// Test-harness routes
	router.POST("/simulate/inbound", handler.SimulateInbound)
	router.PUT("/config", handler.UpdateConfig)
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Get configuration from environment
	port := getEnv("PORT", "8081")
	deliveryRate := getEnvFloat("DELIVERY_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 500*time.Millisecond)
	webhookURL := getEnv("RELAY_WEBHOOK_URL", "")

	log.Info().
		Str("port", port).
		Float64("delivery_rate", deliveryRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Str("webhook_url", webhookURL).
		Msg("Starting Mock SMS Provider")

	provider := NewMockProvider(deliveryRate, minDelay, maxDelay, webhookURL)
	handler := NewHandler(provider)
	router := SetupRouter(handler)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
