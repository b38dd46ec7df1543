// Package gateway is the outbound SMS client. It speaks the Sinch-style
// batches API against an ordered list of provider endpoints (primary
// first, backup after), with per-provider circuit breaking so a dead
// endpoint is skipped instead of retried into.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicolu0/nexus-relay/pkg/logger"
	"github.com/valyala/fasthttp"
)

var (
	ErrNoAvailableProviders = errors.New("no available providers")
	ErrMisconfigured        = errors.New("gateway is missing service plan, token or from number")
)

// BatchRequest is the batches API send payload.
type BatchRequest struct {
	From            string   `json:"from"`
	To              []string `json:"to"`
	Body            string   `json:"body"`
	ClientReference string   `json:"client_reference,omitempty"`
}

// Attribution identifies the conversation an outbound message belongs to.
// It rides along as the batch client reference so a delivery can be traced
// back to its sender role and work order.
type Attribution struct {
	LandlordPhone string  `json:"landlord_phone"`
	VendorPhone   string  `json:"vendor_phone"`
	SenderRole    string  `json:"sender_role"`
	WorkOrderID   *string `json:"work_order_id"`
}

// BatchResponse is the subset of the batches API reply the relay uses.
type BatchResponse struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	Canceled   bool      `json:"canceled,omitempty"`
	ProviderID string    `json:"-"`
}

type ProviderMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	LastLatencyMs    atomic.Int64
	ConsecutiveFails atomic.Int32
	LastSuccessTime  atomic.Int64
	LastErrorTime    atomic.Int64
}

func (m *ProviderMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.LastLatencyMs.Store(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())
}

func (m *ProviderMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}

func (m *ProviderMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

type Provider struct {
	name             string
	url              string
	client           *fasthttp.Client
	metrics          *ProviderMetrics
	circuitOpenUntil atomic.Int64
}

func NewProvider(name, url string, client *fasthttp.Client) *Provider {
	return &Provider{
		name:    name,
		url:     url,
		client:  client,
		metrics: &ProviderMetrics{},
	}
}

// IsAvailable reports whether the provider may receive traffic. An open
// circuit closes itself once its deadline passes.
func (p *Provider) IsAvailable() bool {
	openUntil := p.circuitOpenUntil.Load()
	return openUntil == 0 || time.Now().Unix() > openUntil
}

type ProviderConfig struct {
	Name string
	URL  string
}

type Config struct {
	ServicePlanID string
	APIToken      string
	From          string

	// Providers are tried in order; the first available one wins.
	Providers []ProviderConfig

	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 64
	}
	if c.CircuitBreakerThreshold <= 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerTimeout <= 0 {
		c.CircuitBreakerTimeout = 30 * time.Second
	}
}

type Client struct {
	config    *Config
	providers []*Provider
	mu        sync.RWMutex
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.ServicePlanID == "" || config.APIToken == "" || config.From == "" {
		return nil, ErrMisconfigured
	}
	if len(config.Providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	config.applyDefaults()

	client := &Client{
		config:    config,
		providers: make([]*Provider, 0, len(config.Providers)),
	}

	for _, pc := range config.Providers {
		httpClient := &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		}
		client.providers = append(client.providers, NewProvider(pc.Name, pc.URL, httpClient))
		logger.Info("SMS provider initialized", "name", pc.Name, "url", pc.URL)
	}

	logger.Info("Relay gateway initialized", "providers", len(client.providers), "timeout", config.Timeout)

	return client, nil
}

// selectProvider returns the first available provider in configured order.
func (c *Client) selectProvider() (*Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, provider := range c.providers {
		if provider.IsAvailable() {
			return provider, nil
		}
	}
	return nil, ErrNoAvailableProviders
}

// Send submits one SMS batch with a single recipient. Failed attempts
// rotate through providers until retries are exhausted.
func (c *Client) Send(ctx context.Context, to, body string, attr Attribution) (*BatchResponse, error) {
	clientRef, _ := json.Marshal(attr)
	reqBody, err := json.Marshal(&BatchRequest{
		From:            c.config.From,
		To:              []string{to},
		Body:            body,
		ClientReference: string(clientRef),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	path := "/v1/" + c.config.ServicePlanID + "/batches"

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		provider, err := c.selectProvider()
		if err != nil {
			lastErr = err
			continue
		}

		startTime := time.Now()
		response, err := c.doRequest(ctx, provider, path, reqBody)
		latency := time.Since(startTime).Milliseconds()

		if err != nil {
			provider.metrics.RecordFailure()
			c.checkCircuitBreaker(provider)
			logger.Warn("Send failed, retrying", "error", err, "provider", provider.name, "attempt", attempt+1)
			lastErr = err
			continue
		}

		provider.metrics.RecordSuccess(latency)

		var resp BatchResponse
		if err := json.Unmarshal(response, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal batch response: %w", err)
		}
		resp.ProviderID = provider.name

		logger.Info("SMS forwarded", "batch_id", resp.ID, "provider", provider.name, "latency_ms", latency, "sender_role", attr.SenderRole)

		return &resp, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) doRequest(ctx context.Context, provider *Provider, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(provider.url + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := provider.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusCreated && statusCode != fasthttp.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, nil
}

func (c *Client) checkCircuitBreaker(provider *Provider) {
	consecutiveFails := provider.metrics.ConsecutiveFails.Load()
	if consecutiveFails >= int32(c.config.CircuitBreakerThreshold) {
		openUntil := time.Now().Add(c.config.CircuitBreakerTimeout).Unix()
		provider.circuitOpenUntil.Store(openUntil)

		logger.Warn("Circuit breaker opened", "provider", provider.name, "consecutive_fails", consecutiveFails, "timeout", c.config.CircuitBreakerTimeout)
	}
}

// ProviderStats is a read-only snapshot for the config/health surfaces.
type ProviderStats struct {
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	Available        bool    `json:"available"`
	TotalRequests    int64   `json:"total_requests"`
	SuccessfulReqs   int64   `json:"successful_requests"`
	FailedReqs       int64   `json:"failed_requests"`
	SuccessRate      float64 `json:"success_rate"`
	LastLatencyMs    int64   `json:"last_latency_ms"`
	ConsecutiveFails int32   `json:"consecutive_fails"`
}

func (c *Client) GetProviderStats() []ProviderStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]ProviderStats, 0, len(c.providers))
	for _, provider := range c.providers {
		stats = append(stats, ProviderStats{
			Name:             provider.name,
			URL:              provider.url,
			Available:        provider.IsAvailable(),
			TotalRequests:    provider.metrics.TotalRequests.Load(),
			SuccessfulReqs:   provider.metrics.SuccessfulReqs.Load(),
			FailedReqs:       provider.metrics.FailedReqs.Load(),
			SuccessRate:      provider.metrics.SuccessRate(),
			LastLatencyMs:    provider.metrics.LastLatencyMs.Load(),
			ConsecutiveFails: provider.metrics.ConsecutiveFails.Load(),
		})
	}
	return stats
}

func (c *Client) Close() error {
	logger.Info("Relay gateway closed")
	return nil
}
