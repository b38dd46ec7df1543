package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func testConfig() *Config {
	return &Config{
		ServicePlanID: "plan-1",
		APIToken:      "token-1",
		From:          "15550100999",
		Providers: []ProviderConfig{
			{Name: "primary", URL: "http://primary.invalid"},
			{Name: "backup", URL: "http://backup.invalid"},
		},
		Timeout:                 time.Second,
		MaxRetries:              2,
		RetryDelay:              time.Millisecond,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

func TestProviderMetrics(t *testing.T) {
	metrics := &ProviderMetrics{}

	metrics.RecordSuccess(100)
	metrics.RecordSuccess(200)
	assert.Equal(t, int64(2), metrics.TotalRequests.Load())
	assert.Equal(t, float64(1.0), metrics.SuccessRate())
	assert.Equal(t, int64(200), metrics.LastLatencyMs.Load())

	metrics.RecordFailure()
	assert.Equal(t, int64(3), metrics.TotalRequests.Load())
	assert.Equal(t, int32(1), metrics.ConsecutiveFails.Load())
	assert.InDelta(t, 0.666, metrics.SuccessRate(), 0.01)

	metrics.RecordSuccess(50)
	assert.Equal(t, int32(0), metrics.ConsecutiveFails.Load())
}

func TestProvider_IsAvailable(t *testing.T) {
	provider := NewProvider("test", "http://localhost:8080", &fasthttp.Client{})

	t.Run("fresh provider is available", func(t *testing.T) {
		assert.True(t, provider.IsAvailable())
	})

	t.Run("open circuit is not available", func(t *testing.T) {
		provider.circuitOpenUntil.Store(time.Now().Add(10 * time.Second).Unix())
		assert.False(t, provider.IsAvailable())
	})

	t.Run("expired circuit is available again", func(t *testing.T) {
		provider.circuitOpenUntil.Store(time.Now().Add(-1 * time.Second).Unix())
		assert.True(t, provider.IsAvailable())
	})
}

func TestNewClient_Validation(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.Error(t, err)
	})

	t.Run("missing credentials", func(t *testing.T) {
		cfg := testConfig()
		cfg.APIToken = ""
		_, err := NewClient(cfg)
		assert.ErrorIs(t, err, ErrMisconfigured)
	})

	t.Run("no providers", func(t *testing.T) {
		cfg := testConfig()
		cfg.Providers = nil
		_, err := NewClient(cfg)
		assert.Error(t, err)
	})

	t.Run("defaults applied", func(t *testing.T) {
		cfg := testConfig()
		cfg.Timeout = 0
		cfg.CircuitBreakerThreshold = 0
		client, err := NewClient(cfg)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, client.config.Timeout)
		assert.Equal(t, 5, client.config.CircuitBreakerThreshold)
	})
}

func TestClient_SelectProvider(t *testing.T) {
	client, err := NewClient(testConfig())
	require.NoError(t, err)

	t.Run("primary wins when available", func(t *testing.T) {
		provider, err := client.selectProvider()
		require.NoError(t, err)
		assert.Equal(t, "primary", provider.name)
	})

	t.Run("falls back to backup when primary circuit is open", func(t *testing.T) {
		client.providers[0].circuitOpenUntil.Store(time.Now().Add(time.Minute).Unix())
		provider, err := client.selectProvider()
		require.NoError(t, err)
		assert.Equal(t, "backup", provider.name)
	})

	t.Run("errors when everything is open", func(t *testing.T) {
		client.providers[1].circuitOpenUntil.Store(time.Now().Add(time.Minute).Unix())
		_, err := client.selectProvider()
		assert.ErrorIs(t, err, ErrNoAvailableProviders)
	})
}

func TestClient_CircuitBreaker(t *testing.T) {
	client, err := NewClient(testConfig())
	require.NoError(t, err)
	provider := client.providers[0]

	for i := 0; i < 2; i++ {
		provider.metrics.RecordFailure()
		client.checkCircuitBreaker(provider)
		assert.True(t, provider.IsAvailable())
	}

	provider.metrics.RecordFailure()
	client.checkCircuitBreaker(provider)
	assert.False(t, provider.IsAvailable())
}

func TestBatchRequest_Shape(t *testing.T) {
	body, err := json.Marshal(&BatchRequest{
		From: "15550100999",
		To:   []string{"15550100200"},
		Body: "Update from vendor",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"15550100999","to":["15550100200"],"body":"Update from vendor"}`, string(body))
}

func TestAttribution_Reference(t *testing.T) {
	woID := "wo-1"
	ref, err := json.Marshal(&Attribution{
		LandlordPhone: "15550100100",
		VendorPhone:   "15550100200",
		SenderRole:    "vendor",
		WorkOrderID:   &woID,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"landlord_phone":"15550100100","vendor_phone":"15550100200","sender_role":"vendor","work_order_id":"wo-1"}`, string(ref))
}

func TestClient_GetProviderStats(t *testing.T) {
	client, err := NewClient(testConfig())
	require.NoError(t, err)

	client.providers[0].metrics.RecordSuccess(42)

	stats := client.GetProviderStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "primary", stats[0].Name)
	assert.Equal(t, int64(1), stats[0].TotalRequests)
	assert.Equal(t, int64(42), stats[0].LastLatencyMs)
	assert.True(t, stats[0].Available)
}
