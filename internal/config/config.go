package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nicolu0/nexus-relay/pkg/logger"
	"github.com/pkg/errors"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Config holds every env-derived value the relay uses. Only this struct
// may be used to read configuration; no direct access to env, ini or any
// other config source should be made elsewhere.
type Config struct {
	AppEnv              string `env:"APP_ENV" default:"dev"`
	AppName             string `env:"APP_NAME" default:"nexus_relay"`
	AppDebug            bool   `env:"APP_DEBUG" default:"1"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI"`

	HttpListenAddr            string `env:"HTTP_LISTEN_ADDR" validation:"mustExists"`
	HttpServerReadTimeout     int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout    int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`
	HttpServerReadBufferSize  int    `env:"HTTP_SERVER_READ_BUFFER_SIZE"`
	HttpServerWriteBufferSize int    `env:"HTTP_SERVER_WRITE_BUFFER_SIZE"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	LogLevel []string `env:"LOG_LEVEL"`

	// The two fixed conversation identities. If either is missing the
	// relay still logs inbound messages but routing is disabled.
	LandlordPhoneNumber string `env:"LANDLORD_PHONE_NUMBER"`
	VendorPhoneNumber   string `env:"VENDOR_PHONE_NUMBER"`

	// Outbound SMS provider (Sinch-style batches API).
	RelayFromNumber     string `env:"RELAY_FROM_NUMBER"`
	ProviderServicePlan string `env:"PROVIDER_SERVICE_PLAN_ID"`
	ProviderAPIToken    string `env:"PROVIDER_API_TOKEN"`
	ProviderPrimaryUrl  string `env:"PROVIDER_PRIMARY_URL"`
	ProviderBackupUrl   string `env:"PROVIDER_BACKUP_URL"`

	// Classification oracle.
	AnthropicAPIKey   string  `env:"ANTHROPIC_API_KEY"`
	ClassifierModel   string  `env:"CLASSIFIER_MODEL" default:"claude-haiku-4-5"`
	MatchThreshold    float64 `env:"MATCH_THRESHOLD"`
	ConversationLimit int     `env:"CONVERSATION_LIMIT"`
	DuplicateWindowMs int     `env:"DUPLICATE_WINDOW_MS"`

	QueueName              string        `env:"QUEUE_NAME"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ"`
}

// Matching/dedup defaults applied when the env leaves them unset.
const (
	DefaultMatchThreshold    = 0.5
	DefaultConversationLimit = 10
	DefaultDuplicateWindow   = 10 * time.Second
)

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)

	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// MatchThresholdOrDefault returns the configured work-order match threshold,
// falling back to the design default of 0.5.
func (c *Config) MatchThresholdOrDefault() float64 {
	if c.MatchThreshold <= 0 {
		return DefaultMatchThreshold
	}
	return c.MatchThreshold
}

func (c *Config) ConversationLimitOrDefault() int {
	if c.ConversationLimit <= 0 {
		return DefaultConversationLimit
	}
	return c.ConversationLimit
}

func (c *Config) DuplicateWindowOrDefault() time.Duration {
	if c.DuplicateWindowMs <= 0 {
		return DefaultDuplicateWindow
	}
	return time.Duration(c.DuplicateWindowMs) * time.Millisecond
}
