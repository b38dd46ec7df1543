package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nicolu0/nexus-relay/internal/config"
	"github.com/nicolu0/nexus-relay/internal/dispatcher"
	"github.com/nicolu0/nexus-relay/internal/forwarder"
	gateway "github.com/nicolu0/nexus-relay/internal/gateways"
	"github.com/nicolu0/nexus-relay/internal/handlers"
	"github.com/nicolu0/nexus-relay/internal/oracle"
	"github.com/nicolu0/nexus-relay/internal/queue"
	"github.com/nicolu0/nexus-relay/internal/repository"
	"github.com/nicolu0/nexus-relay/internal/services"
	xhttp "github.com/nicolu0/nexus-relay/pkg/http"
	"github.com/nicolu0/nexus-relay/pkg/logger"
	"github.com/nicolu0/nexus-relay/pkg/pg"
	"github.com/nicolu0/nexus-relay/pkg/prom"
	"github.com/nicolu0/nexus-relay/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 10))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	retryQ, err := queue.New(redisAdap, queue.Config{
		Name:              config.Get().QueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      config.Get().QueueConsumerName,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating retry queue", "error", err)
		return
	}

	var (
		sender    dispatcher.Sender
		svcSender services.Sender
		stats     handlers.ProviderStatser
	)
	gatewayClient, err := gateway.NewClient(&gateway.Config{
		ServicePlanID: config.Get().ProviderServicePlan,
		APIToken:      config.Get().ProviderAPIToken,
		From:          config.Get().RelayFromNumber,
		Providers: []gateway.ProviderConfig{
			{Name: "primary", URL: config.Get().ProviderPrimaryUrl},
			{Name: "backup", URL: config.Get().ProviderBackupUrl},
		},
		Timeout:                 time.Second * 5,
		MaxRetries:              2,
		RetryDelay:              time.Millisecond * 100,
		MaxConns:                256,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
	})
	if err != nil {
		// routing still works read-only; sends will be rejected
		logger.Warn("outbound gateway not configured", "error", err)
	} else {
		sender = gatewayClient
		svcSender = gatewayClient
		stats = gatewayClient
	}

	classifier := oracle.NewAnthropicClassifier(
		config.Get().AnthropicAPIKey,
		config.Get().ClassifierModel,
	)

	messageRepo := repository.NewMessageRepository(db)
	workOrderRepo := repository.NewWorkOrderRepository(db)

	disp := dispatcher.New(dispatcher.Config{
		LandlordPhone:     config.Get().LandlordPhoneNumber,
		VendorPhone:       config.Get().VendorPhoneNumber,
		RelayFrom:         config.Get().RelayFromNumber,
		MatchThreshold:    config.Get().MatchThresholdOrDefault(),
		ConversationLimit: config.Get().ConversationLimitOrDefault(),
		DuplicateWindow:   config.Get().DuplicateWindowOrDefault(),
	}, messageRepo, workOrderRepo, classifier, sender, forwarder.NewRetryQueue(retryQ))

	// services
	messageService := services.NewMessageService(messageRepo, svcSender,
		config.Get().LandlordPhoneNumber, config.Get().VendorPhoneNumber)
	workOrderService := services.NewWorkOrderService(workOrderRepo)
	healthService := services.NewHealthServiceWithDB(db)

	// v1 handlers
	inboundHandler := handlers.NewInboundHandler(disp)
	messageHandler := handlers.NewMessageHandler(messageService)
	workOrderHandler := handlers.NewWorkOrderHandler(workOrderService)
	configHandler := handlers.NewConfigHandler(stats)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterInboundRoutes(g, inboundHandler)
	handlers.RegisterMessageRoutes(g, messageHandler)
	handlers.RegisterWorkOrderRoutes(g, workOrderHandler)
	handlers.RegisterConfigRoutes(g, configHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
