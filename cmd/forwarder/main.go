package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nicolu0/nexus-relay/internal/config"
	"github.com/nicolu0/nexus-relay/internal/forwarder"
	gateway "github.com/nicolu0/nexus-relay/internal/gateways"
	"github.com/nicolu0/nexus-relay/internal/repository"
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

	client, err := gateway.NewClient(&gateway.Config{
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
		logger.Error("failed to create gateway", "error", err)
		return
	}

	messageRepo := repository.NewMessageRepository(db)

	idempotencyService := forwarder.NewIdempotencyService(redisAdap, forwarder.DefaultIdempotencyConfig())

	service, err := forwarder.NewService(redisAdap)
	if err != nil {
		logger.Error("failed to create forwarder service", "error", err)
		return
	}
	service.RegisterProcessor(forwarder.NewForwardProcessor(client, messageRepo, idempotencyService))

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
		prom.ListenAndServer(":9101", "/metrics")
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		err := service.Start()
		if err != nil {
			logger.Error("failed to start forwarder", "error", err)
		}
	}()

	select {
	case <-c:
		service.Stop()
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
