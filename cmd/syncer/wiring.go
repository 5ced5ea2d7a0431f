package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PaulBabatuyi/chatsync/internal/auth"
	"github.com/PaulBabatuyi/chatsync/internal/config"
	"github.com/PaulBabatuyi/chatsync/internal/fcm"
	"github.com/PaulBabatuyi/chatsync/internal/idempotency"
	"github.com/PaulBabatuyi/chatsync/internal/metrics"
	"github.com/PaulBabatuyi/chatsync/internal/notify"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// newLedger returns the Redis ledger when an address is configured, the
// in-process one otherwise. The returned func releases the connection.
func newLedger(ctx context.Context, cfg config.Redis, logger *zap.Logger) (idempotency.Ledger, func(), error) {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not set; replay ledger is per-process")
		return idempotency.NewMemoryLedger(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return idempotency.NewRedisLedger(rdb, cfg.Prefix), func() { _ = rdb.Close() }, nil
}

// newGateway returns the FCM gateway, or a logging stand-in when no
// service account is configured.
func newGateway(cfg config.FCM, logger *zap.Logger) (notify.Gateway, error) {
	if cfg.CredentialsFile == "" {
		logger.Warn("FCM_CREDENTIALS_FILE not set; notifications are only logged")
		return notify.NewLogGateway(logger.Named("gateway")), nil
	}

	sa, err := auth.LoadServiceAccount(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenSource(sa, auth.MessagingScope, cfg.TokenURL, nil)
	if err != nil {
		return nil, err
	}
	return fcm.New(fcm.Config{
		Endpoint:        cfg.Endpoint,
		ProjectID:       cfg.ProjectID,
		MaxFailures:     cfg.MaxFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
		RetryMaxElapsed: cfg.RetryMaxElapsed,
	}, tokens, nil, logger.Named("fcm")), nil
}

// newMetricsMux serves /metrics and a plain liveness probe.
func newMetricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
