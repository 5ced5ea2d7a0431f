package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/chatsync/internal/chatsync"
	"github.com/PaulBabatuyi/chatsync/internal/config"
	"github.com/PaulBabatuyi/chatsync/internal/data"
	"github.com/PaulBabatuyi/chatsync/internal/db"
	"github.com/PaulBabatuyi/chatsync/internal/logging"
	"github.com/PaulBabatuyi/chatsync/internal/metrics"
	"github.com/PaulBabatuyi/chatsync/internal/middleware"
	"github.com/PaulBabatuyi/chatsync/internal/notify"
	"github.com/PaulBabatuyi/chatsync/internal/trigger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	configPath := flag.String("config", os.Getenv("CHATSYNC_CONFIG"), "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("syncer stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Cancelled on SIGINT/SIGTERM; every component shuts down from here
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	dbClient, err := db.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("connect to DB: %w", err)
	}
	defer func() {
		_ = dbClient.Close(context.Background())
	}()

	// Collections with pre-images, then indexes for the latest-message query
	if err := dbClient.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("ensure collections: %w", err)
	}
	if err := dbClient.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}

	m := metrics.New()
	store := data.NewMongoStore(dbClient.DocumentsCollection())

	ledger, closeLedger, err := newLedger(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	gateway, err := newGateway(cfg.FCM, logger)
	if err != nil {
		return err
	}

	// Per-device throttle so a chatty conversation cannot flood one phone
	limiter := middleware.NewLimiterStore(cfg.Notify.RatePerMinute, cfg.Notify.Burst, time.Minute)
	defer limiter.Stop()

	dispatcher := notify.NewDispatcher(gateway, limiter, cfg.Notify.TTL, logger.Named("notify"), m)
	syncer := chatsync.New(store, data.NewProfilesStore(store), dispatcher, ledger, cfg.Trigger.ReplayTTL, logger.Named("chatsync"), m)

	router := trigger.NewRouter(m)
	syncer.Register(router)
	runner := trigger.NewRunner(router, cfg.Trigger.MaxAttempts, logger.Named("trigger"))

	var sources []trigger.Source
	if cfg.Mongo.ChangeStream {
		sources = append(sources, trigger.NewMongoSource("mongo", dbClient.DocumentsCollection(), dbClient.TriggerStateCollection(), logger))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		ks := trigger.NewKafkaSource(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, logger)
		defer func() { _ = ks.Close() }()
		sources = append(sources, ks)
	}

	// assemble server opts: TLS when configured, then logging and recovery
	var serverOpts []grpc.ServerOption
	if cfg.Server.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	grpcServer, health := newGRPCServer(logger.Named("grpc"), serverOpts...)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}

	metricsSrv := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           newMetricsMux(m),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := runner.Run(gctx, sources...)
		if err == nil && gctx.Err() == nil {
			err = errors.New("all trigger sources stopped")
		}
		return err
	})
	g.Go(func() error {
		logger.Info("gRPC health server listening", zap.String("addr", listenAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		grpcServer.GracefulStop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return g.Wait()
}
