// Command telemetryd is the telemetry pipeline's single binary: it serves
// the HTTP/WebSocket API, drains the Redis Streams ingest queue through the
// event processor, runs the transcript pipeline, and sweeps stuck sessions.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/api"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/blobstore"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/broadcast"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/config"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/consumer"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/eventproc"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/identity"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/lifecycle"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/recovery"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/stream"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/transcript"
)

func main() {
	envPath := os.Getenv("ENV_FILE")
	if envPath == "" {
		envPath = ".env"
	}
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not load %s: %v", envPath, err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logLevel := new(slog.LevelVar)
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewClient(ctx, storage.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("close database", "error", err)
		}
	}()
	slog.Info("connected to postgres", "host", cfg.Database.Host, "database", cfg.Database.Database)

	transport, err := stream.New(ctx, stream.Config{
		Addr:      cfg.Stream.Addr,
		Password:  cfg.Stream.Password,
		DB:        cfg.Stream.DB,
		StreamKey: cfg.Stream.StreamKey,
		Group:     cfg.Stream.ConsumerGroup,
	})
	if err != nil {
		log.Fatalf("connect to redis stream: %v", err)
	}
	defer func() {
		if err := transport.Close(); err != nil {
			slog.Error("close stream transport", "error", err)
		}
	}()
	slog.Info("connected to redis stream", "addr", cfg.Stream.Addr, "stream", cfg.Stream.StreamKey)

	blobs, err := blobstore.New(ctx, blobstore.Config{
		Bucket:          cfg.Blob.Bucket,
		Region:          cfg.Blob.Region,
		Endpoint:        cfg.Blob.Endpoint,
		AccessKeyID:     cfg.Blob.AccessKeyID,
		SecretAccessKey: cfg.Blob.SecretAccessKey,
		UsePathStyle:    cfg.Blob.UsePathStyle,
	})
	if err != nil {
		log.Fatalf("init blob store: %v", err)
	}
	slog.Info("blob store ready", "bucket", cfg.Blob.Bucket)

	sessions := storage.NewSessionRepository(db.DB())
	workspaces := storage.NewWorkspaceRepository(db.DB())
	devices := storage.NewDeviceRepository(db.DB())
	events := storage.NewEventRepository(db.DB())
	gitActivity := storage.NewGitActivityRepository(db.DB())
	transcripts := storage.NewTranscriptRepository(db.DB())

	identityResolver := identity.New(workspaces, devices)
	lifecycleEngine := lifecycle.New(sessions)
	correlator := eventproc.NewCorrelator(sessions, cfg.Consumer.CorrelationLookback)

	broadcaster := broadcast.New(broadcast.Config{
		PingInterval: cfg.Broadcast.PingInterval,
		PongTimeout:  cfg.Broadcast.PongTimeout,
		WriteTimeout: cfg.Broadcast.WriteTimeout,
		AuthToken:    cfg.APIKey,
	})

	// summarizer is left unwired: no concrete provider ships with this
	// service (see DESIGN.md), so the pipeline stops at "parsed" unless
	// PIPELINE_SUMMARIZE_ENABLED names one in a future revision.
	var summarizer transcript.Summarizer
	if cfg.Pipeline.SummarizeEnabled {
		slog.Warn("PIPELINE_SUMMARIZE_ENABLED is set but no summarizer is wired; summarize phase will be skipped")
	}
	pipeline := transcript.New(sessions, transcripts, blobs, lifecycleEngine, broadcaster, summarizer)

	triggerPipeline := func(sessionID string) {
		go func() {
			runCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.SummarizeTimeout+30*time.Second)
			defer cancel()
			if err := pipeline.Run(runCtx, sessionID); err != nil {
				slog.Error("transcript pipeline run failed", "session_id", sessionID, "error", err)
			}
		}()
	}

	processor := eventproc.New(identityResolver, events, sessions, lifecycleEngine, gitActivity, correlator, broadcaster, triggerPipeline)

	sweeper := recovery.New(recovery.Config{
		Interval:       cfg.Recovery.SweepInterval,
		StuckThreshold: cfg.Recovery.StuckThreshold,
	}, sessions, lifecycleEngine, pipeline, broadcaster)

	consumerLoop := consumer.New(consumer.Config{
		BatchSize:       cfg.Stream.BatchSize,
		BlockInterval:   cfg.Stream.BlockInterval,
		ReclaimInterval: cfg.Stream.ReclaimInterval,
		MinIdle:         cfg.Stream.MinIdleTime,
	}, transport, processor)

	server := api.NewServer(cfg.APIKey, db.DB(), sessions, workspaces, devices, events, gitActivity,
		transport, blobs, broadcaster, triggerPipeline)
	server.SetConsumerStats(consumerLoop)
	if err := server.ValidateWiring(); err != nil {
		log.Fatalf("server wiring incomplete: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	consumerLoop.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			slog.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown", "error", err)
	}

	consumerLoop.Stop()
	wg.Wait()

	slog.Info("telemetryd stopped")
}
