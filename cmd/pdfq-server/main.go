package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/simonraj1/pdf/internal/async"
	"github.com/simonraj1/pdf/internal/common"
	"github.com/simonraj1/pdf/internal/inbox"
	"github.com/simonraj1/pdf/internal/jobs"
	"github.com/simonraj1/pdf/internal/llm/openai"
	"github.com/simonraj1/pdf/internal/pipeline"
	"github.com/simonraj1/pdf/internal/render"
	repo "github.com/simonraj1/pdf/internal/repository"
	"github.com/simonraj1/pdf/internal/server"
	"github.com/simonraj1/pdf/internal/storage"
)

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := common.NewLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	renderer := render.NewRenderer(render.Config{
		Pdftoppm: cfg.Render.Pdftoppm,
		Pdfinfo:  cfg.Render.Pdfinfo,
		DPI:      cfg.Render.DPI,
	}, logger)

	llmClient := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	logger.Info("model client initialized", "model", cfg.LLM.Model, "base_url", cfg.LLM.BaseURL)

	pages := pipeline.NewPageProcessor(renderer, llmClient, pipeline.ParseRefinePolicy(cfg.LLM.RefinePolicy), logger)
	registry := jobs.NewRegistry(logger)

	ctrlOpts := []jobs.ControllerOption{
		jobs.WithMaxAttempts(cfg.Jobs.RetryAttempts),
		jobs.WithScratchDir(cfg.Jobs.ScratchDir),
	}

	// Optional run ledger
	var httpOpts []server.ServerOption
	if cfg.Database.DSN != "" {
		db, err := repo.Open(ctx, repo.Config{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			DialTimeout:     cfg.Database.DialTimeout,
		}, logger)
		if err != nil {
			logger.Warn("run ledger disabled", "error", err)
		} else {
			defer db.Close()
			runs := repo.NewJobRunRepository(db, logger)
			ctrlOpts = append(ctrlOpts, jobs.WithRecorder(runs))
			httpOpts = append(httpOpts, server.WithLedger(runs))
		}
	}

	// Optional artifact publishing
	if cfg.Storage.Enabled() {
		pub, err := storage.NewPublisher(ctx, storage.Config{
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			Bucket:          cfg.Storage.Bucket,
			PublicURL:       cfg.Storage.PublicURL,
		}, logger)
		if err != nil {
			logger.Warn("artifact publishing disabled", "error", err)
		} else {
			ctrlOpts = append(ctrlOpts, jobs.WithPublisher(pub))
		}
	}

	controller := jobs.NewController(registry, renderer, pages, logger, ctrlOpts...)

	queue := async.NewProcessorQueue(logger,
		async.WithWorkers(cfg.Jobs.Workers),
		async.WithQueueSize(cfg.Jobs.QueueSize),
	)

	svc := jobs.NewService(jobs.ServiceConfig{
		UploadDir:    cfg.Jobs.UploadDir,
		ResultsDir:   cfg.Jobs.ResultsDir,
		DefaultDelay: time.Duration(cfg.Jobs.DefaultDelaySeconds * float64(time.Second)),
	}, registry, controller, queue, validator.New(), logger)

	go registry.RunJanitor(ctx, cfg.Jobs.JanitorInterval, cfg.Jobs.Retention, svc.Forget)

	// Optional hot folder
	if cfg.Jobs.InboxDir != "" {
		go func() {
			if err := inbox.Run(ctx, inbox.Config{Dir: cfg.Jobs.InboxDir}, svc, logger); err != nil {
				logger.Error("inbox watcher stopped", "dir", cfg.Jobs.InboxDir, "error", err)
			}
		}()
	}

	// Optional submission rate limit
	var limiter *server.RateLimiter
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not available, rate limit fails open", "error", err)
		}
		limiter = server.NewRateLimiter(redisClient, logger)
	}

	app := server.NewHTTPServer(svc, server.HTTPConfig{
		BodyLimitMB:     cfg.Server.BodyLimitMB,
		SubmitPerMinute: cfg.Server.SubmitPerMinute,
		DefaultDelay:    cfg.Jobs.DefaultDelaySeconds,
	}, limiter, queue.Stats, logger, httpOpts...)

	// Optional gRPC status listener
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
			os.Exit(1)
		}
		grpcServer, _ := server.NewGRPCServer(svc, logger)
		go func() {
			logger.Info("grpc listening", "addr", cfg.Server.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC serve error", "error", err)
			}
		}()
		defer grpcServer.GracefulStop()
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	logger.Info("pdfq-server listening", "addr", addr, "workers", cfg.Jobs.Workers)
	if err := app.Listen(addr); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Error("http server error", "error", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queue.Shutdown(drainCtx)
}
