package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/simonraj1/pdf/constants"
	"github.com/simonraj1/pdf/internal/common"
	"github.com/simonraj1/pdf/internal/jobs"
	"github.com/simonraj1/pdf/internal/llm/openai"
	"github.com/simonraj1/pdf/internal/pipeline"
	"github.com/simonraj1/pdf/internal/render"
	repo "github.com/simonraj1/pdf/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		pdfPath    = flag.String("pdf", "", "PDF document to extract questions from (required)")
		out        = flag.String("out", "", "output XLSX file path (optional, defaults next to the PDF)")
		start      = flag.Int("start", 1, "first page to process (1-based)")
		maxPages   = flag.Int("max", 0, "maximum number of pages to process (0 = to the end)")
		delay      = flag.Float64("delay", -1, "seconds to wait between pages (default from config)")
		retryDelay = flag.Float64("retry-delay", -1, "seconds to wait between attempts (defaults to -delay)")
		ledger     = flag.String("ledger", "", "run ledger DSN, e.g. sqlite://runs.db (optional)")
	)
	flag.Parse()

	if *pdfPath == "" {
		printError("Error: --pdf is required\n")
		os.Exit(1)
	}
	if !constants.IsAllowedExt(filepath.Ext(*pdfPath)) {
		printError("Error: %s is not a .pdf file\n", *pdfPath)
		os.Exit(1)
	}
	if *start < 1 || *maxPages < 0 {
		printError("Error: --start must be at least 1 and --max must not be negative (0 = to the end)\n")
		os.Exit(1)
	}

	cfg, err := common.LoadConfig()
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	logger := common.NewLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	if *out == "" {
		stem := strings.TrimSuffix(filepath.Base(*pdfPath), filepath.Ext(*pdfPath))
		*out = filepath.Join(filepath.Dir(*pdfPath), stem+"_questions.xlsx")
	}
	if *delay < 0 {
		*delay = cfg.Jobs.DefaultDelaySeconds
	}
	if *retryDelay < 0 {
		*retryDelay = *delay
	}
	if !common.ValidDelaySeconds(*delay) || !common.ValidDelaySeconds(*retryDelay) {
		printError("Error: --delay and --retry-delay must be between 0 and %d seconds\n", common.MaxDelaySeconds)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	renderer := render.NewRenderer(render.Config{
		Pdftoppm: cfg.Render.Pdftoppm,
		Pdfinfo:  cfg.Render.Pdfinfo,
		DPI:      cfg.Render.DPI,
	}, logger)
	client := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	pages := pipeline.NewPageProcessor(renderer, client, pipeline.ParseRefinePolicy(cfg.LLM.RefinePolicy), logger)

	opts := []jobs.ControllerOption{
		jobs.WithMaxAttempts(cfg.Jobs.RetryAttempts),
		jobs.WithScratchDir(cfg.Jobs.ScratchDir),
	}
	if *ledger != "" {
		db, err := repo.Open(ctx, repo.Config{DSN: *ledger, MaxConns: 1, DialTimeout: 3 * time.Second}, logger)
		if err != nil {
			logger.Error("failed to open run ledger", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		opts = append(opts, jobs.WithRecorder(repo.NewJobRunRepository(db, logger)))
	}

	registry := jobs.NewRegistry(logger)
	controller := jobs.NewController(registry, renderer, pages, logger, opts...)

	id := uuid.NewString()
	if err := registry.Create(jobs.Record{
		ID:            id,
		Status:        constants.JobStatusProcessing,
		TotalPages:    *maxPages,
		StartPage:     *start,
		StatusMessage: "Initializing extraction process...",
		StartTime:     float64(time.Now().UnixMilli()) / 1000,
		SourceFile:    filepath.Base(*pdfPath),
		OutputFile:    filepath.Base(*out),
		SourcePath:    *pdfPath,
	}); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	done := make(chan error, 1)
	go func() {
		done <- controller.Run(common.WithJobID(ctx, id), jobs.Params{
			JobID:      id,
			SourcePath: *pdfPath,
			StartPage:  *start,
			MaxPages:   *maxPages,
			PageDelay:  seconds(*delay),
			RetryDelay: seconds(*retryDelay),
			OutputPath: *out,
		})
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	last := ""
	for {
		select {
		case <-done:
			rec, _ := registry.Get(id)
			printSummary(rec, *out)
			if rec.Status != constants.JobStatusCompleted {
				os.Exit(1)
			}
			return
		case <-ticker.C:
			rec, ok := registry.Get(id)
			if !ok {
				continue
			}
			line := fmt.Sprintf("[%5.1f%%] %s", rec.Progress, rec.StatusMessage)
			if line != last {
				fmt.Println(line)
				last = line
			}
		}
	}
}

func printSummary(rec jobs.Record, out string) {
	fmt.Println("========================================")
	fmt.Printf("Job:        %s\n", rec.ID)
	fmt.Printf("Status:     %s\n", rec.Status)
	fmt.Printf("Pages:      %d (from page %d)\n", rec.TotalPages, rec.StartPage)
	fmt.Printf("Questions:  %d\n", rec.QuestionsExtracted)
	if rec.ElapsedTime != "" {
		fmt.Printf("Elapsed:    %s\n", rec.ElapsedTime)
	}
	if rec.Message != "" {
		fmt.Printf("Message:    %s\n", rec.Message)
	}
	if rec.DownloadReady() {
		fmt.Printf("Output:     %s\n", out)
	}
	if rec.OutputURL != "" {
		fmt.Printf("URL:        %s\n", rec.OutputURL)
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
