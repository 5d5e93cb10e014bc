package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/simonraj1/pdf/constants"
	"github.com/simonraj1/pdf/internal/async"
	"github.com/simonraj1/pdf/internal/common"
	"github.com/simonraj1/pdf/internal/entity"
	"github.com/simonraj1/pdf/internal/jobs"
	"github.com/simonraj1/pdf/pkg/response"
)

// JobService is what the HTTP and gRPC surfaces need from the jobs package.
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (string, error)
	Get(id string) (jobs.Record, error)
	Cancel(id string) (jobs.Record, error)
	ResultPath(name string) (string, error)
	Counts() map[constants.JobStatus]int
}

type HTTPConfig struct {
	BodyLimitMB     int
	SubmitPerMinute int
	DefaultDelay    float64
	PollInterval    time.Duration
	RetryAfter      int
}

// RunLedger is the read side of the run ledger.
type RunLedger interface {
	ListRecent(ctx context.Context, limit int) ([]entity.JobRun, error)
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

type Handler struct {
	jobs   JobService
	cfg    HTTPConfig
	stats  func() async.Stats
	ledger RunLedger
	logger *slog.Logger
}

type ServerOption func(*Handler)

// WithLedger enables GET /api/runs and the ledger check in /health.
func WithLedger(l RunLedger) ServerOption {
	return func(h *Handler) { h.ledger = l }
}

// NewHTTPServer wires routes and middleware. limiter and stats may be nil.
func NewHTTPServer(svc JobService, cfg HTTPConfig, limiter *RateLimiter, stats func() async.Stats, logger *slog.Logger, opts ...ServerOption) *fiber.App {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BodyLimitMB <= 0 {
		cfg.BodyLimitMB = 64
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30
	}
	h := &Handler{jobs: svc, cfg: cfg, stats: stats, logger: logger}
	for _, o := range opts {
		o(h)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		BodyLimit:             cfg.BodyLimitMB * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestLogger(logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Get("/", h.Index)
	app.Post("/upload", limiter.SubmitLimit(cfg.SubmitPerMinute), h.Upload)
	app.Get("/job/:id", h.JobPage)
	app.Get("/api/job/:id", h.JobStatus)
	app.Post("/api/job/:id/cancel", h.CancelJob)
	app.Get("/download/:filename", h.Download)
	app.Get("/api/runs", h.ListRuns)
	app.Get("/health", h.Health)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/job/:id", websocket.New(h.StreamJob))

	return app
}

func (h *Handler) Index(c *fiber.Ctx) error {
	return render(c, fiber.StatusOK, "index.html", fiber.Map{"DefaultDelay": h.cfg.DefaultDelay})
}

// Upload handles POST /upload
func (h *Handler) Upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("pdf_file")
	if err != nil || fh.Filename == "" {
		return h.uploadError(c, fiber.StatusBadRequest, "No file selected")
	}

	req := jobs.SubmitRequest{Filename: fh.Filename, StartPage: 1}
	if v := strings.TrimSpace(c.FormValue("start_page")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return h.uploadError(c, fiber.StatusBadRequest, "start_page must be an integer")
		}
		req.StartPage = n
	}
	if v := strings.TrimSpace(c.FormValue("max_pages")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return h.uploadError(c, fiber.StatusBadRequest, "max_pages must be an integer")
		}
		req.MaxPages = &n
	}
	delay := c.FormValue("delay_seconds", c.FormValue("delay"))
	if d, ok, err := parseSeconds(delay); err != nil {
		return h.uploadError(c, fiber.StatusBadRequest, "delay must be a number of seconds")
	} else if ok {
		req.DelaySeconds = &d
	}
	if d, ok, err := parseSeconds(c.FormValue("retry_delay_seconds")); err != nil {
		return h.uploadError(c, fiber.StatusBadRequest, "retry_delay_seconds must be a number of seconds")
	} else if ok {
		req.RetryDelaySeconds = &d
	}

	f, err := fh.Open()
	if err != nil {
		return h.uploadError(c, fiber.StatusBadRequest, "Could not read uploaded file")
	}
	defer f.Close()
	req.Content = f

	id, err := h.jobs.Submit(c.UserContext(), req)
	if err != nil {
		var appErr *common.AppError
		switch {
		case errors.Is(err, common.ErrInvalidInput):
			msg := err.Error()
			if errors.As(err, &appErr) {
				msg = appErr.Message
			}
			return h.uploadError(c, fiber.StatusBadRequest, msg)
		case errors.Is(err, common.ErrQueueFull), errors.Is(err, common.ErrShuttingDown):
			return response.Unavailable(c, "Server is busy, try again later", h.cfg.RetryAfter)
		default:
			h.logger.Error("http.upload.failed", "error", err)
			return response.ServiceError(c, "Could not start extraction")
		}
	}

	if wantsJSON(c) {
		return response.Accepted(c, fiber.Map{
			"job_id":     id,
			"status_url": "/api/job/" + id,
		})
	}
	return c.Redirect("/job/"+id, fiber.StatusSeeOther)
}

func (h *Handler) uploadError(c *fiber.Ctx, status int, msg string) error {
	if wantsJSON(c) {
		return response.Error(c, status, response.CodeValidationError, msg, nil)
	}
	return render(c, status, "index.html", fiber.Map{"Error": msg, "DefaultDelay": h.cfg.DefaultDelay})
}

// JobPage handles GET /job/:id
func (h *Handler) JobPage(c *fiber.Ctx) error {
	rec, err := h.jobs.Get(c.Params("id"))
	if err != nil {
		return render(c, fiber.StatusNotFound, "index.html", fiber.Map{"Error": "Job not found", "DefaultDelay": h.cfg.DefaultDelay})
	}
	return render(c, fiber.StatusOK, "job.html", fiber.Map{"Job": rec})
}

// JobStatus handles GET /api/job/:id
func (h *Handler) JobStatus(c *fiber.Ctx) error {
	rec, err := h.jobs.Get(c.Params("id"))
	if err != nil {
		return response.JobNotFound(c)
	}
	return response.OK(c, rec)
}

// CancelJob handles POST /api/job/:id/cancel
func (h *Handler) CancelJob(c *fiber.Ctx) error {
	rec, err := h.jobs.Cancel(c.Params("id"))
	switch {
	case errors.Is(err, common.ErrNotFound):
		return response.JobNotFound(c)
	case errors.Is(err, common.ErrConflict):
		return response.JobConflict(c, "Job cannot be cancelled: status is "+string(rec.Status))
	case err != nil:
		return response.ServiceError(c, err.Error())
	}
	return response.Accepted(c, rec)
}

// Download handles GET /download/:filename
func (h *Handler) Download(c *fiber.Ctx) error {
	name := c.Params("filename")
	path, err := h.jobs.ResultPath(name)
	if err != nil {
		if errors.Is(err, common.ErrInvalidInput) {
			return response.ValidationError(c, "Invalid file name", nil)
		}
		return response.NotFound(c, "File not found")
	}
	c.Set(fiber.HeaderContentType, constants.XLSXContentType)
	return c.Download(path, name)
}

func (h *Handler) Health(c *fiber.Ctx) error {
	body := fiber.Map{
		"status": "ok",
		"jobs":   h.jobs.Counts(),
	}
	if h.stats != nil {
		body["queue"] = h.stats()
	}
	if h.ledger != nil {
		if err := h.ledger.HealthCheck(c.UserContext(), 2*time.Second); err != nil {
			h.logger.Warn("health.ledger.unreachable", "error", err)
			body["status"] = "degraded"
			body["ledger"] = "unreachable"
		} else {
			body["ledger"] = "ok"
		}
	}
	return c.JSON(body)
}

// ListRuns handles GET /api/runs?limit=N, newest first.
func (h *Handler) ListRuns(c *fiber.Ctx) error {
	if h.ledger == nil {
		return response.NotFound(c, "Run ledger is not configured")
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > maxRunsLimit {
		return response.ValidationError(c, fmt.Sprintf("limit must be between 1 and %d", maxRunsLimit), nil)
	}
	runs, err := h.ledger.ListRecent(c.UserContext(), limit)
	if err != nil {
		h.logger.Error("runs.list.failed", "error", err)
		return response.ServiceError(c, "Could not read run ledger")
	}
	if runs == nil {
		runs = []entity.JobRun{}
	}
	return response.OK(c, fiber.Map{"runs": runs})
}

const maxRunsLimit = 500

// StreamJob pushes a snapshot whenever the job changes and closes after the terminal one.
func (h *Handler) StreamJob(c *websocket.Conn) {
	id := c.Params("id")
	log := h.logger.With("job_id", id)
	defer c.Close()

	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	var last time.Time
	for {
		rec, err := h.jobs.Get(id)
		if err != nil {
			_ = c.WriteJSON(response.JobError{Error: "Job not found"})
			return
		}
		if !rec.UpdatedAt.Equal(last) {
			if err := c.WriteJSON(rec); err != nil {
				log.Debug("ws.write.failed", "error", err)
				return
			}
			last = rec.UpdatedAt
		}
		if rec.Terminal() {
			return
		}
		<-ticker.C
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}
	return response.Error(c, code, response.CodeServiceError, message, nil)
}

func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			var e *fiber.Error
			if errors.As(err, &e) {
				status = e.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		logger.Info("http.request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return err
	}
}

func wantsJSON(c *fiber.Ctx) bool {
	return strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMEApplicationJSON)
}

func parseSeconds(v string) (float64, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("not a finite number: %q", v)
	}
	return f, true, nil
}
