package render

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrNoPageCount is returned when pdfinfo output carries no usable Pages line.
var ErrNoPageCount = errors.New("page count not found")

type Config struct {
	Pdftoppm string // binary name or absolute path; if empty -> "pdftoppm"
	Pdfinfo  string // binary name or absolute path; if empty -> "pdfinfo"
	DPI      int    // rasterization DPI, default 300
}

// Renderer rasterizes single PDF pages and counts pages using poppler-utils.
type Renderer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewRenderer(cfg Config, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Pdfinfo == "" {
		cfg.Pdfinfo = "pdfinfo"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Renderer{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// WithRunner swaps the command runner, mainly for tests.
func (r *Renderer) WithRunner(runner Runner) *Renderer {
	r.runner = runner
	return r
}

// PageCount reports the number of pages in the document at path.
func (r *Renderer) PageCount(ctx context.Context, path string) (int, error) {
	out, errb, err := r.runner.Run(ctx, r.cfg.Pdfinfo, path)
	if err != nil {
		return 0, fmt.Errorf("pdfinfo: %w: %s", err, strings.TrimSpace(string(errb)))
	}
	n, err := parsePages(out)
	if err != nil {
		return 0, err
	}
	r.logger.Debug("render.page_count", "path", path, "pages", n)
	return n, nil
}

func parsePages(out []byte) (int, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		rest, ok := strings.CutPrefix(line, "Pages:")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: bad value %q", ErrNoPageCount, strings.TrimSpace(rest))
		}
		return n, nil
	}
	return 0, ErrNoPageCount
}

// RenderPage writes page (1-based) as PNG into dir and returns the image path.
func (r *Renderer) RenderPage(ctx context.Context, path string, page int, dir string) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("render: invalid page %d", page)
	}
	start := time.Now()
	prefix := filepath.Join(dir, fmt.Sprintf("page_%d", page))
	p := strconv.Itoa(page)

	// pdftoppm -f N -l N -r 300 -png -singlefile <in.pdf> <dir/page_N>
	_, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm,
		"-f", p, "-l", p,
		"-r", strconv.Itoa(r.cfg.DPI),
		"-png", "-singlefile",
		path, prefix,
	)
	if err != nil {
		return "", fmt.Errorf("pdftoppm page %d: %w: %s", page, err, strings.TrimSpace(string(errb)))
	}

	img := prefix + ".png"
	st, err := os.Stat(img)
	if err != nil {
		return "", fmt.Errorf("pdftoppm page %d produced no image: %w", page, err)
	}
	if st.Size() == 0 {
		return "", fmt.Errorf("pdftoppm page %d produced an empty image", page)
	}

	r.logger.Debug("render.page_ok",
		"page", page,
		"image", img,
		"bytes", st.Size(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return img, nil
}
