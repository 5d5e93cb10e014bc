package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/simonraj1/pdf/internal/entity"
)

const sheet = "Sheet1"

// Aggregator collects a run's questions in page order and serializes them to XLSX.
// It is owned by a single job goroutine.
type Aggregator struct {
	records []entity.Question
	logger  *slog.Logger
}

func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// Append stamps page onto each question and appends them.
func (a *Aggregator) Append(page int, qs []entity.Question) int {
	for _, q := range qs {
		q.SourcePage = page
		a.records = append(a.records, q)
	}
	return len(qs)
}

func (a *Aggregator) Len() int { return len(a.records) }

// Records returns a copy of everything appended so far.
func (a *Aggregator) Records() []entity.Question {
	out := make([]entity.Question, len(a.records))
	copy(out, a.records)
	return out
}

// Workbook builds the XLSX bytes. The header row is always present.
func (a *Aggregator) Workbook() ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			a.logger.Warn("export.xlsx.close_error", "error", err)
		}
	}()

	for i, h := range entity.QuestionColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("xlsx header: %w", err)
		}
	}

	for i, q := range a.records {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := q.Row()
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("xlsx row %d: %w", i+2, err)
		}
	}

	// Widen the text columns
	_ = f.SetColWidth(sheet, "A", "A", 16) // number
	_ = f.SetColWidth(sheet, "B", "B", 60) // question
	_ = f.SetColWidth(sheet, "C", "F", 28) // options
	_ = f.SetColWidth(sheet, "G", "G", 14) // correct answer
	_ = f.SetColWidth(sheet, "H", "I", 48) // answer text, explanation
	_ = f.SetColWidth(sheet, "J", "J", 12) // source page

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteXLSX writes the workbook to path through a temp file and rename,
// so readers never observe a partially written artifact.
func (a *Aggregator) WriteXLSX(path string) error {
	start := time.Now()
	b, err := a.Workbook()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("xlsx dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".questions-*.tmp")
	if err != nil {
		return fmt.Errorf("xlsx temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("xlsx temp write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("xlsx temp close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("xlsx rename: %w", err)
	}

	a.logger.Info("export.xlsx.ok",
		"path", path,
		"rows", len(a.records),
		"bytes", len(b),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
