package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/simonraj1/pdf/db/ent/schema"
	"github.com/simonraj1/pdf/internal/common"
	"github.com/simonraj1/pdf/internal/entity"
)

var jobRunColumns = schema.JobRunColumns()

type JobRunRepository interface {
	RecordRun(ctx context.Context, run entity.JobRun) error
	ListRecent(ctx context.Context, limit int) ([]entity.JobRun, error)
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

type jobRunRepo struct {
	db  *DB
	log *slog.Logger
}

func NewJobRunRepository(db *DB, log *slog.Logger) JobRunRepository {
	if log == nil {
		log = slog.Default()
	}
	return &jobRunRepo{db: db, log: log}
}

// RecordRun appends one terminal job. A second row for the same id is ignored.
func (r *jobRunRepo) RecordRun(ctx context.Context, run entity.JobRun) error {
	if err := schema.ValidateJobRunStatus(run.Status); err != nil {
		return fmt.Errorf("record run %s: %w: %w", run.ID, common.ErrInvalidInput, err)
	}
	query, args := entsql.Dialect(r.db.dialect).
		Insert("job_runs").
		Columns(jobRunColumns...).
		Values(
			run.ID,
			run.Status,
			run.FailureKind,
			run.SourceFile,
			run.TotalPages,
			run.QuestionsExtracted,
			run.OutputFile,
			run.PartialOutput,
			run.Message,
			run.StartedAt.UnixMilli(),
			run.Elapsed.Milliseconds(),
		).
		OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing()).
		Query()

	var res sql.Result
	if err := r.db.drv.Exec(ctx, query, args, &res); err != nil {
		r.log.Error("job_run insert failed", "job_id", run.ID, "err", err)
		return fmt.Errorf("record run %s: %w: %w", run.ID, common.ErrDatabase, err)
	}
	r.log.Debug("job_run recorded", "job_id", run.ID, "status", run.Status)
	return nil
}

// ListRecent returns the newest runs first.
func (r *jobRunRepo) ListRecent(ctx context.Context, limit int) ([]entity.JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args := entsql.Dialect(r.db.dialect).
		Select(jobRunColumns...).
		From(entsql.Table("job_runs")).
		OrderBy(entsql.Desc("started_at")).
		Limit(limit).
		Query()

	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, query, args, &rows); err != nil {
		return nil, fmt.Errorf("list runs: %w: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.JobRun
	for rows.Next() {
		var (
			run       entity.JobRun
			startedMS int64
			elapsedMS int64
		)
		if err := rows.Scan(
			&run.ID,
			&run.Status,
			&run.FailureKind,
			&run.SourceFile,
			&run.TotalPages,
			&run.QuestionsExtracted,
			&run.OutputFile,
			&run.PartialOutput,
			&run.Message,
			&startedMS,
			&elapsedMS,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = time.UnixMilli(startedMS)
		run.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

func (r *jobRunRepo) HealthCheck(ctx context.Context, timeout time.Duration) error {
	return r.db.HealthCheck(ctx, timeout)
}
