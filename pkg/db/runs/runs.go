// Package runs records training runs and their per-epoch stats in postgres.
//
// Recording is best-effort bookkeeping for operators; the trainer works the
// same with a NullRecorder when no database is configured.
package runs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"

	xe "github.com/Baizx98/PaGraph/pkg/errors"
)

// Schema is the DDL the recorder expects. EnsureSchema applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS "runs" (
    "run_id"     uuid PRIMARY KEY,
    "dataset"    varchar NOT NULL,
    "world_size" integer NOT NULL,
    "rank"       integer NOT NULL,
    "started_at" timestamp WITH TIME ZONE NOT NULL,
    "stopped_at" timestamp WITH TIME ZONE
);
CREATE TABLE IF NOT EXISTS "epochs" (
    "run_id"  uuid    NOT NULL REFERENCES "runs" ("run_id") ON DELETE CASCADE,
    "epoch"   integer NOT NULL,
    "loss"    real    NOT NULL,
    "seconds" real    NOT NULL,
    PRIMARY KEY ("run_id", "epoch")
);
`

// Run identifies one worker process of one training job.
type Run struct {
	RunID     uuid.UUID
	Dataset   string
	WorldSize int
	Rank      int
}

// EpochStat is what gets recorded after each epoch.
type EpochStat struct {
	Epoch   int
	Loss    float32
	Seconds float64
}

// Recorder accepts run lifecycle events.
type Recorder interface {
	// Start registers the run. Call once, before the first epoch.
	Start(ctx context.Context, run Run) error

	// RecordEpoch appends one epoch's stats.
	RecordEpoch(ctx context.Context, runID uuid.UUID, stat EpochStat) error

	// Finish stamps the run as stopped.
	Finish(ctx context.Context, runID uuid.UUID) error
}

// Queryer is the subset of pgxpool.Pool the recorder sends queries through,
// extracted so tests can stand in for the database.
type Queryer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	// When more of pgxpool.Pool is needed, extend here.
}

type pgRecorder struct {
	q Queryer
}

// New wraps an established connection (or a test fake) as a Recorder.
func New(q Queryer) Recorder {
	return &pgRecorder{q: q}
}

// Connect opens a pool against the given postgres URL and verifies the
// schema. The caller owns the pool and closes it when training ends.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, Recorder, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, nil, xe.Wrap(err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, New(pool), nil
}

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema(ctx context.Context, q Queryer) error {
	if _, err := q.Exec(ctx, Schema); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func (r *pgRecorder) Start(ctx context.Context, run Run) error {
	_, err := r.q.Exec(
		ctx,
		`INSERT INTO "runs" ("run_id", "dataset", "world_size", "rank", "started_at")
		 VALUES ($1, $2, $3, $4, $5)`,
		run.RunID, run.Dataset, run.WorldSize, run.Rank, time.Now(),
	)
	if err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func (r *pgRecorder) RecordEpoch(ctx context.Context, runID uuid.UUID, stat EpochStat) error {
	_, err := r.q.Exec(
		ctx,
		`INSERT INTO "epochs" ("run_id", "epoch", "loss", "seconds")
		 VALUES ($1, $2, $3, $4)`,
		runID, stat.Epoch, stat.Loss, stat.Seconds,
	)
	if err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func (r *pgRecorder) Finish(ctx context.Context, runID uuid.UUID) error {
	_, err := r.q.Exec(
		ctx,
		`UPDATE "runs" SET "stopped_at" = $1 WHERE "run_id" = $2`,
		time.Now(), runID,
	)
	if err != nil {
		return xe.Wrap(err)
	}
	return nil
}

// NullRecorder drops everything. Used when no run database is configured.
type NullRecorder struct{}

func (NullRecorder) Start(context.Context, Run) error                        { return nil }
func (NullRecorder) RecordEpoch(context.Context, uuid.UUID, EpochStat) error { return nil }
func (NullRecorder) Finish(context.Context, uuid.UUID) error                 { return nil }
