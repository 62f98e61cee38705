package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"AsmrPipeline/internal/domain"
	"AsmrPipeline/internal/ports"
)

const (
	runsTable  = "pipeline_runs"
	stateTable = "schedule_state"

	// schedule_state holds exactly one row.
	stateRowID = 1
)

var terminalStages = []string{string(domain.StagePublished), string(domain.StageFailed)}

// ErrRunNotFound is returned when no record exists for a run id.
var ErrRunNotFound = errors.New("run not found")

// PostgresStore persists the append-only run log and the schedule state.
type PostgresStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.RunStore = (*PostgresStore)(nil)
var _ ports.StateStore = (*PostgresStore)(nil)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureSchema creates the run log and state tables if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			run_id TEXT PRIMARY KEY,
			scheduled_time TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			stage_reached TEXT NOT NULL,
			theme TEXT NOT NULL DEFAULT '',
			artifact_ref TEXT NOT NULL DEFAULT '',
			published_id TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS schedule_state (
			id SMALLINT PRIMARY KEY,
			next_fire_time TIMESTAMPTZ NOT NULL,
			last_completed_run_id TEXT NOT NULL DEFAULT ''
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveRun upserts the run record snapshot.
func (s *PostgresStore) SaveRun(ctx context.Context, rec domain.RunRecord) error {
	var finished sql.NullTime
	if !rec.FinishedAt.IsZero() {
		finished = sql.NullTime{Time: rec.FinishedAt, Valid: true}
	}

	query := s.builder.
		Insert(runsTable).
		Columns("run_id", "scheduled_time", "started_at", "finished_at",
			"stage_reached", "theme", "artifact_ref", "published_id", "error").
		Values(rec.RunID, rec.ScheduledTime, rec.StartedAt, finished,
			string(rec.StageReached), rec.Theme, rec.ArtifactRef, rec.PublishedID, rec.Error).
		Suffix(`ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			stage_reached = EXCLUDED.stage_reached,
			theme = EXCLUDED.theme,
			artifact_ref = EXCLUDED.artifact_ref,
			published_id = EXCLUDED.published_id,
			error = EXCLUDED.error`)

	if _, err := query.RunWith(s.db).ExecContext(ctx); err != nil {
		return fmt.Errorf("upsert run %s: %w", rec.RunID, err)
	}
	return nil
}

// Run loads one record by id.
func (s *PostgresStore) Run(ctx context.Context, runID string) (domain.RunRecord, error) {
	query := s.selectRuns().Where(sq.Eq{"run_id": runID})

	rec, err := scanRun(query.RunWith(s.db).QueryRowContext(ctx))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	return rec, nil
}

// NonTerminalRuns lists records that never reached Published or Failed.
func (s *PostgresStore) NonTerminalRuns(ctx context.Context) ([]domain.RunRecord, error) {
	query := s.selectRuns().
		Where(sq.NotEq{"stage_reached": terminalStages}).
		OrderBy("started_at ASC")

	return s.queryRuns(ctx, query)
}

// ListRuns returns the newest records first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	query := s.selectRuns().OrderBy("started_at DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	return s.queryRuns(ctx, query)
}

// RecentThemes returns themes of the most recent runs, newest first.
func (s *PostgresStore) RecentThemes(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := s.builder.
		Select("theme").
		From(runsTable).
		Where(sq.NotEq{"theme": ""}).
		OrderBy("started_at DESC").
		Limit(uint64(limit))

	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query recent themes: %w", err)
	}
	defer rows.Close()

	var themes []string
	for rows.Next() {
		var theme string
		if err := rows.Scan(&theme); err != nil {
			return nil, fmt.Errorf("scan theme: %w", err)
		}
		themes = append(themes, theme)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return themes, nil
}

// PruneRuns deletes terminal records beyond the newest keep entries.
func (s *PostgresStore) PruneRuns(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	victims := sq.
		Select("run_id").
		From(runsTable).
		Where(sq.Eq{"stage_reached": terminalStages}).
		OrderBy("started_at DESC").
		Offset(uint64(keep))

	query := s.builder.
		Delete(runsTable).
		Where(sq.Expr("run_id IN (?)", victims))

	result, err := query.RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs affected: %w", err)
	}
	return int(affected), nil
}

// LoadState reads the singleton schedule-state row.
func (s *PostgresStore) LoadState(ctx context.Context) (domain.ScheduleState, bool, error) {
	query := s.builder.
		Select("next_fire_time", "last_completed_run_id").
		From(stateTable).
		Where(sq.Eq{"id": stateRowID})

	var state domain.ScheduleState
	err := query.RunWith(s.db).QueryRowContext(ctx).Scan(&state.NextFireTime, &state.LastCompletedRunID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduleState{}, false, nil
	}
	if err != nil {
		return domain.ScheduleState{}, false, fmt.Errorf("load schedule state: %w", err)
	}
	return state, true, nil
}

// SaveState upserts the singleton schedule-state row.
func (s *PostgresStore) SaveState(ctx context.Context, state domain.ScheduleState) error {
	query := s.builder.
		Insert(stateTable).
		Columns("id", "next_fire_time", "last_completed_run_id").
		Values(stateRowID, state.NextFireTime, state.LastCompletedRunID).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			next_fire_time = EXCLUDED.next_fire_time,
			last_completed_run_id = EXCLUDED.last_completed_run_id`)

	if _, err := query.RunWith(s.db).ExecContext(ctx); err != nil {
		return fmt.Errorf("upsert schedule state: %w", err)
	}
	return nil
}

func (s *PostgresStore) selectRuns() sq.SelectBuilder {
	return s.builder.
		Select("run_id", "scheduled_time", "started_at", "finished_at",
			"stage_reached", "theme", "artifact_ref", "published_id", "error").
		From(runsTable)
}

func (s *PostgresStore) queryRuns(ctx context.Context, query sq.SelectBuilder) ([]domain.RunRecord, error) {
	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []domain.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.RunRecord, error) {
	var (
		rec      domain.RunRecord
		stage    string
		finished sql.NullTime
	)

	err := row.Scan(&rec.RunID, &rec.ScheduledTime, &rec.StartedAt, &finished,
		&stage, &rec.Theme, &rec.ArtifactRef, &rec.PublishedID, &rec.Error)
	if err != nil {
		return domain.RunRecord{}, err
	}

	rec.StageReached = domain.Stage(stage)
	if finished.Valid {
		rec.FinishedAt = finished.Time.UTC()
	}
	rec.ScheduledTime = rec.ScheduledTime.UTC()
	rec.StartedAt = rec.StartedAt.UTC()
	return rec, nil
}
