package speeches

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sepscribe/pipeline"
)

// Schema creates the history tables.
const Schema = `
	create table if not exists runs (
		id text primary key not null,
		request_id text not null default '',
		name text not null,
		blake3_hash text not null,
		status text not null,
		error text not null default '',
		audio_seconds text not null default '0',
		elapsed_ms integer not null default 0,
		created_at text not null
	);

	create index if not exists runs_created_at on runs (created_at);
	create index if not exists runs_blake3_hash on runs (blake3_hash);
	create index if not exists runs_request_id on runs (request_id);

	create table if not exists transcripts (
		run_id text not null references runs (id) on delete cascade,
		slot integer not null,
		speaker text not null,
		text text not null,
		primary key (run_id, slot)
	);`

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type (
	SQLiteRepo struct {
		db *sql.DB
	}
)

func NewSQLiteRepo(db *sql.DB) SQLiteRepo {
	return SQLiteRepo{db}
}

// InsertRun stores run and its transcripts in one transaction.
func (r SQLiteRepo) InsertRun(ctx context.Context, run Run) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("inserting run: begin trx: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		insert into runs (id, request_id, name, blake3_hash, status, error, audio_seconds, elapsed_ms, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID,
		run.RequestID,
		run.Name,
		run.Blake3Hash,
		string(run.Status),
		run.Error,
		run.AudioSeconds.String(),
		run.Elapsed.Milliseconds(),
		run.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback insert run: %w", rbErr)
		}
		return fmt.Errorf("inserting run: %w", err)
	}

	for slot, t := range run.Transcripts {
		_, err = tx.ExecContext(ctx,
			"insert into transcripts (run_id, slot, speaker, text) values ($1, $2, $3, $4)",
			run.ID, slot, t.Speaker, t.Text,
		)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rollback insert transcripts: %w", rbErr)
			}
			return fmt.Errorf("inserting transcripts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("inserting run: commiting: %w", err)
	}
	return nil
}

func (r SQLiteRepo) GetRun(ctx context.Context, id string) (Run, error) {
	row := r.db.QueryRowContext(ctx, `
		select id, request_id, name, blake3_hash, status, error, audio_seconds, elapsed_ms, created_at
		from runs where id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	if run.Transcripts, err = r.transcripts(ctx, run.ID); err != nil {
		return Run{}, err
	}
	return run, nil
}

// RunsByRequest returns every run recorded under reqID, oldest first.
func (r SQLiteRepo) RunsByRequest(ctx context.Context, reqID string) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, request_id, name, blake3_hash, status, error, audio_seconds, elapsed_ms, created_at
		from runs where request_id = $1 order by created_at`, reqID)
	if err != nil {
		return nil, fmt.Errorf("runs for request %s: %w", reqID, err)
	}
	return r.collect(ctx, rows)
}

// ListRuns returns the most recent runs first.
func (r SQLiteRepo) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, request_id, name, blake3_hash, status, error, audio_seconds, elapsed_ms, created_at
		from runs order by created_at desc limit $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return r.collect(ctx, rows)
}

// collect scans rows and loads each run's transcripts.
func (r SQLiteRepo) collect(ctx context.Context, rows *sql.Rows) ([]Run, error) {
	defer rows.Close()

	var res []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		res = append(res, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning runs: %w", err)
	}
	rows.Close()

	for i := range res {
		ts, err := r.transcripts(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Transcripts = ts
	}
	return res, nil
}

func (r SQLiteRepo) transcripts(ctx context.Context, runID string) ([]pipeline.Transcript, error) {
	rows, err := r.db.QueryContext(ctx,
		"select speaker, text from transcripts where run_id = $1 order by slot", runID)
	if err != nil {
		return nil, fmt.Errorf("get transcripts: %w", err)
	}
	defer rows.Close()

	var res []pipeline.Transcript
	for rows.Next() {
		var t pipeline.Transcript
		if err := rows.Scan(&t.Speaker, &t.Text); err != nil {
			return nil, fmt.Errorf("get transcripts: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run                  Run
		status, secs, create string
		elapsedMs            int64
	)
	if err := s.Scan(&run.ID, &run.RequestID, &run.Name, &run.Blake3Hash, &status, &run.Error, &secs, &elapsedMs, &create); err != nil {
		return Run{}, err
	}
	run.Status = Status(status)
	run.Elapsed = time.Duration(elapsedMs) * time.Millisecond

	var err error
	if run.AudioSeconds, err = decimal.NewFromString(secs); err != nil {
		return Run{}, fmt.Errorf("parsing audio_seconds %q: %w", secs, err)
	}
	if run.CreatedAt, err = time.Parse(timeLayout, create); err != nil {
		return Run{}, fmt.Errorf("parsing created_at %q: %w", create, err)
	}
	return run, nil
}
