package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/newsproof/newsbot/internal/runlog"
)

var ErrInvalidConfig = errors.New("runlog/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("runlog/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, run runlog.Run) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := run.Validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO newsbot_runs (
			run_id,
			update_id,
			stage,
			outcome,
			derived_value,
			tx_hash,
			error_message,
			started_at,
			finished_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		ON CONFLICT (run_id) DO UPDATE
		SET stage = EXCLUDED.stage,
			outcome = EXCLUDED.outcome,
			derived_value = EXCLUDED.derived_value,
			tx_hash = EXCLUDED.tx_hash,
			error_message = EXCLUDED.error_message,
			finished_at = EXCLUDED.finished_at,
			updated_at = now()
	`,
		run.RunID[:],
		run.UpdateID,
		string(run.Stage),
		string(run.Outcome),
		bigToDB(run.DerivedValue),
		hashOrNil(run.TxHash),
		stringOrNil(run.Error),
		run.StartedAt.UTC(),
		timeOrNil(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("runlog/postgres: save run: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, runID common.Hash) (runlog.Run, error) {
	if s == nil || s.pool == nil {
		return runlog.Run{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	row := s.pool.QueryRow(ctx, selectRunSQL+` WHERE run_id = $1`, runID[:])
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return runlog.Run{}, runlog.ErrNotFound
		}
		return runlog.Run{}, fmt.Errorf("runlog/postgres: get run: %w", err)
	}
	return run, nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]runlog.Run, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	rows, err := s.pool.Query(ctx, selectRunSQL+` ORDER BY started_at DESC, update_id DESC LIMIT $1`, runlog.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("runlog/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var out []runlog.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("runlog/postgres: scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runlog/postgres: list runs: %w", err)
	}
	return out, nil
}

const selectRunSQL = `
		SELECT
			run_id,
			update_id,
			stage,
			outcome,
			derived_value,
			tx_hash,
			error_message,
			started_at,
			finished_at
		FROM newsbot_runs`

func scanRun(row pgx.Row) (runlog.Run, error) {
	var (
		run         runlog.Run
		runIDRaw    []byte
		stageRaw    string
		outcomeRaw  string
		derivedRaw  *string
		txHashRaw   []byte
		errorRaw    *string
		finishedRaw *time.Time
	)
	if err := row.Scan(
		&runIDRaw,
		&run.UpdateID,
		&stageRaw,
		&outcomeRaw,
		&derivedRaw,
		&txHashRaw,
		&errorRaw,
		&run.StartedAt,
		&finishedRaw,
	); err != nil {
		return runlog.Run{}, err
	}
	run.RunID = common.BytesToHash(runIDRaw)
	run.Stage = runlog.Stage(stageRaw)
	run.Outcome = runlog.Outcome(outcomeRaw)
	if len(txHashRaw) > 0 {
		run.TxHash = common.BytesToHash(txHashRaw)
	}
	if errorRaw != nil {
		run.Error = *errorRaw
	}
	if finishedRaw != nil {
		run.FinishedAt = *finishedRaw
	}
	if derivedRaw != nil {
		v, ok := new(big.Int).SetString(*derivedRaw, 10)
		if !ok {
			return runlog.Run{}, fmt.Errorf("invalid derived value %q", *derivedRaw)
		}
		run.DerivedValue = v
	}
	return run, nil
}

func bigToDB(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func hashOrNil(v common.Hash) []byte {
	if (v == common.Hash{}) {
		return nil
	}
	return v[:]
}

func stringOrNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func timeOrNil(v time.Time) *time.Time {
	if v.IsZero() {
		return nil
	}
	u := v.UTC()
	return &u
}
