package runlog

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidRun    = errors.New("runlog: invalid run")
	ErrNotFound      = errors.New("runlog: not found")
	ErrInvalidConfig = errors.New("runlog: invalid config")
)

// Stage is the last pipeline step a run reached.
type Stage string

const (
	StageNotify   Stage = "notify"
	StageWebProof Stage = "webproof"
	StageProve    Stage = "prove"
	StageVerify   Stage = "verify"
	StageDone     Stage = "done"
)

type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

const MaxRecent = 500

// Run records one pipeline pass.
type Run struct {
	RunID        common.Hash
	UpdateID     int64
	Stage        Stage
	Outcome      Outcome
	DerivedValue *big.Int
	TxHash       common.Hash
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

func (r Run) Validate() error {
	if (r.RunID == common.Hash{}) {
		return fmt.Errorf("%w: missing run id", ErrInvalidRun)
	}
	switch r.Stage {
	case StageNotify, StageWebProof, StageProve, StageVerify, StageDone:
	default:
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidRun, r.Stage)
	}
	switch r.Outcome {
	case OutcomeRunning:
		if !r.FinishedAt.IsZero() {
			return fmt.Errorf("%w: running run has finish time", ErrInvalidRun)
		}
	case OutcomeSucceeded, OutcomeFailed:
		if r.FinishedAt.IsZero() {
			return fmt.Errorf("%w: missing finish time", ErrInvalidRun)
		}
	default:
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidRun, r.Outcome)
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("%w: missing start time", ErrInvalidRun)
	}
	if r.DerivedValue != nil && r.DerivedValue.Sign() < 0 {
		return fmt.Errorf("%w: negative derived value", ErrInvalidRun)
	}
	return nil
}

// Store persists run records. Save upserts by RunID; Recent returns newest first.
type Store interface {
	Save(ctx context.Context, run Run) error
	Get(ctx context.Context, runID common.Hash) (Run, error)
	Recent(ctx context.Context, limit int) ([]Run, error)
}

// ClampLimit bounds a caller-supplied listing size to [1, MaxRecent].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return 1
	}
	if limit > MaxRecent {
		return MaxRecent
	}
	return limit
}

func cloneRun(r Run) Run {
	out := r
	if r.DerivedValue != nil {
		out.DerivedValue = new(big.Int).Set(r.DerivedValue)
	}
	return out
}
