package runlog

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func runAt(id byte, startedAt time.Time) Run {
	return Run{
		RunID:     common.BytesToHash([]byte{id}),
		UpdateID:  int64(id),
		Stage:     StageNotify,
		Outcome:   OutcomeRunning,
		StartedAt: startedAt,
	}
}

func TestMemoryStore_SaveUpsertsAndGetClones(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	run := runAt(1, t0)
	if err := s.Save(ctx, run); err != nil {
		t.Fatalf("Save: %v", err)
	}

	run.Stage = StageDone
	run.Outcome = OutcomeSucceeded
	run.DerivedValue = big.NewInt(6_500_000)
	run.TxHash = common.HexToHash("0xabc")
	run.FinishedAt = t0.Add(time.Minute)
	if err := s.Save(ctx, run); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	got, err := s.Get(ctx, run.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stage != StageDone || got.Outcome != OutcomeSucceeded || got.TxHash != run.TxHash {
		t.Fatalf("unexpected record: %+v", got)
	}
	got.DerivedValue.SetInt64(0)

	again, _ := s.Get(ctx, run.RunID)
	if again.DerivedValue.Int64() != 6_500_000 {
		t.Fatalf("stored value was aliased: %s", again.DerivedValue)
	}

	recent, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("upsert duplicated record: %d", len(recent))
	}
}

func TestMemoryStore_RecentNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	for i := byte(1); i <= 5; i++ {
		if err := s.Save(ctx, runAt(i, t0.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	recent, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len: got %d", len(recent))
	}
	for i, want := range []int64{5, 4, 3} {
		if recent[i].UpdateID != want {
			t.Fatalf("recent[%d]: got %d want %d", i, recent[i].UpdateID, want)
		}
	}
}

func TestMemoryStore_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, common.HexToHash("0x01")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	bad := []Run{
		{},
		{RunID: common.HexToHash("0x01"), Stage: "bogus", Outcome: OutcomeRunning, StartedAt: t0},
		{RunID: common.HexToHash("0x01"), Stage: StageNotify, Outcome: OutcomeFailed, StartedAt: t0},
		{RunID: common.HexToHash("0x01"), Stage: StageNotify, Outcome: OutcomeRunning},
		{RunID: common.HexToHash("0x01"), Stage: StageDone, Outcome: OutcomeSucceeded, StartedAt: t0, FinishedAt: t0, DerivedValue: big.NewInt(-1)},
	}
	for i, r := range bad {
		if err := s.Save(ctx, r); !errors.Is(err, ErrInvalidRun) {
			t.Fatalf("case %d: expected ErrInvalidRun, got %v", i, err)
		}
	}
}

func TestMemoryStore_EvictsOldest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < MaxRecent+1; i++ {
		r := runAt(0, t0.Add(time.Duration(i)*time.Second))
		r.RunID = common.BigToHash(big.NewInt(int64(i + 1)))
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	if _, err := s.Get(ctx, common.BigToHash(big.NewInt(1))); !errors.Is(err, ErrNotFound) {
		t.Fatalf("oldest record should be evicted, got %v", err)
	}
	recent, _ := s.Recent(ctx, MaxRecent+10)
	if len(recent) != MaxRecent {
		t.Fatalf("len: got %d want %d", len(recent), MaxRecent)
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	cases := map[int]int{-3: 1, 0: 1, 7: 7, MaxRecent: MaxRecent, MaxRecent + 1: MaxRecent}
	for in, want := range cases {
		if got := ClampLimit(in); got != want {
			t.Fatalf("ClampLimit(%d): got %d want %d", in, got, want)
		}
	}
}
