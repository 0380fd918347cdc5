package chain

import (
	"errors"
	"math"
	"math/big"
	"testing"
)

func TestQuoteFees(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name             string
		base, tip, floor int64
		wantTip, wantFee int64
	}{
		{name: "floor wins", base: 100, tip: 2, floor: 5, wantTip: 5, wantFee: 205},
		{name: "suggestion wins", base: 10, tip: 7, floor: 1, wantTip: 7, wantFee: 27},
		{name: "zero base fee", base: 0, tip: 3, floor: 0, wantTip: 3, wantFee: 3},
	}
	for _, tc := range cases {
		q, err := quoteFees(big.NewInt(tc.base), big.NewInt(tc.tip), big.NewInt(tc.floor))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if q.TipCap.Int64() != tc.wantTip || q.FeeCap.Int64() != tc.wantFee {
			t.Fatalf("%s: got tip=%s fee=%s", tc.name, q.TipCap, q.FeeCap)
		}
	}
}

func TestQuoteFees_DoesNotAliasInputs(t *testing.T) {
	t.Parallel()

	floor := big.NewInt(9)
	q, err := quoteFees(big.NewInt(1), big.NewInt(1), floor)
	if err != nil {
		t.Fatalf("quoteFees: %v", err)
	}
	q.TipCap.SetInt64(0)
	if floor.Int64() != 9 {
		t.Fatalf("tip floor mutated to %s", floor)
	}
}

func TestQuoteFees_RejectsInvalid(t *testing.T) {
	t.Parallel()

	if _, err := quoteFees(big.NewInt(-1), big.NewInt(1), big.NewInt(1)); !errors.Is(err, ErrInvalidFeeArgs) {
		t.Fatalf("negative base: %v", err)
	}
	if _, err := quoteFees(nil, big.NewInt(1), big.NewInt(1)); !errors.Is(err, ErrInvalidFeeArgs) {
		t.Fatalf("nil base: %v", err)
	}
}

func TestGasLimit(t *testing.T) {
	t.Parallel()

	if got := gasLimit(50_000, 1); got != 50_000 {
		t.Fatalf("mult 1: got %d", got)
	}
	if got := gasLimit(50_000, 1.5); got != 75_000 {
		t.Fatalf("mult 1.5: got %d", got)
	}
	if got := gasLimit(math.MaxUint64-1, 2); got != math.MaxUint64-1 {
		t.Fatalf("overflow: got %d", got)
	}
}
