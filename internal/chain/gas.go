package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
)

var ErrInvalidFeeArgs = errors.New("chain: invalid fee args")

// baseFeeHeadroom multiplies the latest base fee in the fee cap so a transaction stays
// includable while base fees climb for a few blocks.
const baseFeeHeadroom = 2

// feeQuote is the EIP-1559 pricing for one transaction.
type feeQuote struct {
	TipCap *big.Int
	FeeCap *big.Int
}

// quoteFees prices a transaction as tip = max(suggested, floor) and fee = headroom*base + tip.
func quoteFees(baseFee, suggestedTip, tipFloor *big.Int) (feeQuote, error) {
	for _, v := range []*big.Int{baseFee, suggestedTip, tipFloor} {
		if v == nil || v.Sign() < 0 {
			return feeQuote{}, ErrInvalidFeeArgs
		}
	}
	tip := suggestedTip
	if tip.Cmp(tipFloor) < 0 {
		tip = tipFloor
	}
	fee := new(big.Int).Mul(baseFee, big.NewInt(baseFeeHeadroom))
	fee.Add(fee, tip)
	return feeQuote{TipCap: new(big.Int).Set(tip), FeeCap: fee}, nil
}

// fees reads the latest base fee and suggested tip from the backend.
func (s *Submitter) fees(ctx context.Context) (feeQuote, error) {
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return feeQuote{}, fmt.Errorf("suggest tip: %w", err)
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return feeQuote{}, fmt.Errorf("latest header: %w", err)
	}
	if head.BaseFee == nil {
		return feeQuote{}, errors.New("latest header has no base fee")
	}
	return quoteFees(head.BaseFee, tip, s.cfg.MinTipCap)
}

// gasLimit pads an estimate by mult, keeping the estimate when mult <= 1 or the product overflows.
func gasLimit(estimate uint64, mult float64) uint64 {
	if mult <= 1 {
		return estimate
	}
	padded := math.Ceil(float64(estimate) * mult)
	if padded >= math.MaxUint64 || uint64(padded) < estimate {
		return estimate
	}
	return uint64(padded)
}
