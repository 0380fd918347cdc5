package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrInvalidConfig       = errors.New("chain: invalid submitter config")
	ErrInvalidRequest      = errors.New("chain: invalid request")
	ErrGasEstimation       = errors.New("chain: gas estimation failed")
	ErrSubmission          = errors.New("chain: transaction submission failed")
	ErrConfirmationTimeout = errors.New("chain: confirmation timeout")
)

const (
	DefaultVerifyMethod      = "verify"
	defaultReceiptAttempts   = 60
	defaultReceiptRetryDelay = time.Second
)

// Backend is the chain access the submitter needs. RPCBackend adapts an ethclient.Client.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	// PendingEstimateGas estimates msg against the pending block.
	PendingEstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type Config struct {
	ChainID *big.Int

	// GasLimitMultiplier scales the estimate. Values <= 1 use the estimate as-is.
	GasLimitMultiplier float64
	// MinTipCap floors the suggested priority fee. Defaults to zero.
	MinTipCap *big.Int

	// Confirmations is the block depth required before a receipt counts. Defaults to 1.
	Confirmations uint64
	// ReceiptAttempts bounds receipt checks; ReceiptRetryDelay separates them. Defaults 60 and 1s.
	ReceiptAttempts   int
	ReceiptRetryDelay time.Duration

	Sleep func(ctx context.Context, d time.Duration) error
	Log   *slog.Logger
}

// VerifyRequest is a call to verify(proof, derivedValue) on a verifier contract.
type VerifyRequest struct {
	Verifier common.Address
	ABI      abi.ABI
	// Method defaults to "verify".
	Method string

	Proof        any
	DerivedValue *big.Int
}

type sendResult struct {
	TxHash  common.Hash
	Nonce   uint64
	Gas     uint64
	Receipt *types.Receipt
}

// Submitter sends transactions from a single account and waits for confirmations.
//
// Sends are serialized: estimation, nonce reservation and broadcast for one transaction finish
// before the next begins.
type Submitter struct {
	backend Backend
	signer  Signer
	nonces  *nonceCursor
	cfg     Config

	mu sync.Mutex
}

func NewSubmitter(backend Backend, signer Signer, cfg Config) (*Submitter, error) {
	if backend == nil || signer == nil {
		return nil, fmt.Errorf("%w: nil backend or signer", ErrInvalidConfig)
	}
	if (signer.Address() == common.Address{}) {
		return nil, fmt.Errorf("%w: signer has zero address", ErrInvalidConfig)
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id must be > 0", ErrInvalidConfig)
	}
	if cfg.GasLimitMultiplier < 0 {
		return nil, fmt.Errorf("%w: gas multiplier must be >= 0", ErrInvalidConfig)
	}
	if cfg.MinTipCap == nil {
		cfg.MinTipCap = big.NewInt(0)
	}
	if cfg.MinTipCap.Sign() < 0 {
		return nil, fmt.Errorf("%w: min tip must be >= 0", ErrInvalidConfig)
	}
	if cfg.ReceiptAttempts < 0 || cfg.ReceiptRetryDelay < 0 {
		return nil, fmt.Errorf("%w: receipt attempts and delay must be >= 0", ErrInvalidConfig)
	}
	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.ReceiptAttempts == 0 {
		cfg.ReceiptAttempts = defaultReceiptAttempts
	}
	if cfg.ReceiptRetryDelay == 0 {
		cfg.ReceiptRetryDelay = defaultReceiptRetryDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return &Submitter{
		backend: backend,
		signer:  signer,
		nonces:  newNonceCursor(backend, signer.Address()),
		cfg:     cfg,
	}, nil
}

func (s *Submitter) From() common.Address {
	return s.signer.Address()
}

// Verify submits verify(proof, derivedValue) and returns the transaction hash once the configured
// confirmations are observed.
//
// The receipt status is logged but not checked: a reverted verification still returns its hash.
func (s *Submitter) Verify(ctx context.Context, req VerifyRequest) (common.Hash, error) {
	if (req.Verifier == common.Address{}) {
		return common.Hash{}, fmt.Errorf("%w: zero verifier address", ErrInvalidRequest)
	}
	if req.DerivedValue == nil {
		return common.Hash{}, fmt.Errorf("%w: nil derived value", ErrInvalidRequest)
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = DefaultVerifyMethod
	}
	data, err := req.ABI.Pack(method, req.Proof, req.DerivedValue)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: pack %s: %w", ErrInvalidRequest, method, err)
	}

	to := req.Verifier
	res, err := s.send(ctx, &to, data)
	if err != nil {
		return common.Hash{}, err
	}

	rc := res.Receipt
	s.cfg.Log.Info("verify transaction confirmed",
		"txHash", res.TxHash,
		"verifier", to,
		"nonce", res.Nonce,
		"gas", res.Gas,
		"status", rc.Status,
		"block", rc.BlockNumber,
		"gasUsed", rc.GasUsed,
	)
	if rc.Status != types.ReceiptStatusSuccessful {
		s.cfg.Log.Warn("verify transaction reverted on-chain; receipt status is not enforced", "txHash", res.TxHash)
	}
	return res.TxHash, nil
}

// Deploy sends a contract-creation transaction and returns the created address.
func (s *Submitter) Deploy(ctx context.Context, bytecode []byte) (common.Address, common.Hash, error) {
	if len(bytecode) == 0 {
		return common.Address{}, common.Hash{}, fmt.Errorf("%w: empty bytecode", ErrInvalidRequest)
	}
	res, err := s.send(ctx, nil, bytecode)
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}
	if res.Receipt.Status != types.ReceiptStatusSuccessful {
		return common.Address{}, res.TxHash, fmt.Errorf("chain: deployment %s reverted", res.TxHash)
	}
	if (res.Receipt.ContractAddress == common.Address{}) {
		return common.Address{}, res.TxHash, fmt.Errorf("chain: deployment %s has no contract address", res.TxHash)
	}
	return res.Receipt.ContractAddress, res.TxHash, nil
}

func (s *Submitter) send(ctx context.Context, to *common.Address, data []byte) (sendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.signer.Address()
	value := big.NewInt(0)

	est, err := s.backend.PendingEstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return sendResult{}, fmt.Errorf("%w: %w", ErrGasEstimation, err)
	}
	gas := gasLimit(est, s.cfg.GasLimitMultiplier)
	s.cfg.Log.Info("estimated gas", "estimate", est, "gasLimit", gas)

	quote, err := s.fees(ctx)
	if err != nil {
		return sendResult{}, fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	nonce, err := s.nonces.reserve(ctx)
	if err != nil {
		return sendResult{}, fmt.Errorf("%w: nonce: %w", ErrSubmission, err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: quote.TipCap,
		GasFeeCap: quote.FeeCap,
		Gas:       gas,
		To:        to,
		Value:     value,
		Data:      data,
	})
	signed, err := s.signer.SignTx(tx, s.cfg.ChainID)
	if err != nil {
		s.nonces.release()
		return sendResult{}, fmt.Errorf("%w: sign: %w", ErrSubmission, err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		s.nonces.release()
		return sendResult{}, fmt.Errorf("%w: broadcast: %w", ErrSubmission, err)
	}
	txHash := signed.Hash()
	s.cfg.Log.Info("transaction sent", "txHash", txHash, "from", from, "nonce", nonce)

	receipt, err := s.awaitConfirmations(ctx, txHash)
	if err != nil {
		return sendResult{}, err
	}
	return sendResult{TxHash: txHash, Nonce: nonce, Gas: gas, Receipt: receipt}, nil
}

// awaitConfirmations polls for the receipt until it sits Confirmations blocks deep. Lookup errors
// count against the attempt budget like a missing receipt does.
func (s *Submitter) awaitConfirmations(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.ReceiptAttempts; attempt++ {
		receipt, err := s.backend.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			head, herr := s.backend.BlockNumber(ctx)
			if herr != nil {
				lastErr = herr
				break
			}
			if confirmed(receipt, head, s.cfg.Confirmations) {
				return receipt, nil
			}
		case errors.Is(err, ethereum.NotFound):
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			s.cfg.Log.Debug("receipt lookup failed", "txHash", txHash, "attempt", attempt, "err", err)
		}

		if attempt == s.cfg.ReceiptAttempts {
			break
		}
		if err := s.cfg.Sleep(ctx, s.cfg.ReceiptRetryDelay); err != nil {
			return nil, err
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s not confirmed after %d attempts: %w", ErrConfirmationTimeout, txHash, s.cfg.ReceiptAttempts, lastErr)
	}
	return nil, fmt.Errorf("%w: %s not confirmed after %d attempts", ErrConfirmationTimeout, txHash, s.cfg.ReceiptAttempts)
}

func confirmed(receipt *types.Receipt, head uint64, want uint64) bool {
	if receipt == nil || receipt.BlockNumber == nil || !receipt.BlockNumber.IsUint64() {
		return false
	}
	mined := receipt.BlockNumber.Uint64()
	if head < mined {
		return false
	}
	return head-mined+1 >= want
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
