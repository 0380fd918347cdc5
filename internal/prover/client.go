package prover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/newsproof/newsbot/internal/webproof"
)

var (
	ErrInvalidConfig = errors.New("prover: invalid config")
	ErrProving       = errors.New("prover: proving failed")
)

// FunctionName is the single prover entry point.
const FunctionName = "main"

const (
	methodCall       = "v_call"
	methodGetReceipt = "v_getProofReceipt"

	stateDone = "done"

	defaultPollInterval    = time.Second
	defaultMaxPollInterval = 10 * time.Second
	defaultMaxWait         = 10 * time.Minute
)

var errPending = errors.New("prover: result pending")

type rpcCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

type Config struct {
	ChainID  uint64
	GasLimit uint64

	// PollInterval and MaxPollInterval shape the exponential backoff used while awaiting a
	// result; MaxWait bounds the whole await.
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	MaxWait         time.Duration

	Log *slog.Logger
}

// Request asks the prover contract's main() to prove one web proof.
type Request struct {
	ProverAddress common.Address
	ABI           abi.ABI
	Artifact      webproof.Artifact
}

// Result is the decoded return of main(): the proof followed by the value it attests to.
// Proof holds a value of main()'s first output type, ready to pass to the verifier.
type Result struct {
	Proof        any
	DerivedValue *big.Int
	// CallResult is the raw ABI-encoded return data.
	CallResult []byte
}

type Client struct {
	rpc        rpcCaller
	cfg        Config
	newBackOff func() backoff.BackOff
}

// Dial connects to a prover JSON-RPC endpoint. A non-empty token is sent as a bearer header.
func Dial(ctx context.Context, endpoint string, token string, cfg Config) (*Client, func(), error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, nil, fmt.Errorf("%w: missing prover url", ErrInvalidConfig)
	}
	var opts []rpc.ClientOption
	if t := strings.TrimSpace(token); t != "" {
		opts = append(opts, rpc.WithHeader("Authorization", "Bearer "+t))
	}
	rc, err := rpc.DialOptions(ctx, endpoint, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial prover: %v", ErrInvalidConfig, err)
	}
	c, err := NewClient(rc, cfg)
	if err != nil {
		rc.Close()
		return nil, nil, err
	}
	return c, rc.Close, nil
}

func NewClient(caller rpcCaller, cfg Config) (*Client, error) {
	if caller == nil {
		return nil, fmt.Errorf("%w: nil rpc client", ErrInvalidConfig)
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("%w: chain id must be > 0", ErrInvalidConfig)
	}
	if cfg.PollInterval < 0 || cfg.MaxPollInterval < 0 || cfg.MaxWait < 0 {
		return nil, fmt.Errorf("%w: intervals must be >= 0", ErrInvalidConfig)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPollInterval == 0 {
		cfg.MaxPollInterval = defaultMaxPollInterval
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	c := &Client{rpc: caller, cfg: cfg}
	c.newBackOff = c.defaultBackOff
	return c, nil
}

func (c *Client) defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.PollInterval
	b.MaxInterval = c.cfg.MaxPollInterval
	b.MaxElapsedTime = c.cfg.MaxWait
	return b
}

type webProofArg struct {
	WebProofJson string `abi:"webProofJson"`
}

type callParams struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

type callContext struct {
	ChainID  uint64 `json:"chain_id"`
	GasLimit uint64 `json:"gas_limit"`
}

type receiptParams struct {
	Hash string `json:"hash"`
}

type proofReceipt struct {
	Status int               `json:"status"`
	State  string            `json:"state"`
	Data   *proofReceiptData `json:"data,omitempty"`
	Error  string            `json:"error,omitempty"`
}

type proofReceiptData struct {
	Proof         json.RawMessage `json:"proof,omitempty"`
	EvmCallResult hexutil.Bytes   `json:"evm_call_result"`
}

// Prove submits main({webProofJson}) and waits for the asynchronous result.
func (c *Client) Prove(ctx context.Context, req Request) (Result, error) {
	if (req.ProverAddress == common.Address{}) {
		return Result{}, fmt.Errorf("%w: zero prover address", ErrProving)
	}
	if len(req.Artifact) == 0 {
		return Result{}, fmt.Errorf("%w: empty web proof", ErrProving)
	}
	method, ok := req.ABI.Methods[FunctionName]
	if !ok {
		return Result{}, fmt.Errorf("%w: prover abi has no %s()", ErrProving, FunctionName)
	}
	data, err := packWebProof(req.ABI, method, req.Artifact)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrProving, err)
	}

	var hash string
	err = c.rpc.CallContext(ctx, &hash, methodCall,
		callParams{To: req.ProverAddress, Data: data},
		callContext{ChainID: c.cfg.ChainID, GasLimit: c.cfg.GasLimit},
	)
	if err != nil {
		return Result{}, fmt.Errorf("%w: submit: %w", ErrProving, err)
	}
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return Result{}, fmt.Errorf("%w: prover returned empty request hash", ErrProving)
	}
	c.cfg.Log.Info("proving request submitted", "hash", hash, "prover", req.ProverAddress)

	receipt, err := c.awaitResult(ctx, hash)
	if err != nil {
		return Result{}, err
	}
	out, err := decodeResult(method, *receipt.Data)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrProving, err)
	}
	c.cfg.Log.Info("proving completed", "hash", hash, "derivedValue", out.DerivedValue)
	return out, nil
}

func (c *Client) awaitResult(ctx context.Context, hash string) (proofReceipt, error) {
	var (
		receipt proofReceipt
		polls   int
	)
	op := func() error {
		polls++
		var r proofReceipt
		if err := c.rpc.CallContext(ctx, &r, methodGetReceipt, receiptParams{Hash: hash}); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		if msg := strings.TrimSpace(r.Error); msg != "" {
			return backoff.Permanent(errors.New(msg))
		}
		if r.State != stateDone {
			return errPending
		}
		if r.Status != 1 {
			return backoff.Permanent(fmt.Errorf("proving finished with status %d", r.Status))
		}
		if r.Data == nil || len(r.Data.EvmCallResult) == 0 {
			return backoff.Permanent(errors.New("result missing evm_call_result"))
		}
		receipt = r
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.cfg.Log.Debug("awaiting proving result", "hash", hash, "poll", polls, "err", err, "next", next.String())
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		if errors.Is(err, errPending) {
			return proofReceipt{}, fmt.Errorf("%w: result for %s not ready after %d polls", ErrProving, hash, polls)
		}
		return proofReceipt{}, fmt.Errorf("%w: await %s: %w", ErrProving, hash, err)
	}
	return receipt, nil
}

// packWebProof encodes main() for either a WebProof struct argument or a bare string.
func packWebProof(parsed abi.ABI, method abi.Method, artifact webproof.Artifact) ([]byte, error) {
	if len(method.Inputs) != 1 {
		return nil, fmt.Errorf("%s() must take exactly one argument, has %d", FunctionName, len(method.Inputs))
	}
	var arg any
	switch method.Inputs[0].Type.T {
	case abi.TupleTy:
		arg = webProofArg{WebProofJson: artifact.String()}
	case abi.StringTy:
		arg = artifact.String()
	default:
		return nil, fmt.Errorf("unsupported %s() argument type %s", FunctionName, method.Inputs[0].Type.String())
	}
	data, err := parsed.Pack(FunctionName, arg)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", FunctionName, err)
	}
	return data, nil
}

// decodeResult reads the value from evm_call_result. The proof slot there is a placeholder
// when the prover reports the proof separately, so data.proof wins when present.
func decodeResult(method abi.Method, data proofReceiptData) (Result, error) {
	outs, err := method.Outputs.Unpack(data.EvmCallResult)
	if err != nil {
		return Result{}, fmt.Errorf("unpack %s result: %w", FunctionName, err)
	}
	if len(outs) != 2 {
		return Result{}, fmt.Errorf("%s must return (proof, value), got %d values", FunctionName, len(outs))
	}
	derived, ok := outs[1].(*big.Int)
	if !ok || derived == nil {
		return Result{}, fmt.Errorf("%s second return value is %T, want *big.Int", FunctionName, outs[1])
	}
	proof := outs[0]
	if hasJSONValue(data.Proof) {
		proof, err = decodeProofJSON(method.Outputs[0].Type, data.Proof)
		if err != nil {
			return Result{}, err
		}
	}
	return Result{
		Proof:        proof,
		DerivedValue: derived,
		CallResult:   append([]byte(nil), data.EvmCallResult...),
	}, nil
}
