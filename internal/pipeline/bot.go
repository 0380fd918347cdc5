package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/newsproof/newsbot/internal/artifacts"
	"github.com/newsproof/newsbot/internal/chain"
	"github.com/newsproof/newsbot/internal/channel"
	"github.com/newsproof/newsbot/internal/contracts"
	"github.com/newsproof/newsbot/internal/prover"
	"github.com/newsproof/newsbot/internal/runid"
	"github.com/newsproof/newsbot/internal/runlog"
	"github.com/newsproof/newsbot/internal/webproof"
)

var (
	ErrInvalidConfig = errors.New("pipeline: invalid config")
	ErrIllegalState  = errors.New("pipeline: illegal state")
)

const (
	DefaultLongPollTimeout = 30
	DefaultPassTimeout     = 15 * time.Minute
)

type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	// StateStopping means Shutdown cancelled the loop and Start has not returned yet.
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Setup interface {
	Setup(ctx context.Context) (contracts.Addresses, error)
}

type Source interface {
	Run(ctx context.Context, handler channel.Handler, timeoutSeconds int) error
	Cursor() int64
}

type Notifier interface {
	Notify(ctx context.Context, userInput string) ([]byte, error)
}

type Notarizer interface {
	GenerateWebProof(ctx context.Context, target string) (webproof.Artifact, error)
}

type Prover interface {
	Prove(ctx context.Context, req prover.Request) (prover.Result, error)
}

type Verifier interface {
	Verify(ctx context.Context, req chain.VerifyRequest) (common.Hash, error)
}

type RunPublisher interface {
	PublishRun(ctx context.Context, run runlog.Run) error
}

type Config struct {
	// TargetURL is the page every pass notarizes.
	TargetURL string

	ProverABI    abi.ABI
	VerifierABI  abi.ABI
	VerifyMethod string

	LongPollTimeout int
	PassTimeout     time.Duration

	Now func() time.Time
}

// Deps are the collaborators of a Bot. Notifier, Runs, Events and Archive are optional.
type Deps struct {
	Setup     Setup
	Source    Source
	Notarizer Notarizer
	Prover    Prover
	Verifier  Verifier

	Notifier Notifier
	Runs     runlog.Store
	Events   RunPublisher
	Archive  artifacts.Archive
}

type BotStatus struct {
	State           string         `json:"state"`
	Initialized     bool           `json:"initialized"`
	Running         bool           `json:"running"`
	ProverAddress   common.Address `json:"proverAddress"`
	VerifierAddress common.Address `json:"verifierAddress"`
	LastCursor      int64          `json:"lastCursor"`
}

// Bot drives one pipeline pass per non-empty poll batch.
type Bot struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	initMu sync.Mutex

	mu     sync.Mutex
	state  State
	addrs  contracts.Addresses
	cancel context.CancelFunc
}

func New(cfg Config, deps Deps, log *slog.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.TargetURL) == "" {
		return nil, fmt.Errorf("%w: missing target url", ErrInvalidConfig)
	}
	if _, ok := cfg.ProverABI.Methods[prover.FunctionName]; !ok {
		return nil, fmt.Errorf("%w: prover abi has no %s()", ErrInvalidConfig, prover.FunctionName)
	}
	if strings.TrimSpace(cfg.VerifyMethod) == "" {
		cfg.VerifyMethod = chain.DefaultVerifyMethod
	}
	if _, ok := cfg.VerifierABI.Methods[cfg.VerifyMethod]; !ok {
		return nil, fmt.Errorf("%w: verifier abi has no %s()", ErrInvalidConfig, cfg.VerifyMethod)
	}
	if cfg.LongPollTimeout < 0 || cfg.PassTimeout < 0 {
		return nil, fmt.Errorf("%w: timeouts must be >= 0", ErrInvalidConfig)
	}
	if cfg.LongPollTimeout == 0 {
		cfg.LongPollTimeout = DefaultLongPollTimeout
	}
	if cfg.PassTimeout == 0 {
		cfg.PassTimeout = DefaultPassTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Setup == nil || deps.Source == nil || deps.Notarizer == nil || deps.Prover == nil || deps.Verifier == nil {
		return nil, fmt.Errorf("%w: nil setup/source/notarizer/prover/verifier", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Bot{cfg: cfg, deps: deps, log: log}, nil
}

// Initialize locates or deploys the contracts once. A failed setup leaves the bot uninitialized.
func (b *Bot) Initialize(ctx context.Context) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	b.mu.Lock()
	state := b.state
	b.mu.Unlock()
	if state != StateUninitialized {
		b.log.Info("bot already initialized", "state", state.String())
		return nil
	}

	addrs, err := b.deps.Setup.Setup(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: initialize: %w", err)
	}
	if !addrs.Valid() {
		return fmt.Errorf("%w: setup returned zero contract address", ErrInvalidConfig)
	}

	b.mu.Lock()
	b.addrs = addrs
	b.state = StateInitialized
	b.mu.Unlock()

	b.log.Info("bot initialized", "prover", addrs.Prover, "verifier", addrs.Verifier)
	return nil
}

// Start blocks in the poll loop until ctx is cancelled or Shutdown is called.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case StateUninitialized:
		b.mu.Unlock()
		return fmt.Errorf("%w: start before initialize", ErrIllegalState)
	case StateRunning:
		b.mu.Unlock()
		b.log.Info("bot already running")
		return nil
	case StateStopping:
		b.mu.Unlock()
		return fmt.Errorf("%w: previous poll loop is still stopping", ErrIllegalState)
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.state = StateRunning
	b.cancel = cancel
	b.mu.Unlock()

	b.log.Info("bot started", "cursor", b.deps.Source.Cursor(), "longPollTimeout", b.cfg.LongPollTimeout)
	err := b.deps.Source.Run(runCtx, b.HandleBatch, b.cfg.LongPollTimeout)
	cancel()

	b.mu.Lock()
	b.state = StateStopped
	b.cancel = nil
	b.mu.Unlock()

	if err != nil && runCtx.Err() == nil {
		return fmt.Errorf("pipeline: poll loop: %w", err)
	}
	b.log.Info("bot stopped", "cursor", b.deps.Source.Cursor())
	return nil
}

// Shutdown cancels a running poll loop. It does not wait for Start to return; the state stays
// StateStopping until it does.
func (b *Bot) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateRunning {
		b.log.Info("shutdown ignored", "state", b.state.String())
		return
	}
	b.state = StateStopping
	if b.cancel != nil {
		b.cancel()
	}
	b.log.Info("bot shutting down")
}

func (b *Bot) Status() BotStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BotStatus{
		State:           b.state.String(),
		Initialized:     b.state != StateUninitialized,
		Running:         b.state == StateRunning,
		ProverAddress:   b.addrs.Prover,
		VerifierAddress: b.addrs.Verifier,
		LastCursor:      b.deps.Source.Cursor(),
	}
}

// HandleBatch is the poll loop handler. Pass failures are logged, never returned.
func (b *Bot) HandleBatch(ctx context.Context, batch channel.Batch) error {
	if batch.Empty() {
		return nil
	}
	b.RunPass(ctx, batch)
	return nil
}

// RunPass executes notify, web proof, prove and verify for the first update in batch.
func (b *Bot) RunPass(ctx context.Context, batch channel.Batch) runlog.Run {
	if batch.Empty() {
		return runlog.Run{}
	}
	first := batch.Result[0]
	text := first.Text()

	run := runlog.Run{
		RunID:     runid.RunIDV1(first.UpdateID, text),
		UpdateID:  first.UpdateID,
		Stage:     runlog.StageNotify,
		Outcome:   runlog.OutcomeRunning,
		StartedAt: b.cfg.Now().UTC(),
	}
	log := b.log.With("runId", run.RunID.Hex(), "updateId", run.UpdateID)
	if n := len(batch.Result); n > 1 {
		log.Warn("batch has more updates than are forwarded", "updates", n)
	}
	log.Info("pass started")
	b.saveRun(ctx, log, run)

	passCtx, cancel := context.WithTimeout(ctx, b.cfg.PassTimeout)
	defer cancel()

	b.notify(passCtx, log, text)

	b.mu.Lock()
	addrs := b.addrs
	b.mu.Unlock()

	run.Stage = runlog.StageWebProof
	artifact, err := b.deps.Notarizer.GenerateWebProof(passCtx, b.cfg.TargetURL)
	if err != nil {
		return b.finish(ctx, log, run, err)
	}
	if b.deps.Archive != nil {
		if key, err := b.deps.Archive.Save(passCtx, run.RunID, run.UpdateID, artifact); err != nil {
			log.Warn("archive web proof failed", "err", err)
		} else {
			log.Debug("web proof archived", "key", key)
		}
	}

	run.Stage = runlog.StageProve
	res, err := b.deps.Prover.Prove(passCtx, prover.Request{
		ProverAddress: addrs.Prover,
		ABI:           b.cfg.ProverABI,
		Artifact:      artifact,
	})
	if err != nil {
		return b.finish(ctx, log, run, err)
	}
	run.DerivedValue = res.DerivedValue

	run.Stage = runlog.StageVerify
	txHash, err := b.deps.Verifier.Verify(passCtx, chain.VerifyRequest{
		Verifier:     addrs.Verifier,
		ABI:          b.cfg.VerifierABI,
		Method:       b.cfg.VerifyMethod,
		Proof:        res.Proof,
		DerivedValue: res.DerivedValue,
	})
	if err != nil {
		return b.finish(ctx, log, run, err)
	}
	run.TxHash = txHash
	run.Stage = runlog.StageDone
	return b.finish(ctx, log, run, nil)
}

func (b *Bot) notify(ctx context.Context, log *slog.Logger, text string) {
	if b.deps.Notifier == nil {
		return
	}
	if strings.TrimSpace(text) == "" {
		log.Warn("update has no text; agent not notified")
		return
	}
	resp, err := b.deps.Notifier.Notify(ctx, text)
	if err != nil {
		log.Warn("agent notify failed", "err", err)
		return
	}
	log.Info("agent notified", "response", truncate(string(resp), 512))
}

func (b *Bot) finish(ctx context.Context, log *slog.Logger, run runlog.Run, err error) runlog.Run {
	run.FinishedAt = b.cfg.Now().UTC()
	elapsed := run.FinishedAt.Sub(run.StartedAt)
	if err != nil {
		run.Outcome = runlog.OutcomeFailed
		run.Error = err.Error()
		log.Error("pass failed", "stage", string(run.Stage), "elapsed", elapsed.String(), "err", err)
	} else {
		run.Outcome = runlog.OutcomeSucceeded
		log.Info("pass completed", "txHash", run.TxHash, "derivedValue", run.DerivedValue, "elapsed", elapsed.String())
	}

	b.saveRun(ctx, log, run)
	if b.deps.Events != nil {
		if err := b.deps.Events.PublishRun(ctx, run); err != nil {
			log.Warn("publish run failed", "err", err)
		}
	}
	return run
}

func (b *Bot) saveRun(ctx context.Context, log *slog.Logger, run runlog.Run) {
	if b.deps.Runs == nil {
		return
	}
	if err := b.deps.Runs.Save(ctx, run); err != nil {
		log.Warn("save run failed", "outcome", string(run.Outcome), "err", err)
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
