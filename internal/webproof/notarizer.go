package webproof

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os/exec"
	"strings"
)

var (
	ErrInvalidConfig   = errors.New("webproof: invalid config")
	ErrProofGeneration = errors.New("webproof: proof generation failed")
)

const defaultMaxOutputBytes = 8 << 20

// Artifact is the notarized web proof exactly as the notarization tool printed it.
type Artifact []byte

func (a Artifact) String() string { return string(a) }

type execCommandFn func(ctx context.Context, bin string, args []string) ([]byte, []byte, error)

type Config struct {
	// Binary is the vlayer CLI. Defaults to "vlayer".
	Binary    string
	NotaryURL string

	MaxOutputBytes int
	Log            *slog.Logger
}

// Notarizer produces web proofs by shelling out to `vlayer web-proof-fetch`.
type Notarizer struct {
	bin            string
	notaryURL      string
	maxOutputBytes int
	log            *slog.Logger
	execCommand    execCommandFn
}

func New(cfg Config) (*Notarizer, error) {
	bin := strings.TrimSpace(cfg.Binary)
	if bin == "" {
		bin = "vlayer"
	}
	notary := strings.TrimSpace(cfg.NotaryURL)
	if notary == "" {
		return nil, fmt.Errorf("%w: missing notary url", ErrInvalidConfig)
	}
	if _, err := url.Parse(notary); err != nil {
		return nil, fmt.Errorf("%w: parse notary url: %v", ErrInvalidConfig, err)
	}
	if cfg.MaxOutputBytes < 0 {
		return nil, fmt.Errorf("%w: max output bytes must be >= 0", ErrInvalidConfig)
	}
	maxOut := cfg.MaxOutputBytes
	if maxOut == 0 {
		maxOut = defaultMaxOutputBytes
	}
	log := cfg.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Notarizer{
		bin:            bin,
		notaryURL:      notary,
		maxOutputBytes: maxOut,
		log:            log,
		execCommand:    runExecCommand,
	}, nil
}

// GenerateWebProof notarizes a fetch of target and returns the tool's stdout untouched.
//
// Diagnostic output on stderr is logged; only a failed run or empty stdout is an error.
func (n *Notarizer) GenerateWebProof(ctx context.Context, target string) (Artifact, error) {
	if n == nil || n.execCommand == nil {
		return nil, fmt.Errorf("%w: nil notarizer", ErrInvalidConfig)
	}
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("%w: empty target url", ErrProofGeneration)
	}

	args := []string{"web-proof-fetch", "--notary", n.notaryURL, "--url", target}
	n.log.Info("generating web proof", "bin", n.bin, "notary", n.notaryURL)

	stdout, stderr, err := n.execCommand(ctx, n.bin, args)
	diag := strings.TrimSpace(string(stderr))
	if err != nil {
		if diag == "" {
			return nil, fmt.Errorf("%w: %w", ErrProofGeneration, err)
		}
		return nil, fmt.Errorf("%w: %w: %s", ErrProofGeneration, err, diag)
	}
	if diag != "" {
		n.log.Warn("web proof tool wrote to stderr", "stderr", diag)
	}
	if len(stdout) > n.maxOutputBytes {
		return nil, fmt.Errorf("%w: output exceeds %d bytes", ErrProofGeneration, n.maxOutputBytes)
	}
	if len(bytes.TrimSpace(stdout)) == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrProofGeneration)
	}

	n.log.Info("web proof generated", "bytes", len(stdout))
	return Artifact(stdout), nil
}

func runExecCommand(ctx context.Context, bin string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
