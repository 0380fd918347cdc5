package contracts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidConfig = errors.New("contracts: invalid config")

// Addresses locates the prover and verifier contracts the pipeline talks to.
type Addresses struct {
	Prover   common.Address
	Verifier common.Address
}

func (a Addresses) Valid() bool {
	return a.Prover != (common.Address{}) && a.Verifier != (common.Address{})
}

// StaticLocator returns addresses known ahead of time.
type StaticLocator struct {
	Addresses Addresses
}

func (l StaticLocator) Setup(context.Context) (Addresses, error) {
	if !l.Addresses.Valid() {
		return Addresses{}, fmt.Errorf("%w: prover and verifier addresses are required", ErrInvalidConfig)
	}
	return l.Addresses, nil
}

type ContractDeployer interface {
	Deploy(ctx context.Context, bytecode []byte) (common.Address, common.Hash, error)
}

// Deployer deploys fresh prover and verifier contracts, prover first.
type Deployer struct {
	deployer ContractDeployer
	prover   Spec
	verifier Spec
	log      *slog.Logger
}

func NewDeployer(d ContractDeployer, prover Spec, verifier Spec, log *slog.Logger) (*Deployer, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: nil deployer", ErrInvalidConfig)
	}
	if len(prover.Bytecode) == 0 || len(verifier.Bytecode) == 0 {
		return nil, fmt.Errorf("%w: prover and verifier bytecode are required", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Deployer{deployer: d, prover: prover, verifier: verifier, log: log}, nil
}

func (d *Deployer) Setup(ctx context.Context) (Addresses, error) {
	d.log.Info("deploying contracts", "prover", d.prover.Name, "verifier", d.verifier.Name)

	proverAddr, proverTx, err := d.deployer.Deploy(ctx, d.prover.Bytecode)
	if err != nil {
		return Addresses{}, fmt.Errorf("contracts: deploy %s: %w", d.prover.Name, err)
	}
	verifierCode, err := creationCode(d.verifier, proverAddr)
	if err != nil {
		return Addresses{}, err
	}
	verifierAddr, verifierTx, err := d.deployer.Deploy(ctx, verifierCode)
	if err != nil {
		return Addresses{}, fmt.Errorf("contracts: deploy %s: %w", d.verifier.Name, err)
	}

	out := Addresses{Prover: proverAddr, Verifier: verifierAddr}
	if !out.Valid() {
		return Addresses{}, fmt.Errorf("contracts: deployment returned zero address")
	}
	d.log.Info("contracts deployed",
		"prover", proverAddr,
		"proverTx", proverTx,
		"verifier", verifierAddr,
		"verifierTx", verifierTx,
	)
	return out, nil
}

// creationCode appends constructor arguments to the verifier bytecode. A constructor taking a
// single address receives the prover's.
func creationCode(s Spec, prover common.Address) ([]byte, error) {
	inputs := s.ABI.Constructor.Inputs
	switch {
	case len(inputs) == 0:
		return s.Bytecode, nil
	case len(inputs) == 1 && inputs[0].Type.T == abi.AddressTy:
		args, err := s.ABI.Pack("", prover)
		if err != nil {
			return nil, fmt.Errorf("contracts: pack %s constructor: %w", s.Name, err)
		}
		out := make([]byte, 0, len(s.Bytecode)+len(args))
		out = append(out, s.Bytecode...)
		return append(out, args...), nil
	default:
		return nil, fmt.Errorf("%w: unsupported %s constructor %s", ErrInvalidConfig, s.Name, s.ABI.Constructor.Sig)
	}
}
