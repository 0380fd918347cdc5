package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidConfig = errors.New("secrets: invalid config")
	ErrNotFound      = errors.New("secrets: not found")
)

const (
	DriverEnv = "env"
	DriverAWS = "aws"
)

type Provider interface {
	Get(ctx context.Context, key string) (string, error)
}

// NewProvider returns the provider for driver. An empty driver means env.
func NewProvider(ctx context.Context, driver string) (Provider, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "", DriverEnv:
		return EnvProvider{}, nil
	case DriverAWS:
		return NewSecretsManager(ctx)
	default:
		return nil, fmt.Errorf("%w: unsupported secrets driver %q", ErrInvalidConfig, driver)
	}
}

// Keys names where each credential lives in a Provider. ProverToken is optional.
type Keys struct {
	BotToken    string
	PrivateKey  string
	ProverToken string
}

// Credentials never print their values.
type Credentials struct {
	BotToken    string
	PrivateKey  string
	ProverToken string
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{BotToken:%s PrivateKey:%s ProverToken:%s}",
		redact(c.BotToken), redact(c.PrivateKey), redact(c.ProverToken))
}

func (c Credentials) GoString() string { return c.String() }

func redact(v string) string {
	if v == "" {
		return "<unset>"
	}
	return "<redacted>"
}

// Load resolves every credential in keys. A missing optional prover token is not an error.
func Load(ctx context.Context, p Provider, keys Keys) (Credentials, error) {
	if p == nil {
		return Credentials{}, fmt.Errorf("%w: nil provider", ErrInvalidConfig)
	}
	var (
		out Credentials
		err error
	)
	if out.BotToken, err = p.Get(ctx, keys.BotToken); err != nil {
		return Credentials{}, fmt.Errorf("bot token: %w", err)
	}
	if out.PrivateKey, err = p.Get(ctx, keys.PrivateKey); err != nil {
		return Credentials{}, fmt.Errorf("private key: %w", err)
	}
	if strings.TrimSpace(keys.ProverToken) != "" {
		out.ProverToken, err = p.Get(ctx, keys.ProverToken)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Credentials{}, fmt.Errorf("prover token: %w", err)
		}
	}
	return out, nil
}
