package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// EnvProvider reads credentials from environment variables named by the key.
type EnvProvider struct{}

func (EnvProvider) Get(_ context.Context, key string) (string, error) {
	name := strings.TrimSpace(key)
	if name == "" {
		return "", fmt.Errorf("%w: empty env var name", ErrInvalidConfig)
	}
	v, ok := os.LookupEnv(name)
	if v = strings.TrimSpace(v); !ok || v == "" {
		return "", fmt.Errorf("%w: env %s is unset or blank", ErrNotFound, name)
	}
	return v, nil
}

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerProvider reads AWS Secrets Manager secrets. A key of the form "<secret-id>#<field>"
// selects one string field of a JSON secret, so all bot credentials can live in a single secret.
// Each secret id is fetched at most once per provider.
type SecretsManagerProvider struct {
	api secretsManagerAPI

	mu    sync.Mutex
	cache map[string]string
}

func NewSecretsManager(ctx context.Context) (*SecretsManagerProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: aws config: %v", ErrInvalidConfig, err)
	}
	return NewSecretsManagerWithClient(secretsmanager.NewFromConfig(cfg))
}

func NewSecretsManagerWithClient(api secretsManagerAPI) (*SecretsManagerProvider, error) {
	if api == nil {
		return nil, fmt.Errorf("%w: nil secrets manager client", ErrInvalidConfig)
	}
	return &SecretsManagerProvider{api: api, cache: make(map[string]string)}, nil
}

func (p *SecretsManagerProvider) Get(ctx context.Context, key string) (string, error) {
	id, field, _ := strings.Cut(strings.TrimSpace(key), "#")
	id, field = strings.TrimSpace(id), strings.TrimSpace(field)
	if id == "" {
		return "", fmt.Errorf("%w: empty secret id", ErrInvalidConfig)
	}

	raw, err := p.secret(ctx, id)
	if err != nil {
		return "", err
	}
	if field == "" {
		return raw, nil
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("secrets: secret %q is not a JSON object", id)
	}
	v, ok := doc[field].(string)
	if v = strings.TrimSpace(v); !ok || v == "" {
		return "", fmt.Errorf("%w: secret %q has no field %q", ErrNotFound, id, field)
	}
	return v, nil
}

func (p *SecretsManagerProvider) secret(ctx context.Context, id string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.cache[id]; ok {
		return v, nil
	}
	out, err := p.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &id})
	if err != nil {
		return "", fmt.Errorf("secrets: fetch %q: %w", id, err)
	}
	var v string
	switch {
	case out.SecretString != nil:
		v = strings.TrimSpace(*out.SecretString)
	case len(out.SecretBinary) > 0:
		v = strings.TrimSpace(string(out.SecretBinary))
	}
	if v == "" {
		return "", fmt.Errorf("%w: secret %q is empty", ErrNotFound, id)
	}
	p.cache[id] = v
	return v, nil
}
