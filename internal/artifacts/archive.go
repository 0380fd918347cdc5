package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/newsproof/newsbot/internal/webproof"
)

const (
	DriverS3     = "s3"
	DriverMemory = "memory"

	contentTypeJSON = "application/json"
	metaUpdateID    = "update-id"

	defaultMaxGetSize int64 = 16 << 20
)

var (
	ErrInvalidConfig = errors.New("artifacts: invalid config")
	ErrNotFound      = errors.New("artifacts: not found")
	ErrTooLarge      = errors.New("artifacts: object too large")
)

// Archive keeps the web proof each run was proven from, keyed webproofs/<runID>.json.
type Archive interface {
	Save(ctx context.Context, runID common.Hash, updateID int64, artifact webproof.Artifact) (string, error)
	Load(ctx context.Context, runID common.Hash) (webproof.Artifact, error)
}

type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Config struct {
	Driver string
	Prefix string

	// MaxGetSize bounds bytes returned by Load. Defaults to 16 MiB when <= 0.
	MaxGetSize int64

	// S3 fields.
	Bucket   string
	S3Client S3Client
}

func New(cfg Config) (Archive, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverMemory:
		return NewMemoryArchive(cfg.Prefix), nil
	case "", DriverS3:
		return newS3Archive(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// Key returns the logical object key for runID, without any prefix.
func Key(runID common.Hash) string {
	return "webproofs/" + runID.Hex() + ".json"
}

// objectKey places Key(runID) under prefix. Surrounding slashes in prefix are ignored.
func objectKey(prefix string, runID common.Hash) string {
	if prefix = strings.Trim(strings.TrimSpace(prefix), "/"); prefix != "" {
		return prefix + "/" + Key(runID)
	}
	return Key(runID)
}

func validate(runID common.Hash, artifact webproof.Artifact) error {
	if (runID == common.Hash{}) {
		return fmt.Errorf("%w: missing run id", ErrInvalidConfig)
	}
	if len(artifact) == 0 {
		return fmt.Errorf("%w: empty artifact", ErrInvalidConfig)
	}
	return nil
}

type MemoryArchive struct {
	mu      sync.RWMutex
	prefix  string
	objects map[string][]byte
	meta    map[string]map[string]string
}

func NewMemoryArchive(prefix string) *MemoryArchive {
	return &MemoryArchive{
		prefix:  prefix,
		objects: make(map[string][]byte),
		meta:    make(map[string]map[string]string),
	}
}

func (m *MemoryArchive) Save(_ context.Context, runID common.Hash, updateID int64, artifact webproof.Artifact) (string, error) {
	if err := validate(runID, artifact); err != nil {
		return "", err
	}
	key := objectKey(m.prefix, runID)

	m.mu.Lock()
	m.objects[key] = append([]byte(nil), artifact...)
	m.meta[key] = map[string]string{metaUpdateID: strconv.FormatInt(updateID, 10)}
	m.mu.Unlock()
	return key, nil
}

func (m *MemoryArchive) Load(_ context.Context, runID common.Hash) (webproof.Artifact, error) {
	key := objectKey(m.prefix, runID)

	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return webproof.Artifact(append([]byte(nil), data...)), nil
}

// Metadata returns the object metadata stored with runID's artifact.
func (m *MemoryArchive) Metadata(runID common.Hash) map[string]string {
	key := objectKey(m.prefix, runID)

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.meta[key]))
	for k, v := range m.meta[key] {
		out[k] = v
	}
	return out
}

type s3Archive struct {
	client     S3Client
	bucket     string
	prefix     string
	maxGetSize int64
}

func newS3Archive(cfg Config) (Archive, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
	}
	if cfg.S3Client == nil {
		return nil, fmt.Errorf("%w: s3 client is required", ErrInvalidConfig)
	}
	maxGet := cfg.MaxGetSize
	if maxGet <= 0 {
		maxGet = defaultMaxGetSize
	}
	return &s3Archive{
		client:     cfg.S3Client,
		bucket:     bucket,
		prefix:     cfg.Prefix,
		maxGetSize: maxGet,
	}, nil
}

func (s *s3Archive) Save(ctx context.Context, runID common.Hash, updateID int64, artifact webproof.Artifact) (string, error) {
	if err := validate(runID, artifact); err != nil {
		return "", err
	}
	key := objectKey(s.prefix, runID)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(artifact),
		ContentType: aws.String(contentTypeJSON),
		Metadata:    map[string]string{metaUpdateID: strconv.FormatInt(updateID, 10)},
	})
	if err != nil {
		return "", fmt.Errorf("artifacts/s3: put %q: %w", key, err)
	}
	return key, nil
}

func (s *s3Archive) Load(ctx context.Context, runID common.Hash) (webproof.Artifact, error) {
	key := objectKey(s.prefix, runID)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("artifacts/s3: get %q: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, s.maxGetSize+1))
	if err != nil {
		return nil, fmt.Errorf("artifacts/s3: read %q: %w", key, err)
	}
	if int64(len(data)) > s.maxGetSize {
		return nil, fmt.Errorf("%w: key %q exceeds max %d bytes", ErrTooLarge, key, s.maxGetSize)
	}
	return webproof.Artifact(data), nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "404":
		return true
	default:
		return false
	}
}
