package artifacts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/newsproof/newsbot/internal/webproof"
)

var runID = common.HexToHash("0x5a6a8f35ea6fbce9ebc657de70e77bb9b7f2030569f9c6fbf46ba783f913be98")

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "memory", cfg: Config{Driver: DriverMemory}},
		{name: "unsupported driver", cfg: Config{Driver: "gcs"}, wantErr: true},
		{name: "s3 missing bucket", cfg: Config{Driver: DriverS3, S3Client: &fakeS3Client{}}, wantErr: true},
		{name: "s3 missing client", cfg: Config{Driver: DriverS3, Bucket: "newsbot-artifacts"}, wantErr: true},
		{name: "default driver is s3", cfg: Config{Bucket: "newsbot-artifacts", S3Client: &fakeS3Client{}}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			archive, err := New(tc.cfg)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if archive == nil {
				t.Fatalf("New returned nil archive")
			}
		})
	}
}

func TestMemoryArchiveRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	archive := NewMemoryArchive("/newsbot/")

	payload := webproof.Artifact(`{"presentationJson":{}}`)
	key, err := archive.Save(ctx, runID, 42, payload)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if want := "newsbot/webproofs/" + runID.Hex() + ".json"; key != want {
		t.Fatalf("key: got %q want %q", key, want)
	}
	payload[0] = 'X'

	got, err := archive.Load(ctx, runID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.String() != `{"presentationJson":{}}` {
		t.Fatalf("payload aliased or wrong: %q", got)
	}
	if archive.Metadata(runID)[metaUpdateID] != "42" {
		t.Fatalf("metadata: %v", archive.Metadata(runID))
	}

	if _, err := archive.Load(ctx, common.HexToHash("0x01")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := archive.Save(ctx, common.Hash{}, 1, payload); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for zero run id, got %v", err)
	}
	if _, err := archive.Save(ctx, runID, 1, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for empty artifact, got %v", err)
	}
}

func TestS3ArchiveSaveAndLoad(t *testing.T) {
	t.Parallel()

	var stored []byte
	var putIn *s3.PutObjectInput
	client := &fakeS3Client{
		putFn: func(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			putIn = in
			b, err := io.ReadAll(in.Body)
			if err != nil {
				return nil, err
			}
			stored = b
			return &s3.PutObjectOutput{}, nil
		},
		getFn: func(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			if aws.ToString(in.Key) != aws.ToString(putIn.Key) {
				t.Errorf("get key %q, put key %q", aws.ToString(in.Key), aws.ToString(putIn.Key))
			}
			return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(stored))}, nil
		},
	}

	archive, err := New(Config{Driver: DriverS3, Bucket: "newsbot-artifacts", Prefix: "prod", S3Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	key, err := archive.Save(ctx, runID, 7, webproof.Artifact(`{"a":1}`))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if key != "prod/"+Key(runID) || aws.ToString(putIn.Key) != key {
		t.Fatalf("key: %q / %q", key, aws.ToString(putIn.Key))
	}
	if aws.ToString(putIn.Bucket) != "newsbot-artifacts" || aws.ToString(putIn.ContentType) != contentTypeJSON {
		t.Fatalf("put input: bucket=%q ct=%q", aws.ToString(putIn.Bucket), aws.ToString(putIn.ContentType))
	}
	if putIn.Metadata[metaUpdateID] != "7" {
		t.Fatalf("metadata: %v", putIn.Metadata)
	}

	got, err := archive.Load(ctx, runID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.String() != `{"a":1}` {
		t.Fatalf("Load: got %q", got)
	}
}

func TestS3ArchiveMapsNotFound(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{
		getFn: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return nil, fakeAPIError{code: "NoSuchKey", msg: "missing"}
		},
	}
	archive, err := New(Config{Driver: DriverS3, Bucket: "newsbot-artifacts", S3Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := archive.Load(context.Background(), runID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestS3ArchiveWrapsPutError(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{
		putFn: func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			return nil, fakeAPIError{code: "AccessDenied", msg: "nope"}
		},
	}
	archive, err := New(Config{Driver: DriverS3, Bucket: "newsbot-artifacts", S3Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = archive.Save(context.Background(), runID, 1, webproof.Artifact("{}"))
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "AccessDenied" {
		t.Fatalf("expected wrapped api error, got %v", err)
	}
}

func TestS3ArchiveMaxGetSize(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{
		getFn: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("this payload is too large"))}, nil
		},
	}
	archive, err := New(Config{Driver: DriverS3, Bucket: "newsbot-artifacts", S3Client: client, MaxGetSize: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := archive.Load(context.Background(), runID); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

type fakeS3Client struct {
	putFn func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	getFn func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func (f *fakeS3Client) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putFn == nil {
		return &s3.PutObjectOutput{}, nil
	}
	return f.putFn(ctx, in, opts...)
}

func (f *fakeS3Client) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getFn == nil {
		return nil, errors.New("unexpected GetObject call")
	}
	return f.getFn(ctx, in, opts...)
}

type fakeAPIError struct {
	code string
	msg  string
}

func (f fakeAPIError) ErrorCode() string             { return f.code }
func (f fakeAPIError) ErrorMessage() string          { return f.msg }
func (f fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }
func (f fakeAPIError) Error() string                 { return f.code + ": " + f.msg }

func TestObjectKeyTrimsPrefix(t *testing.T) {
	t.Parallel()

	runID := common.HexToHash("0x01")
	for prefix, want := range map[string]string{
		"":          Key(runID),
		" / ":       Key(runID),
		"/prod/":    "prod/" + Key(runID),
		"prod/eu-1": "prod/eu-1/" + Key(runID),
	} {
		if got := objectKey(prefix, runID); got != want {
			t.Fatalf("objectKey(%q): got %q want %q", prefix, got, want)
		}
	}
}
