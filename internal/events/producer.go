package events

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	DriverKafka = "kafka"
	DriverStdio = "stdio"
)

const (
	defaultBatchTimeout = 10 * time.Millisecond
	defaultWriteTimeout = 10 * time.Second
)

var ErrPublish = errors.New("events: publish failed")

// Producer publishes keyed records to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, key []byte, payload []byte) error
	Close() error
}

type ProducerConfig struct {
	Driver string

	// Kafka fields. TLS enables TLS 1.2+ to the brokers.
	Brokers      []string
	TLS          bool
	BatchTimeout time.Duration
	WriteTimeout time.Duration

	// Stdio fields. Writer defaults to os.Stdout.
	Writer io.Writer
}

// NewProducer creates a producer for the configured driver. An empty driver means kafka.
func NewProducer(cfg ProducerConfig) (Producer, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", DriverKafka:
		return newKafkaProducer(cfg)
	case DriverStdio:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		return &lineProducer{w: w}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported events driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// SplitCommaList splits a flag value like "a:9092, b:9092" and drops blanks.
func SplitCommaList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' })
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

type kafkaProducer struct {
	writer *kafka.Writer
}

func newKafkaProducer(cfg ProducerConfig) (*kafkaProducer, error) {
	brokers := SplitCommaList(strings.Join(cfg.Brokers, ","))
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka needs at least one broker", ErrInvalidConfig)
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
	}
	if cfg.TLS {
		w.Transport = &kafka.Transport{TLS: &tls.Config{MinVersion: tls.VersionTLS12}}
	}
	return &kafkaProducer{writer: w}, nil
}

func (p *kafkaProducer) Publish(ctx context.Context, topic string, key []byte, payload []byte) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrPublish)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: payload}); err != nil {
		return fmt.Errorf("%w: kafka %s: %w", ErrPublish, topic, err)
	}
	return nil
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}

// lineProducer writes each payload as one line. Topic and key are dropped.
type lineProducer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *lineProducer) Publish(_ context.Context, _ string, _ []byte, payload []byte) error {
	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)
	line = append(line, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(line); err != nil {
		return fmt.Errorf("%w: write line: %w", ErrPublish, err)
	}
	return nil
}

func (p *lineProducer) Close() error { return nil }
