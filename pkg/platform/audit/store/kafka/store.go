// Package kafka publishes audit events to per-category Kafka topics. The
// consumer package materializes them into Postgres.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "didvault/pkg/platform/audit"
)

const DefaultTopicPrefix = "didvault.audit."

// Topic names the topic events of category are written to.
func Topic(prefix string, category audit.EventCategory) string {
	return prefix + string(category)
}

// Topics lists every audit topic for prefix.
func Topics(prefix string) []string {
	return []string{
		Topic(prefix, audit.CategoryCompliance),
		Topic(prefix, audit.CategorySecurity),
		Topic(prefix, audit.CategoryOperations),
	}
}

type Store struct {
	client *kgo.Client
	prefix string
	logger *slog.Logger
}

type Option func(*Store)

func WithTopicPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(client *kgo.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultTopicPrefix, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureTopics creates the audit topics, ignoring ones that already exist.
func (s *Store) EnsureTopics(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(s.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, Topics(s.prefix)...)
	if err != nil {
		return fmt.Errorf("create audit topics: %w", err)
	}
	for _, r := range resp.Sorted() {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Append produces event synchronously, keyed by its ID.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	record := &kgo.Record{
		Topic: Topic(s.prefix, event.Category),
		Key:   []byte(event.ID),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		s.logger.WarnContext(ctx, "audit produce failed", "topic", record.Topic, "action", event.Action, "error", err)
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}
