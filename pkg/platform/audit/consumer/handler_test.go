package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "didvault/pkg/platform/audit"
)

type fakeAppender struct {
	mu     sync.Mutex
	events map[uuid.UUID]audit.Event
	err    error
}

func newFakeAppender() *fakeAppender {
	return &fakeAppender{events: make(map[uuid.UUID]audit.Event)}
}

func (f *fakeAppender) AppendWithID(_ context.Context, eventID uuid.UUID, event audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events[eventID] = event
	return nil
}

func message(t *testing.T, key string, event audit.Event) *Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return &Message{Topic: "didvault.audit.compliance", Key: []byte(key), Value: value}
}

const subject = "did:ethr:0x52908400098527886E0F7030069857D2E4169EE7"

func TestEventHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("materializes event under its key", func(t *testing.T) {
		store := newFakeAppender()
		h := NewEventHandler(store, slog.Default())
		id := uuid.New()
		ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

		err := h.Handle(ctx, message(t, id.String(), audit.Event{
			Action:    string(audit.EventCredentialIssued),
			Subject:   subject,
			Timestamp: ts,
		}))
		require.NoError(t, err)
		require.Contains(t, store.events, id)
		assert.Equal(t, audit.CategoryCompliance, store.events[id].Category)
		assert.Equal(t, ts, store.events[id].Timestamp)
	})

	t.Run("malformed key is committed", func(t *testing.T) {
		store := newFakeAppender()
		h := NewEventHandler(store, slog.Default())
		assert.NoError(t, h.Handle(ctx, message(t, "nope", audit.Event{Action: "x"})))
		assert.Empty(t, store.events)
	})

	t.Run("malformed payload is committed", func(t *testing.T) {
		store := newFakeAppender()
		h := NewEventHandler(store, slog.Default())
		msg := &Message{Key: []byte(uuid.NewString()), Value: []byte("{")}
		assert.NoError(t, h.Handle(ctx, msg))
		assert.Empty(t, store.events)
	})

	t.Run("compliance event without subject is skipped", func(t *testing.T) {
		store := newFakeAppender()
		h := NewEventHandler(store, slog.Default())
		err := h.Handle(ctx, message(t, uuid.NewString(), audit.Event{Action: string(audit.EventCredentialIssued)}))
		assert.NoError(t, err)
		assert.Empty(t, store.events)
	})

	t.Run("store failure retries security events", func(t *testing.T) {
		store := newFakeAppender()
		store.err = errors.New("db down")
		h := NewEventHandler(store, slog.Default())
		err := h.Handle(ctx, message(t, uuid.NewString(), audit.Event{
			Action:  string(audit.EventCredentialRejected),
			Subject: subject,
		}))
		assert.Error(t, err)
	})

	t.Run("store failure drops operations events", func(t *testing.T) {
		store := newFakeAppender()
		store.err = errors.New("db down")
		h := NewEventHandler(store, slog.Default())
		err := h.Handle(ctx, message(t, uuid.NewString(), audit.Event{
			Action:  string(audit.EventWalletConnected),
			Subject: subject,
		}))
		assert.NoError(t, err)
	})
}

type recordingHandler struct {
	seen []string
	err  error
}

func (r *recordingHandler) Handle(_ context.Context, msg *Message) error {
	r.seen = append(r.seen, string(msg.Key))
	return r.err
}

func TestRouter(t *testing.T) {
	ctx := context.Background()
	compliance := &recordingHandler{}
	fallback := &recordingHandler{}

	r := NewRouter(slog.Default(), fallback)
	r.Register("didvault.audit.compliance", compliance)

	require.NoError(t, r.Handle(ctx, &Message{Topic: "didvault.audit.compliance", Key: []byte("a")}))
	require.NoError(t, r.Handle(ctx, &Message{Topic: "other", Key: []byte("b")}))
	assert.Equal(t, []string{"a"}, compliance.seen)
	assert.Equal(t, []string{"b"}, fallback.seen)

	bare := NewRouter(slog.Default(), nil)
	assert.NoError(t, bare.Handle(ctx, &Message{Topic: "unknown"}))
}

type scriptedPoller struct {
	polls   []kgo.Fetches
	commits int
}

func (p *scriptedPoller) PollFetches(context.Context) kgo.Fetches {
	if len(p.polls) == 0 {
		return kgo.NewErrFetch(kgo.ErrClientClosed)
	}
	next := p.polls[0]
	p.polls = p.polls[1:]
	return next
}

func (p *scriptedPoller) CommitUncommittedOffsets(context.Context) error {
	p.commits++
	return nil
}

func fetchOf(records ...*kgo.Record) kgo.Fetches {
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      "didvault.audit.security",
		Partitions: []kgo.FetchPartition{{Partition: 0, Records: records}},
	}}}}
}

func TestConsumerRun(t *testing.T) {
	t.Run("handles records and commits each poll", func(t *testing.T) {
		poller := &scriptedPoller{polls: []kgo.Fetches{
			fetchOf(&kgo.Record{Topic: "didvault.audit.security", Key: []byte("1")}),
			fetchOf(&kgo.Record{Topic: "didvault.audit.security", Key: []byte("2")}),
		}}
		h := &recordingHandler{}

		err := New(poller, h, slog.Default()).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, h.seen)
		assert.Equal(t, 2, poller.commits)
	})

	t.Run("handler error stops without commit", func(t *testing.T) {
		poller := &scriptedPoller{polls: []kgo.Fetches{
			fetchOf(
				&kgo.Record{Topic: "didvault.audit.security", Key: []byte("1")},
				&kgo.Record{Topic: "didvault.audit.security", Key: []byte("2")},
			),
		}}
		h := &recordingHandler{err: errors.New("boom")}

		err := New(poller, h, slog.Default()).Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, []string{"1"}, h.seen)
		assert.Zero(t, poller.commits)
	})
}
