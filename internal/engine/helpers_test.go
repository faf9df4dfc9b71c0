package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/crmindex/internal/llm"
	"github.com/scrypster/crmindex/internal/storage/sqlite"
	"github.com/scrypster/crmindex/pkg/types"
)

const testOwner = "owner-1"

// scriptedEmbedder wraps the hashing embedder, counts calls, returns queued
// errors before succeeding and can run a hook or block on every call.
type scriptedEmbedder struct {
	inner *llm.HashEmbedder

	mu    sync.Mutex
	calls int
	texts []string
	errs  []error

	// onEmbed runs before the vector is returned.
	onEmbed func(text string)

	// started receives once per call when non-nil; release gates the return.
	started chan struct{}
	release chan struct{}

	// gates, when set, gate calls one by one in call order.
	gates []chan struct{}
}

func newScriptedEmbedder() *scriptedEmbedder {
	return &scriptedEmbedder{inner: llm.NewHashEmbedder(llm.DefaultHashDimensions)}
}

func (s *scriptedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.calls++
	s.texts = append(s.texts, text)
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	hook, started, release := s.onEmbed, s.started, s.release
	if len(s.gates) > 0 {
		release, s.gates = s.gates[0], s.gates[1:]
	}
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, &types.ProviderError{Provider: "test", Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook(text)
	}
	return s.inner.Embed(ctx, text)
}

func (s *scriptedEmbedder) GetModel() string { return s.inner.GetModel() }

func (s *scriptedEmbedder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedEmbedder) failWith(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errs...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NumWorkers = 2
	cfg.QueueSize = 100
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 5 * time.Millisecond
	return cfg
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newTestEngine creates an engine over an in-memory store. It is not started.
func newTestEngine(t *testing.T, cfg Config) (*SyncEngine, *sqlite.Store, *scriptedEmbedder) {
	t.Helper()
	store := newTestStore(t)
	embedder := newScriptedEmbedder()
	engine, err := NewSyncEngine(store, embedder, cfg)
	require.NoError(t, err)
	return engine, store, embedder
}

func startEngine(t *testing.T, e *SyncEngine) {
	t.Helper()
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
}

func createRecord(t *testing.T, store *sqlite.Store, rt types.RecordType, id, name string, fields func(r *types.Record)) *types.Record {
	t.Helper()
	rec := &types.Record{Type: rt, ID: id, OwnerID: testOwner, Name: name}
	if fields != nil {
		fields(rec)
	}
	require.NoError(t, store.CreateRecord(context.Background(), rec))
	return rec
}
