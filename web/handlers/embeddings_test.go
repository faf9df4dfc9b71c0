package handlers_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/crmindex/internal/engine"
	"github.com/scrypster/crmindex/internal/storage/sqlite"
	"github.com/scrypster/crmindex/pkg/types"
	"github.com/scrypster/crmindex/web/handlers"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Backfill(ctx context.Context, recordType types.RecordType, ownerID string, pageSize int) (engine.BackfillResult, error) {
	args := m.Called(recordType, ownerID, pageSize)
	return args.Get(0).(engine.BackfillResult), args.Error(1)
}

func (m *MockEngine) BackfillAll(ctx context.Context, ownerID string, force bool) (engine.BackfillSummary, error) {
	args := m.Called(ownerID, force)
	return args.Get(0).(engine.BackfillSummary), args.Error(1)
}

func (m *MockEngine) GetQueueSize() int { return 3 }

func (m *MockEngine) Model() string { return "hash-256" }

func (m *MockEngine) StateCounts(ownerID string) map[types.SyncState]int {
	return map[types.SyncState]int{types.SyncEmbedded: 1}
}

func embeddingMux(eng handlers.EmbeddingEngine, store *sqlite.Store) *http.ServeMux {
	h := handlers.NewEmbeddingHandler(eng, store)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/embeddings/backfill", h.Backfill)
	mux.HandleFunc("GET /api/embeddings/status", h.Status)
	mux.HandleFunc("GET /api/embeddings/jobs", h.Jobs)
	return mux
}

func seedRecord(t *testing.T, store *sqlite.Store, rt types.RecordType, id string) {
	t.Helper()
	require.NoError(t, store.CreateRecord(context.Background(), &types.Record{
		Type: rt, ID: id, OwnerID: testOwner, Name: "record " + id,
	}))
}

func TestEmbeddingHandler_BackfillAll(t *testing.T) {
	eng := new(MockEngine)
	summary := engine.BackfillSummary{
		Deals:    engine.BackfillResult{Processed: 2},
		Contacts: engine.BackfillResult{Processed: 1, Errors: 1},
		Errors:   1,
	}
	eng.On("BackfillAll", testOwner, true).Return(summary, nil)

	w := do(t, embeddingMux(eng, newTestStore(t)), http.MethodPost, "/api/embeddings/backfill",
		map[string]any{"ownerId": testOwner, "force": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decode[engine.BackfillSummary](t, w)
	assert.Equal(t, 2, got.Deals.Processed)
	assert.Equal(t, 1, got.Errors)
	eng.AssertExpectations(t)
}

func TestEmbeddingHandler_BackfillConflict(t *testing.T) {
	eng := new(MockEngine)
	eng.On("BackfillAll", testOwner, false).Return(engine.BackfillSummary{}, engine.ErrBackfillRunning)

	w := do(t, embeddingMux(eng, newTestStore(t)), http.MethodPost, "/api/embeddings/backfill",
		map[string]any{"ownerId": testOwner})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEmbeddingHandler_BackfillOneTypeForced(t *testing.T) {
	store := newTestStore(t)
	seedRecord(t, store, types.RecordTypeLead, "lead-1")

	eng := new(MockEngine)
	eng.On("Backfill", types.RecordTypeLead, testOwner, 0).Return(engine.BackfillResult{Processed: 1}, nil)

	w := do(t, embeddingMux(eng, store), http.MethodPost, "/api/embeddings/backfill",
		map[string]any{"ownerId": testOwner, "recordType": "leads", "force": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[engine.BackfillResult](t, w).Processed)
	eng.AssertExpectations(t)
}

func TestEmbeddingHandler_BackfillValidation(t *testing.T) {
	mux := embeddingMux(new(MockEngine), newTestStore(t))

	w := doAnonymous(t, mux, http.MethodPost, "/api/embeddings/backfill")
	assert.Equal(t, http.StatusBadRequest, w.Code, "empty body")

	w = do(t, mux, http.MethodPost, "/api/embeddings/backfill", map[string]any{"recordType": "widgets"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmbeddingHandler_Status(t *testing.T) {
	store := newTestStore(t)
	seedRecord(t, store, types.RecordTypeDeal, "deal-1")
	seedRecord(t, store, types.RecordTypeDeal, "deal-2")
	seedRecord(t, store, types.RecordTypeContact, "contact-1")
	require.NoError(t, store.CreateJob(context.Background(), &types.EmbeddingJob{
		ID: "job-1", OwnerID: testOwner, RecordType: types.RecordTypeDeal, RecordID: "deal-1",
		Trigger: types.TriggerRecordCreated, Status: types.JobFailed, Error: "queue full",
	}))

	w := do(t, embeddingMux(new(MockEngine), store), http.MethodGet, "/api/embeddings/status", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	status := decode[handlers.StatusResponse](t, w)
	assert.Equal(t, testOwner, status.OwnerID)
	assert.Equal(t, "hash-256", status.Model)
	assert.Equal(t, 2, status.Types["deals"].Missing)
	assert.Equal(t, 1, status.Types["contacts"].Missing)
	assert.Equal(t, 0, status.Types["leads"].Missing)
	assert.Equal(t, 3, status.Missing)
	assert.Equal(t, 3, status.QueueSize)
	assert.Equal(t, 1, status.Jobs[types.JobFailed])
	assert.Equal(t, 1, status.States[types.SyncEmbedded])
}

func TestEmbeddingHandler_StatusRequiresOwner(t *testing.T) {
	w := doAnonymous(t, embeddingMux(new(MockEngine), newTestStore(t)), http.MethodGet, "/api/embeddings/status")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmbeddingHandler_Jobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i, status := range []types.JobStatus{types.JobCompleted, types.JobFailed, types.JobCompleted} {
		require.NoError(t, store.CreateJob(ctx, &types.EmbeddingJob{
			ID: "job-" + string(rune('a'+i)), OwnerID: testOwner, RecordType: types.RecordTypeLead,
			RecordID: "lead-1", Trigger: types.TriggerBackfill, Status: status,
		}))
	}
	mux := embeddingMux(new(MockEngine), store)

	w := do(t, mux, http.MethodGet, "/api/embeddings/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[handlers.JobsResponse](t, w).Total)

	w = do(t, mux, http.MethodGet, "/api/embeddings/jobs?status=failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	jobs := decode[handlers.JobsResponse](t, w)
	require.Len(t, jobs.Jobs, 1)
	assert.Equal(t, types.JobFailed, jobs.Jobs[0].Status)

	w = do(t, mux, http.MethodGet, "/api/embeddings/jobs?status=exploded", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
