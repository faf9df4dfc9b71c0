package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/crmindex/internal/crm"
	"github.com/scrypster/crmindex/internal/storage/sqlite"
	"github.com/scrypster/crmindex/pkg/types"
	"github.com/scrypster/crmindex/web/handlers"
)

const testOwner = "owner-1"

// recordingNotifier remembers which parents were reported.
type recordingNotifier struct {
	mu      sync.Mutex
	created []types.RecordRef
	updated []types.RecordRef
	deleted []types.RecordRef
	parents [][]types.RecordRef
}

func (n *recordingNotifier) RecordCreated(_ context.Context, _ string, ref types.RecordRef) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, ref)
	return true
}

func (n *recordingNotifier) RecordUpdated(_ context.Context, _ string, ref types.RecordRef) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, ref)
	return true
}

func (n *recordingNotifier) RecordDeleted(_ context.Context, _ string, ref types.RecordRef) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, ref)
}

func (n *recordingNotifier) ActivityChanged(_ context.Context, _ string, parents ...types.RecordRef) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.parents = append(n.parents, parents)
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newCRMMux wires the record and activity handlers the way the server does.
func newCRMMux(t *testing.T) (*http.ServeMux, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	svc := crm.NewService(newTestStore(t), notifier)

	records := handlers.NewRecordHandler(svc)
	activities := handlers.NewActivityHandler(svc)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/activities", activities.Create)
	mux.HandleFunc("GET /api/activities/{id}", activities.Get)
	mux.HandleFunc("PATCH /api/activities/{id}", activities.Update)
	mux.HandleFunc("DELETE /api/activities/{id}", activities.Delete)
	mux.HandleFunc("GET /api/{type}", records.List)
	mux.HandleFunc("POST /api/{type}", records.Create)
	mux.HandleFunc("GET /api/{type}/{id}", records.Get)
	mux.HandleFunc("PATCH /api/{type}/{id}", records.Update)
	mux.HandleFunc("DELETE /api/{type}/{id}", records.Delete)
	mux.HandleFunc("GET /api/{type}/{id}/activities", records.ListActivities)
	return mux, notifier
}

// do sends a request as testOwner and returns the recorder.
func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(handlers.OwnerHeader, testOwner)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func doAnonymous(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}
