package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/crmindex/internal/composer"
	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreWithDB(db), mock
}

var dealRef = types.RecordRef{Type: types.RecordTypeDeal, ID: "deal-1"}

func recordRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "owner_id", "name", "company", "status", "value", "email", "phone", "source", "notes", "created_at", "updated_at"})
}

func TestUpsert_Success(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE deals SET embedding = $1")).
		WithArgs(sqlmock.AnyArg(), 3, "text-embedding-3-small", "hash-1", sqlmock.AnyArg(), "deal-1", "owner-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Upsert(context.Background(), "owner-1", dealRef, types.Embedding{
		Vector: []float32{0.1, 0.2, 0.3}, Model: "text-embedding-3-small", SourceHash: "hash-1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_StaleFingerprint(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE deals SET embedding = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT content_hash FROM deals")).
		WithArgs("deal-1", "owner-1").
		WillReturnRows(sqlmock.NewRows([]string{"content_hash"}).AddRow("hash-2"))

	err := store.Upsert(context.Background(), "owner-1", dealRef, types.Embedding{Vector: []float32{1}, SourceHash: "hash-1"})
	assert.ErrorIs(t, err, storage.ErrStale)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_RecordGone(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE deals SET embedding = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT content_hash FROM deals")).
		WillReturnRows(sqlmock.NewRows([]string{"content_hash"}))

	err := store.Upsert(context.Background(), "owner-1", dealRef, types.Embedding{Vector: []float32{1}, SourceHash: "hash-1"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpsert_Validation(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Upsert(ctx, "owner-1", dealRef, types.Embedding{SourceHash: "h"}), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Upsert(ctx, "owner-1", dealRef, types.Embedding{Vector: []float32{1}}), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Upsert(ctx, "owner-1", types.RecordRef{Type: "invoice", ID: "x"},
		types.Embedding{Vector: []float32{1}, SourceHash: "h"}), storage.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet(t *testing.T) {
	store, mock := newMockStore(t)
	computed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT embedding, embedding_model, embedding_hash, embedding_updated_at FROM deals")).
		WithArgs("deal-1", "owner-1").
		WillReturnRows(sqlmock.NewRows([]string{"embedding", "embedding_model", "embedding_hash", "embedding_updated_at"}).
			AddRow("[0.5,0.25]", "nomic-embed-text", "hash-1", computed))

	emb, err := store.Get(context.Background(), "owner-1", dealRef)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, emb.Vector)
	assert.Equal(t, 2, emb.Dimension)
	assert.Equal(t, "nomic-embed-text", emb.Model)
	assert.Equal(t, computed, emb.ComputedAt)
}

func TestGet_NotEmbedded(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT embedding, embedding_model")).
		WillReturnRows(sqlmock.NewRows([]string{"embedding", "embedding_model", "embedding_hash", "embedding_updated_at"}))

	_, err := store.Get(context.Background(), "owner-1", dealRef)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM leads WHERE owner_id = $1 AND "+missingPredicate+" ORDER BY created_at, id LIMIT $3 OFFSET $4")).
		WithArgs("owner-1", "text-embedding-004", 50, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("lead-1").AddRow("lead-2"))

	ids, err := store.ListMissing(context.Background(), types.RecordTypeLead, "owner-1", "text-embedding-004", 50, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"lead-1", "lead-2"}, ids)

	_, err = store.ListMissing(context.Background(), types.RecordTypeLead, "owner-1", "", 0, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE contacts SET embedding_hash = NULL WHERE owner_id = $1")).
		WithArgs("owner-1").
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.Invalidate(context.Background(), types.RecordTypeContact, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestNearestNeighbors(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cols := []string{"id", "owner_id", "name", "company", "status", "value", "email", "phone", "source", "notes", "created_at", "updated_at", "similarity"}
	mock.ExpectQuery(regexp.QuoteMeta("1 - (embedding <=> $1) AS similarity FROM deals WHERE owner_id = $2 AND embedding IS NOT NULL AND embedding_dimension = $3 AND ($5::text = '' OR embedding_model = $5::text)")).
		WithArgs(sqlmock.AnyArg(), "owner-1", 2, 5, "hash-256").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("deal-1", "owner-1", "Enterprise License", "Acme", "open", 50000.0, "", "", "", "", created, created, 0.93).
			AddRow("deal-2", "owner-1", "Starter Plan", "", "", nil, "", "", "", "", created, created, nil))

	hits, err := store.NearestNeighbors(context.Background(), types.RecordTypeDeal, "owner-1", "hash-256", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "deal-1", hits[0].Record.ID)
	assert.InDelta(t, 0.93, hits[0].Similarity, 1e-9)
	require.NotNil(t, hits[0].Record.Value)
	assert.Equal(t, 50000.0, *hits[0].Record.Value)
	assert.Nil(t, hits[1].Record.Value)
	assert.Zero(t, hits[1].Similarity)
}

func TestNearestNeighbors_EmptyQuery(t *testing.T) {
	store, mock := newMockStore(t)

	hits, err := store.NearestNeighbors(context.Background(), types.RecordTypeDeal, "owner-1", "", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRecord_RefreshesFingerprint(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	stored := &types.Record{Type: types.RecordTypeDeal, ID: "deal-1", OwnerID: "owner-1", Name: "Renamed", CreatedAt: created, UpdatedAt: created}
	acts := []types.Activity{{ID: "act-1", OwnerID: "owner-1", Type: "call", Description: "Kickoff", DealID: "deal-1", CreatedAt: created, UpdatedAt: created}}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE deals SET name = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM deals WHERE id = $1 AND owner_id = $2 FOR UPDATE")).
		WithArgs("deal-1", "owner-1").
		WillReturnRows(recordRows().AddRow("deal-1", "owner-1", "Renamed", "", "", nil, "", "", "", "", created, created))
	mock.ExpectQuery(regexp.QuoteMeta("FROM activities WHERE owner_id = $1 AND deal_id = $2")).
		WithArgs("owner-1", "deal-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "type", "subject", "description", "deal_id", "contact_id", "lead_id", "created_at", "updated_at"}).
			AddRow("act-1", "owner-1", "call", "", "Kickoff", "deal-1", nil, nil, created, created))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE deals SET content_hash = $1")).
		WithArgs(composer.ContentHash(stored, acts), "deal-1", "owner-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.UpdateRecord(context.Background(), &types.Record{Type: types.RecordTypeDeal, ID: "deal-1", OwnerID: "owner-1", Name: "Renamed"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRecord_NotFoundRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE contacts SET name = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.UpdateRecord(context.Background(), &types.Record{Type: types.RecordTypeContact, ID: "c-1", OwnerID: "owner-1", Name: "Ada"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobs_BuildsPlaceholders(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM embedding_jobs WHERE owner_id = $1 AND status = $2 ORDER BY created_at DESC, id LIMIT $3")).
		WithArgs("owner-1", "failed", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "record_type", "record_id", "job_trigger", "status", "error", "created_at", "updated_at"}).
			AddRow("job-1", "owner-1", "deal", "deal-1", "backfill", "failed", "provider down", created, created))

	jobs, err := store.ListJobs(context.Background(), storage.JobFilter{OwnerID: "owner-1", Status: types.JobFailed})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, types.TriggerBackfill, jobs[0].Trigger)
	assert.Equal(t, "provider down", jobs[0].Error)
}

func TestCountJobs(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM embedding_jobs WHERE owner_id = $1 GROUP BY status")).
		WithArgs("owner-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("completed", 12).AddRow("failed", 1))

	counts, err := store.CountJobs(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 12, counts[types.JobCompleted])
	assert.Equal(t, 1, counts[types.JobFailed])
}
