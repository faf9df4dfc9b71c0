package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

func TestBackfill_EmbedsAllMissingRecords(t *testing.T) {
	e, store, embedder := newTestEngine(t, testConfig())
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		createRecord(t, store, types.RecordTypeContact, fmt.Sprintf("c-%02d", i), fmt.Sprintf("Contact %d", i), nil)
	}

	res, err := e.Backfill(ctx, types.RecordTypeContact, testOwner, 10)
	require.NoError(t, err)
	assert.Equal(t, BackfillResult{Processed: 25}, res)
	assert.Equal(t, 25, embedder.Calls())

	n, err := store.CountMissing(ctx, types.RecordTypeContact, testOwner, "")
	require.NoError(t, err)
	assert.Zero(t, n)

	jobs, err := store.ListJobs(ctx, storage.JobFilter{OwnerID: testOwner, Status: types.JobCompleted, Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, jobs, 25)
	assert.Equal(t, types.TriggerBackfill, jobs[0].Trigger)
}

func TestBackfill_IsIdempotent(t *testing.T) {
	e, store, embedder := newTestEngine(t, testConfig())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		createRecord(t, store, types.RecordTypeLead, fmt.Sprintf("l-%d", i), "Lead", nil)
	}

	_, err := e.Backfill(ctx, types.RecordTypeLead, testOwner, 0)
	require.NoError(t, err)
	calls := embedder.Calls()

	res, err := e.Backfill(ctx, types.RecordTypeLead, testOwner, 0)
	require.NoError(t, err)
	assert.Equal(t, BackfillResult{}, res)
	assert.Equal(t, calls, embedder.Calls())
}

func TestBackfill_ContinuesPastFailures(t *testing.T) {
	cfg := testConfig()
	cfg.BackfillConcurrency = 1
	cfg.MaxRetries = 0
	e, store, embedder := newTestEngine(t, cfg)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		createRecord(t, store, types.RecordTypeDeal, fmt.Sprintf("d-%d", i), "Deal", nil)
	}
	// The first record fails permanently, the rest succeed.
	embedder.failWith(&types.ProviderError{Provider: "test", StatusCode: 400, Message: "bad request"})

	res, err := e.Backfill(ctx, types.RecordTypeDeal, testOwner, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 1, res.Errors)

	missing, err := store.ListMissing(ctx, types.RecordTypeDeal, testOwner, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"d-0"}, missing)

	// A second run picks up the failed record.
	res, err = e.Backfill(ctx, types.RecordTypeDeal, testOwner, 2)
	require.NoError(t, err)
	assert.Equal(t, BackfillResult{Processed: 1}, res)
}

func TestBackfill_Validation(t *testing.T) {
	e, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	_, err := e.Backfill(ctx, "invoice", testOwner, 10)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = e.Backfill(ctx, types.RecordTypeDeal, "", 10)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestBackfill_OwnerScoped(t *testing.T) {
	e, store, _ := newTestEngine(t, testConfig())
	ctx := context.Background()
	createRecord(t, store, types.RecordTypeDeal, "mine", "Mine", nil)
	require.NoError(t, store.CreateRecord(ctx, &types.Record{Type: types.RecordTypeDeal, ID: "theirs", OwnerID: "owner-2", Name: "Theirs"}))

	res, err := e.Backfill(ctx, types.RecordTypeDeal, testOwner, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	n, err := store.CountMissing(ctx, types.RecordTypeDeal, "owner-2", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBackfillAll(t *testing.T) {
	e, store, embedder := newTestEngine(t, testConfig())
	ctx := context.Background()
	createRecord(t, store, types.RecordTypeDeal, "d", "Deal", nil)
	createRecord(t, store, types.RecordTypeContact, "c1", "Contact", nil)
	createRecord(t, store, types.RecordTypeContact, "c2", "Contact", nil)
	createRecord(t, store, types.RecordTypeLead, "l", "Lead", nil)

	summary, err := e.BackfillAll(ctx, testOwner, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deals.Processed)
	assert.Equal(t, 2, summary.Contacts.Processed)
	assert.Equal(t, 1, summary.Leads.Processed)
	assert.Zero(t, summary.Errors)
	assert.Equal(t, 4, embedder.Calls())

	// Nothing to do without force.
	summary, err = e.BackfillAll(ctx, testOwner, false)
	require.NoError(t, err)
	assert.Zero(t, summary.Deals.Processed+summary.Contacts.Processed+summary.Leads.Processed)

	// Force recomputes everything.
	summary, err = e.BackfillAll(ctx, testOwner, true)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Deals.Processed+summary.Contacts.Processed+summary.Leads.Processed)
	assert.Equal(t, 8, embedder.Calls())
}

func TestBackfillAll_RejectsConcurrentRunForOwner(t *testing.T) {
	cfg := testConfig()
	cfg.BackfillConcurrency = 1
	e, store, embedder := newTestEngine(t, cfg)
	embedder.started = make(chan struct{}, 10)
	embedder.release = make(chan struct{})
	ctx := context.Background()
	createRecord(t, store, types.RecordTypeDeal, "d", "Deal", nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := e.BackfillAll(ctx, testOwner, false)
		assert.NoError(t, err)
	}()

	select {
	case <-embedder.started:
	case <-time.After(5 * time.Second):
		t.Fatal("backfill never reached the provider")
	}

	_, err := e.BackfillAll(ctx, testOwner, false)
	assert.ErrorIs(t, err, ErrBackfillRunning)

	// Another owner is not blocked.
	_, err = e.BackfillAll(ctx, "owner-2", false)
	assert.NoError(t, err)

	close(embedder.release)
	wg.Wait()

	// The guard is released once the run finishes.
	_, err = e.BackfillAll(ctx, testOwner, false)
	assert.NoError(t, err)
}

func TestBackfill_CancelledContext(t *testing.T) {
	e, store, _ := newTestEngine(t, testConfig())
	createRecord(t, store, types.RecordTypeDeal, "d", "Deal", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Backfill(ctx, types.RecordTypeDeal, testOwner, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackfill_ReembedsVectorsFromAnotherModel(t *testing.T) {
	e, store, embedder := newTestEngine(t, testConfig())
	ctx := context.Background()
	deal := createRecord(t, store, types.RecordTypeDeal, "deal-1", "Enterprise License", nil)

	// A vector for the current content, written by a previously configured model.
	hash, err := store.ContentHash(ctx, testOwner, deal.Ref())
	require.NoError(t, err)
	vec, err := embedder.inner.Embed(ctx, "enterprise license")
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, testOwner, deal.Ref(), types.Embedding{Vector: vec, Model: "legacy-model", SourceHash: hash}))

	n, err := store.CountMissing(ctx, types.RecordTypeDeal, testOwner, e.Model())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Search ignores vectors the current model cannot be compared with.
	results, err := NewSearchEngine(store, embedder).Search(ctx, "enterprise license", types.AllRecordTypes, 10, testOwner)
	require.NoError(t, err)
	assert.Empty(t, results)

	res, err := e.Backfill(ctx, types.RecordTypeDeal, testOwner, 0)
	require.NoError(t, err)
	assert.Equal(t, BackfillResult{Processed: 1}, res)

	emb, err := store.Get(ctx, testOwner, deal.Ref())
	require.NoError(t, err)
	assert.Equal(t, e.Model(), emb.Model)

	n, err = store.CountMissing(ctx, types.RecordTypeDeal, testOwner, e.Model())
	require.NoError(t, err)
	assert.Zero(t, n)

	results, err = NewSearchEngine(store, embedder).Search(ctx, "enterprise license", types.AllRecordTypes, 10, testOwner)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "deal-1", results[0].ID)
}
