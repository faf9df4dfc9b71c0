package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/crmindex/internal/app"
	"github.com/scrypster/crmindex/internal/config"
	"github.com/scrypster/crmindex/internal/crm"
	"github.com/scrypster/crmindex/internal/engine"
	"github.com/scrypster/crmindex/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CRMINDEX_STORAGE_DATA_PATH", filepath.Join(t.TempDir(), "data"))
	t.Setenv("CRMINDEX_SYNC_WORKERS", "2")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestNew_EmbedsThroughEngine(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := app.New(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	_, err = os.Stat(filepath.Join(cfg.Storage.DataPath, app.DatabaseFile))
	require.NoError(t, err, "sqlite file is created under the data path")

	_, err = a.CRM.CreateRecord(ctx, "owner-1", types.RecordTypeDeal, crm.RecordInput{
		ID: "deal-1", Name: "Acme renewal", Notes: "enterprise software",
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		n, err := a.Store.CountMissing(ctx, types.RecordTypeDeal, "owner-1", "")
		return err == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := a.Search.Execute(ctx, engine.SearchRequest{Query: "enterprise software", OwnerID: "owner-1"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "deal-1", resp.Results[0].ID)

	deps := a.Deps()
	assert.NotNil(t, deps.CRM)
	assert.NotNil(t, deps.Engine)

	require.NoError(t, a.Close(ctx))
}

type countingNotifier struct{ created int }

func (n *countingNotifier) RecordCreated(context.Context, string, types.RecordRef) bool {
	n.created++
	return true
}
func (n *countingNotifier) RecordUpdated(context.Context, string, types.RecordRef) bool { return true }
func (n *countingNotifier) RecordDeleted(context.Context, string, types.RecordRef)      {}
func (n *countingNotifier) ActivityChanged(context.Context, string, ...types.RecordRef) {}

func TestNew_CustomNotifier(t *testing.T) {
	ctx := context.Background()
	n := &countingNotifier{}

	a, err := app.New(ctx, testConfig(t), n)
	require.NoError(t, err)

	_, err = a.CRM.CreateRecord(ctx, "owner-1", types.RecordTypeLead, crm.RecordInput{Name: "Globex"})
	require.NoError(t, err)
	assert.Equal(t, 1, n.created)

	missing, err := a.Store.CountMissing(ctx, types.RecordTypeLead, "owner-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, missing, "nothing embeds in process")

	// Close without Start only closes the store.
	require.NoError(t, a.Close(ctx))
}

func TestOpenStore_UnknownEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Engine = "mysql"
	_, err := app.OpenStore(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
