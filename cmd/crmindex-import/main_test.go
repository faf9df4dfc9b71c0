package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/crmindex/internal/app"
	"github.com/scrypster/crmindex/internal/config"
	"github.com/scrypster/crmindex/pkg/types"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-owner", "owner-1", "-file", "crm.yaml"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, options{file: "crm.yaml", owner: "owner-1", backfill: true}, opts)

	opts, err = parseFlags([]string{"-owner", "owner-1", "-backfill=false", "crm.yaml"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "crm.yaml", opts.file, "positional file argument")
	assert.False(t, opts.backfill)

	_, err = parseFlags([]string{"-file", "crm.yaml"}, io.Discard)
	assert.Error(t, err)

	_, err = parseFlags([]string{"-h"}, io.Discard)
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestRun_ImportsAndEmbeds(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CRMINDEX_STORAGE_DATA_PATH", filepath.Join(dir, "data"))
	cfg, err := config.Load()
	require.NoError(t, err)

	file := filepath.Join(dir, "crm.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
deals:
  - id: deal-1
    name: Acme renewal
leads:
  - id: lead-1
    name: Globex inbound
activities:
  - type: call
    subject: Kickoff
    deal_id: deal-1
`), 0o644))

	ctx := context.Background()
	result, err := run(ctx, cfg, options{file: file, owner: "owner-1", backfill: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordsCreated)
	assert.Equal(t, 1, result.ActivitiesCreated)

	store, err := app.OpenStore(ctx, cfg)
	require.NoError(t, err)
	defer store.Close()
	for _, rt := range types.AllRecordTypes {
		n, err := store.CountMissing(ctx, rt, "owner-1", "")
		require.NoError(t, err)
		assert.Zero(t, n, "%s left unembedded", rt.Plural())
	}
}

func TestRun_MissingFile(t *testing.T) {
	t.Setenv("CRMINDEX_STORAGE_DATA_PATH", t.TempDir())
	cfg, err := config.Load()
	require.NoError(t, err)

	_, err = run(context.Background(), cfg, options{file: "does-not-exist.yaml", owner: "owner-1"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
