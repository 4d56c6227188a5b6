package crm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCampaignTablesResolve(t *testing.T) {
	tables := DefaultCampaignTables()

	code, ok := tables.Code("gh17")
	require.True(t, ok)
	assert.Equal(t, "GH17", code)

	code, ok = tables.Code("  GH17_TR  ")
	require.True(t, ok)
	assert.Equal(t, "GH17TR", code)

	code, ok = tables.Code("[Leads] GH4D - Stretch")
	require.True(t, ok)
	assert.Equal(t, "GH4D", code)

	code, ok = tables.Code("23337668539")
	require.True(t, ok)
	assert.Equal(t, "GH17TR", code)

	_, ok = tables.Code("brand_awareness_q3")
	assert.False(t, ok)
	_, ok = tables.Code("   ")
	assert.False(t, ok)
}

func TestCampaignCategoryIsCaseSensitive(t *testing.T) {
	tables := DefaultCampaignTables()

	category, ok := tables.Category("GH24D")
	require.True(t, ok)
	assert.Equal(t, "Type 2", category)

	_, ok = tables.Category("gh24d")
	assert.False(t, ok)
	_, ok = tables.Category("GH17")
	assert.False(t, ok, "GH17 has no category")
}

func TestAttributeYieldsNullableColumns(t *testing.T) {
	tables := NewCampaignTables(
		map[string]string{"Spring_Sale ": "GH5", "winter": "GH99"},
		map[string]string{"GH5": "Type 1"},
	)
	code, category := tables.Attribute(stringPtr("spring_sale"))
	require.NotNil(t, code)
	require.NotNil(t, category)
	assert.Equal(t, "GH5", *code)
	assert.Equal(t, "Type 1", *category)

	code, category = tables.Attribute(stringPtr("WINTER"))
	require.NotNil(t, code)
	assert.Equal(t, "GH99", *code)
	assert.Nil(t, category)

	code, category = tables.Attribute(nil)
	assert.Nil(t, code)
	assert.Nil(t, category)
}

func TestNewCampaignTablesCopiesInput(t *testing.T) {
	codes := map[string]string{"a": "GH1"}
	tables := NewCampaignTables(codes, nil)
	codes["a"] = "GH2"
	code, _ := tables.Code("a")
	assert.Equal(t, "GH1", code)
}

func TestParseCampaignTablesRejectsEmpty(t *testing.T) {
	_, err := ParseCampaignTables([]byte("categories:\n  GH1: Type 1\n"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ParseCampaignTables([]byte("codes: [oops"))
	assert.Error(t, err)
}

func TestCampaignWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "campaigns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("codes:\n  \"promo\": \"GH1\"\n"), 0o644))

	watcher, err := NewCampaignWatcher(path, nil)
	require.NoError(t, err)
	before := watcher.Current()
	code, ok := before.Code("promo")
	require.True(t, ok)
	assert.Equal(t, "GH1", code)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("codes:\n  \"promo\": \"GH2\"\n"), 0o644))

	require.Eventually(t, func() bool {
		code, ok := watcher.Current().Code("promo")
		return ok && code == "GH2"
	}, 5*time.Second, 20*time.Millisecond)

	code, _ = before.Code("promo")
	assert.Equal(t, "GH1", code, "earlier snapshots are never mutated")
}

func TestCampaignWatcherKeepsTablesOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaigns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("codes:\n  \"promo\": \"GH1\"\n"), 0o644))
	watcher, err := NewCampaignWatcher(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("codes: {}\n"), 0o644))
	assert.Error(t, watcher.Reload())
	code, ok := watcher.Current().Code("promo")
	require.True(t, ok)
	assert.Equal(t, "GH1", code)
	assert.Zero(t, watcher.Reloads())
}
