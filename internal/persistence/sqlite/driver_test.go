package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/marketsimerr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(context.Background(), filepath.Join(dir, "snapshots.db"), "marketsim", zerolog.Nop())
	require.NoError(t, err)
	defer d.Close()

	snap := domain.SimulationSnapshot{
		Day:        3,
		Mode:       domain.ModeSimulated,
		MarketData: domain.MarketData{"AAPL": {Symbol: "AAPL", Price: 190}},
	}

	require.NoError(t, d.Save(context.Background(), "default", snap))

	loaded, err := d.Load(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Day)
	assert.Equal(t, 190.0, loaded.MarketData["AAPL"].Price)
}

func TestLoad_MissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(context.Background(), filepath.Join(dir, "snapshots.db"), "marketsim", zerolog.Nop())
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Load(context.Background(), "default")
	assert.True(t, marketsimerr.Is(err, marketsimerr.KindNotFound))
}

func TestSave_OverwritesRatherThanDuplicates(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(context.Background(), filepath.Join(dir, "snapshots.db"), "marketsim", zerolog.Nop())
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Save(context.Background(), "default", domain.SimulationSnapshot{Day: 1}))
	require.NoError(t, d.Save(context.Background(), "default", domain.SimulationSnapshot{Day: 2}))

	loaded, err := d.Load(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Day)
}

func TestSave_NamespacesIsolateSameSnapshotID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshots.db")
	a, err := Open(context.Background(), path, "tenant-a", zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(context.Background(), path, "tenant-b", zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Save(context.Background(), "default", domain.SimulationSnapshot{Day: 1}))

	_, err = b.Load(context.Background(), "default")
	assert.True(t, marketsimerr.Is(err, marketsimerr.KindNotFound))
}
