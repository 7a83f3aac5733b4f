package jsonfile

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
	d := New(filepath.Join(dir, "snapshots.json"), zerolog.Nop())

	snap := domain.SimulationSnapshot{
		Day:          3,
		IntradayHour: 2.5,
		Mode:         domain.ModeSimulated,
		MarketData:   domain.MarketData{"AAPL": {Symbol: "AAPL", Price: 190}},
	}

	require.NoError(t, d.Save(context.Background(), "default", snap))

	loaded, err := d.Load(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Day)
	assert.Equal(t, 2.5, loaded.IntradayHour)
	assert.Equal(t, 190.0, loaded.MarketData["AAPL"].Price)
}

func TestLoad_MissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	d := New(filepath.Join(dir, "snapshots.json"), zerolog.Nop())

	_, err := d.Load(context.Background(), "default")
	assert.True(t, marketsimerr.Is(err, marketsimerr.KindNotFound))
}

func TestPathFor_NonDefaultIDGetsSuffix(t *testing.T) {
	d := New("/data/snapshots.json", zerolog.Nop())
	assert.Equal(t, "/data/snapshots.json", d.pathFor("default"))
	assert.Equal(t, "/data/snapshots_multi-agent.json", d.pathFor("multi-agent"))
}

func TestSave_OverwritesRatherThanDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshots.json")
	d := New(path, zerolog.Nop())

	require.NoError(t, d.Save(context.Background(), "default", domain.SimulationSnapshot{Day: 1}))
	require.NoError(t, d.Save(context.Background(), "default", domain.SimulationSnapshot{Day: 2}))

	loaded, err := d.Load(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Day)
}
