package postgres

import (
	"context"
	"testing"

	"github.com/aristath/marketsim/internal/marketsimerr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Open passes the DSN to pgxpool.New, which parses it before connecting,
// so a malformed connection string fails before any network round-trip — the one path
// exercisable without a live Postgres instance.
func TestOpen_RejectsMalformedConnectionString(t *testing.T) {
	_, err := Open(context.Background(), "not a valid dsn ::: %%", "marketsim", zerolog.Nop())

	require.Error(t, err)
	assert.True(t, marketsimerr.Is(err, marketsimerr.KindInternal))
}
