package marketdata

import (
	"context"

	"github.com/aristath/marketsim/internal/domain"
)

// Source is one stage of the cascade (§4.2): primary, secondary, or
// tertiary. Each source owns its own rolling window counter; the provider
// additionally layers a global throttle over the primary in realtime.
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (domain.Ticker, error)
	// Remaining reports the number of requests left in the source's own
	// rolling window, for telemetry.
	Remaining() int
}

// FundamentalsSource is implemented by sources that can enrich a ticker
// with fundamentals data (§4.2 realtime enrichment).
type FundamentalsSource interface {
	FetchFundamentals(ctx context.Context, symbol string) (*domain.Fundamentals, error)
}
