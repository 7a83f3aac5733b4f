package marketdata

import (
	"os"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// warmSnapshot is the on-disk shape of a cache dump.
type warmSnapshot struct {
	Entries map[string]domain.Ticker `msgpack:"entries"`
}

// DumpWarmCache msgpack-encodes the still-valid cache entries to path, so a
// restarted process can skip the cold-cache period after a deploy.
func (p *Provider) DumpWarmCache(path string) error {
	snap := warmSnapshot{Entries: p.cache.Snapshot()}
	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadWarmCache reads a previous DumpWarmCache output and seeds the
// provider's TTL cache with it. A missing file is not an error: the
// process simply starts with a cold cache.
func (p *Provider) LoadWarmCache(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var snap warmSnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return err
	}
	p.cache.Load(snap.Entries)
	return nil
}
