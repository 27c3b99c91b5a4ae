package dedup

import (
	"context"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// MemoryCache is a process-local Cache. Its contents are lost on restart.
type MemoryCache struct {
	items     *cache.Cache
	retention time.Duration
}

// NewMemoryCache creates a cache whose entries expire after retention and
// are reclaimed by a janitor running every cleanup.
func NewMemoryCache(retention, cleanup time.Duration) *MemoryCache {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryCache{items: cache.New(retention, cleanup), retention: retention}
}

func (m *MemoryCache) HasSent(_ context.Context, key string) (bool, error) {
	_, ok := m.items.Get(key)
	return ok, nil
}

func (m *MemoryCache) MarkSent(_ context.Context, key string, at time.Time, hold time.Duration) error {
	m.items.Set(key, encodeStamp(at, hold), ttl(m.retention, hold))
	return nil
}

func (m *MemoryCache) PurgeOlderThan(_ context.Context, horizon time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-horizon)
	dropped := 0
	for key, item := range m.items.Items() {
		raw, _ := item.Object.(string)
		if stale(raw, cutoff, now) {
			m.items.Delete(key)
			dropped++
		}
	}
	return dropped, nil
}

func (m *MemoryCache) Len(context.Context) (int, error) {
	return m.items.ItemCount(), nil
}
