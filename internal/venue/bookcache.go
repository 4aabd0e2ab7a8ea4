package venue

import (
	"context"
	"sync"
	"time"
)

// BookCache is a short-TTL orderbook cache keyed by venue id. It is owned by
// whoever constructs it (controller or monitor) and passed explicitly; there
// is no package-level cache. The TTL bounds the call rate against venues
// without letting a decision run on stale data.
type BookCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	book Book
	at   time.Time
}

func NewBookCache(ttl time.Duration) *BookCache {
	return &BookCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *BookCache) Get(venueID string) (Book, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[venueID]
	if !ok || time.Since(e.at) > c.ttl {
		return Book{}, false
	}
	return e.book, true
}

func (c *BookCache) Put(b Book) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[b.VenueID] = cacheEntry{book: b, at: time.Now()}
}

// Fetch returns a cached book when fresh, otherwise pulls from the adapter
// and refreshes the entry.
func (c *BookCache) Fetch(ctx context.Context, ad Adapter, symbol string, depth int) (Book, error) {
	if b, ok := c.Get(ad.Name()); ok {
		return b, nil
	}
	b, err := ad.GetOrderBook(ctx, symbol, depth)
	if err != nil {
		return Book{}, err
	}
	c.Put(b)
	return b, nil
}
