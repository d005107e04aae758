// Package dedup implements the two-tier Deduplicator (C3): a bounded
// in-process cache absorbs repeat submissions from a hot retry loop on the
// submitter's side without a database round trip, and the durable store's
// unique index is the tier that actually enforces correctness under
// concurrent persisters.
package dedup

import (
	"context"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 100_000

// Store is the subset of repository.EventStore the Deduplicator needs,
// narrowed so dedup doesn't import the full store surface.
type Store interface {
	Exists(ctx context.Context, externalJobID, source string, scheduledAt time.Time) (bool, error)
}

// Checker is the two-tier membership test. Tier 1 is a process-local LRU
// keyed on the same (external_job_id, source, scheduled_at) tuple the
// durable unique index enforces; Tier 2 falls through to the store on a
// cache miss. A Tier 1 hit short-circuits the store round trip; a Tier 1
// miss is not proof of novelty, only of "ask the store."
type Checker struct {
	cache *lru.Cache[string, struct{}]
	store Store
}

func NewChecker(store Store, cacheSize int) *Checker {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, struct{}](cacheSize)
	return &Checker{cache: cache, store: store}
}

// Seen reports whether this dedup key has already been observed, checking
// the in-process cache first and the durable store on a miss. A true result
// from either tier is cached so a subsequent call for the same key never
// reaches the store again.
func (c *Checker) Seen(ctx context.Context, externalJobID, source string, scheduledAt time.Time) (bool, error) {
	key := Key(externalJobID, source, scheduledAt)
	if _, ok := c.cache.Get(key); ok {
		return true, nil
	}

	exists, err := c.store.Exists(ctx, externalJobID, source, scheduledAt)
	if err != nil {
		return false, err
	}
	if exists {
		c.cache.Add(key, struct{}{})
	}
	return exists, nil
}

// Remember marks a key as seen without consulting the store — used right
// after a successful insert, so the row that was just written doesn't cost
// a round trip the next time its key is checked.
func (c *Checker) Remember(externalJobID, source string, scheduledAt time.Time) {
	c.cache.Add(Key(externalJobID, source, scheduledAt), struct{}{})
}

func Key(externalJobID, source string, scheduledAt time.Time) string {
	return externalJobID + "|" + source + "|" + strconv.FormatInt(scheduledAt.UTC().UnixNano(), 10)
}
