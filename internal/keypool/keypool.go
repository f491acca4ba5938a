// Package keypool maintains the bounded in-memory cache of upstream
// credentials, with random selection and eviction of invalidated entries.
package keypool

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/maypok86/otter/v2"

	amppool "github.com/amphq/amppool/internal"
)

// maxEntries is the hard capacity of the backing cache; the logical bound
// is the configured pool size, enforced by the refill arithmetic.
const maxEntries = 1024

// Store is the persistence surface the pool needs.
type Store interface {
	ListEligible(ctx context.Context, limit int, exclude []int64) ([]*amppool.Credential, error)
	DisableCredential(ctx context.Context, id int64, errorCode, reason string) error
}

// Pool is the bounded credential cache. Add, Select, and Evict serialize
// on a single mutex; selection is random and stateless across requests.
type Pool struct {
	mu    sync.Mutex
	cache *otter.Cache[int64, *amppool.Credential]
	store Store
	size  func() int // target size, read from the config snapshot
}

// New creates a Pool over store. size returns the target pool size and is
// consulted on every selection so config reloads take effect immediately.
func New(store Store, size func() int) (*Pool, error) {
	c, err := otter.New[int64, *amppool.Credential](&otter.Options[int64, *amppool.Credential]{
		MaximumSize: maxEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("create key cache: %w", err)
	}
	return &Pool{cache: c, store: store, size: size}, nil
}

// Select refills the cache up to the target size and returns one cached
// credential uniformly at random. Returns ErrNoCredential when the cache
// is still empty after refill.
func (p *Pool) Select(ctx context.Context) (*amppool.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cached := p.entriesLocked()
	if shortfall := p.size() - len(cached); shortfall > 0 {
		ids := make([]int64, len(cached))
		for i, c := range cached {
			ids[i] = c.ID
		}
		fresh, err := p.store.ListEligible(ctx, shortfall, ids)
		if err != nil {
			return nil, fmt.Errorf("refill key pool: %w", err)
		}
		for _, c := range fresh {
			if _, ok := p.cache.GetIfPresent(c.ID); !ok {
				p.cache.Set(c.ID, c)
				cached = append(cached, c)
			}
		}
	}

	if len(cached) == 0 {
		return nil, amppool.ErrNoCredential
	}
	return cached[rand.IntN(len(cached))], nil
}

// Add inserts a credential iff no entry with that id exists.
func (p *Pool) Add(c *amppool.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.cache.GetIfPresent(c.ID); !ok {
		p.cache.Set(c.ID, c)
	}
}

// Evict removes the entry with the given id; idempotent.
func (p *Pool) Evict(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Invalidate(id)
}

// Disable marks the credential invalid in the store and evicts it from the
// cache, so subsequent selections never return it until re-enabled.
func (p *Pool) Disable(ctx context.Context, id int64, errorCode, reason string) error {
	err := p.store.DisableCredential(ctx, id, errorCode, reason)
	p.Evict(id)
	return err
}

// Len returns the current number of cached credentials.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entriesLocked())
}

func (p *Pool) entriesLocked() []*amppool.Credential {
	var out []*amppool.Credential
	for _, c := range p.cache.All() {
		out = append(out, c)
	}
	return out
}
