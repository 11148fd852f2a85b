package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"brick_model_generator/metrics"
)

// DefaultSharedTimeout bounds a collapsed lookup, which outlives any single caller's context.
const DefaultSharedTimeout = 30 * time.Second

// CachedLookup remembers catalog hits across generations and collapses identical
// concurrent lookups into one request. Misses and errors are not cached.
type CachedLookup struct {
	next  PartLookup
	group singleflight.Group
	// SharedTimeout bounds the collapsed request. Callers that give up earlier return their
	// own context error without cancelling it for the others.
	SharedTimeout time.Duration

	mu    sync.RWMutex
	parts map[string]CatalogPart
}

// NewCachedLookup wraps next.
func NewCachedLookup(next PartLookup) *CachedLookup {
	return &CachedLookup{next: next, parts: make(map[string]CatalogPart), SharedTimeout: DefaultSharedTimeout}
}

// LookupParts answers from the cache and forwards only the unknown part numbers.
func (c *CachedLookup) LookupParts(ctx context.Context, partNums []string) ([]CatalogPart, error) {
	var out []CatalogPart
	var missing []string
	c.mu.RLock()
	for _, pn := range partNums {
		if cp, ok := c.parts[pn]; ok {
			out = append(out, cp)
		} else {
			missing = append(missing, pn)
		}
	}
	c.mu.RUnlock()
	metrics.CatalogCacheLookups.WithLabelValues("hit").Add(float64(len(out)))
	metrics.CatalogCacheLookups.WithLabelValues("miss").Add(float64(len(missing)))
	if len(missing) == 0 {
		return out, nil
	}

	sorted := append([]string(nil), missing...)
	sort.Strings(sorted)
	ch := c.group.DoChan(strings.Join(sorted, ","), func() (interface{}, error) {
		shared, cancel := c.sharedContext(ctx)
		defer cancel()
		return c.next.LookupParts(shared, missing)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	fetched := res.Val.([]CatalogPart)

	c.mu.Lock()
	for _, cp := range fetched {
		c.parts[cp.PartNum] = cp
	}
	c.mu.Unlock()
	return append(out, fetched...), nil
}

// sharedContext keeps the caller's values but not its deadline or cancellation.
func (c *CachedLookup) sharedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if c.SharedTimeout <= 0 {
		return detached, func() {}
	}
	return context.WithTimeout(detached, c.SharedTimeout)
}

// Len returns the number of cached parts.
func (c *CachedLookup) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.parts)
}

var _ PartLookup = (*CachedLookup)(nil)
