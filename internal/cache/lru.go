package cache

import (
	"container/list"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/notenetra/creditscore/internal/domain"
)

// LRUCache is the in-process score cache: the community tier cache and L1
// of the two-phase cache. Entries expire by TTL and the least recently used
// entry is evicted beyond maxSize. A per-merchant index makes ForgetMerchant
// proportional to that merchant's entries.
type LRUCache struct {
	mu         sync.Mutex
	maxSize    int
	items      map[string]*list.Element
	byMerchant map[string]map[*list.Element]struct{}
	order      *list.List
	now        func() time.Time
}

type lruEntry struct {
	key       string
	merchant  string
	result    domain.ScoreResult
	expiresAt time.Time
}

// NewLRUCache creates an LRU cache holding at most maxSize scores.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:    maxSize,
		items:      make(map[string]*list.Element),
		byMerchant: make(map[string]map[*list.Element]struct{}),
		order:      list.New(),
		now:        time.Now,
	}
}

func merchantIndexKey(tenantID, merchantID string) string {
	return tenantID + "\x00" + merchantID
}

// GetScore returns a copy of the cached score, or nil on a miss or expiry.
func (c *LRUCache) GetScore(ctx context.Context, tenantID string, merchantID string, fingerprint string) (*domain.ScoreResult, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}
	key := merchantIndexKey(tenantID, ScoreKey(merchantID, fingerprint))

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*lruEntry)
	if c.now().After(entry.expiresAt) {
		c.remove(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	result := entry.result
	result.Unmeasured = slices.Clone(entry.result.Unmeasured)
	return &result, nil
}

// SetScore caches result under its fingerprint.
func (c *LRUCache) SetScore(ctx context.Context, tenantID string, merchantID string, result *domain.ScoreResult, ttl time.Duration) error {
	if err := checkScore(tenantID, result); err != nil {
		return err
	}
	key := merchantIndexKey(tenantID, ScoreKey(merchantID, result.LedgerFingerprint))
	stored := *result
	stored.Unmeasured = slices.Clone(result.Unmeasured)
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.result = stored
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	merchant := merchantIndexKey(tenantID, merchantID)
	elem := c.order.PushFront(&lruEntry{
		key:       key,
		merchant:  merchant,
		result:    stored,
		expiresAt: expiresAt,
	})
	c.items[key] = elem
	if c.byMerchant[merchant] == nil {
		c.byMerchant[merchant] = make(map[*list.Element]struct{})
	}
	c.byMerchant[merchant][elem] = struct{}{}

	for c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
	}
	return nil
}

// ForgetMerchant removes every score of the merchant.
func (c *LRUCache) ForgetMerchant(ctx context.Context, tenantID string, merchantID string) (int, error) {
	if tenantID == "" {
		return 0, errTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elems := c.byMerchant[merchantIndexKey(tenantID, merchantID)]
	n := len(elems)
	for elem := range elems {
		c.remove(elem)
	}
	return n, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.byMerchant = make(map[string]map[*list.Element]struct{})
	c.order = list.New()
	return nil
}

// Stats returns the number of cached scores and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) remove(elem *list.Element) {
	entry := c.order.Remove(elem).(*lruEntry)
	delete(c.items, entry.key)
	if idx := c.byMerchant[entry.merchant]; idx != nil {
		delete(idx, elem)
		if len(idx) == 0 {
			delete(c.byMerchant, entry.merchant)
		}
	}
}
