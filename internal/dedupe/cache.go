package dedupe

// Cache is a write-once key to first-seen-index store.
// Implementations are owned by exactly one job and one tier.
type Cache interface {
	// Lookup returns the index stored for key.
	Lookup(key string) (int, bool)
	// InsertIfAbsent stores index for key unless key is present.
	// Returns true if the entry was newly inserted.
	InsertIfAbsent(key string, index int) bool
	// Len returns the number of stored keys.
	Len() int
}

// MemoryCache is a map-backed Cache scoped to one job namespace and tier.
// It is not safe for concurrent use; a job scans sequentially.
type MemoryCache struct {
	namespace string
	tier      Tier
	entries   map[string]int
}

// NewMemoryCache creates an empty cache for namespace and tier.
func NewMemoryCache(namespace string, tier Tier) *MemoryCache {
	return &MemoryCache{
		namespace: namespace,
		tier:      tier,
		entries:   make(map[string]int),
	}
}

// Namespace returns the isolation key the cache belongs to.
func (c *MemoryCache) Namespace() string { return c.namespace }

// Tier returns the tier the cache serves.
func (c *MemoryCache) Tier() Tier { return c.tier }

func (c *MemoryCache) Lookup(key string) (int, bool) {
	idx, ok := c.entries[key]
	return idx, ok
}

func (c *MemoryCache) InsertIfAbsent(key string, index int) bool {
	if _, ok := c.entries[key]; ok {
		return false
	}
	c.entries[key] = index
	return true
}

func (c *MemoryCache) Len() int { return len(c.entries) }

// CachePair holds the two independent tier caches of one job.
type CachePair struct {
	Strict  Cache
	Partial Cache
}

// NewCachePair creates fresh in-memory caches for the job namespace.
func NewCachePair(namespace string) CachePair {
	return CachePair{
		Strict:  NewMemoryCache(namespace, TierStrict),
		Partial: NewMemoryCache(namespace, TierPartial),
	}
}
