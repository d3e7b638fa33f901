package scoringservice

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCacheTTL is how long a computed true score may be served from memory.
	DefaultCacheTTL = 30 * time.Second
	// DefaultCacheSize bounds the number of cached participants.
	DefaultCacheSize = 1024
)

type cacheEntry struct {
	total      int
	computedAt time.Time
}

// ScoreCache is a TTL cache of computed true scores with an LRU capacity bound.
//
// A Get is a hit only while now - computedAt < ttl; expired entries are evicted on read.
// Invalidate and Clear advance a generation so that a computation which started before them
// cannot repopulate the cache through PutIfCurrent.
type ScoreCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries *lru.Cache[uuid.UUID, cacheEntry]
	gens    map[uuid.UUID]uint64
	epoch   uint64
}

// CacheToken identifies the cache state a computation started from.
type CacheToken struct {
	epoch uint64
	gen   uint64
}

// NewScoreCache creates a cache. Non-positive ttl or size fall back to the defaults; a nil clock
// uses time.Now.
func NewScoreCache(ttl time.Duration, size int, now func() time.Time) *ScoreCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	if now == nil {
		now = time.Now
	}
	entries, err := lru.New[uuid.UUID, cacheEntry](size)
	if err != nil {
		// Only returned for a non-positive size, which is handled above.
		panic(err)
	}
	return &ScoreCache{
		ttl:     ttl,
		now:     now,
		entries: entries,
		gens:    make(map[uuid.UUID]uint64),
	}
}

// Get returns the cached total for a participant if it has not expired.
func (c *ScoreCache) Get(participantID uuid.UUID) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(participantID)
	if !ok {
		return 0, false
	}
	if c.now().Sub(entry.computedAt) >= c.ttl {
		c.entries.Remove(participantID)
		return 0, false
	}
	return entry.total, true
}

// Put stores a total unconditionally and resets its timestamp.
func (c *ScoreCache) Put(participantID uuid.UUID, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(participantID, cacheEntry{total: total, computedAt: c.now()})
}

// Token captures the participant's invalidation state. Take it before reading the log.
func (c *ScoreCache) Token(participantID uuid.UUID) CacheToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheToken{epoch: c.epoch, gen: c.gens[participantID]}
}

// FlightKey names a computation for participantID started from this token. Reads that begin
// after an invalidation get a different key.
func (t CacheToken) FlightKey(participantID uuid.UUID) string {
	return participantID.String() + "/" + strconv.FormatUint(t.epoch, 10) + "/" + strconv.FormatUint(t.gen, 10)
}

// PutIfCurrent stores a total only if neither the participant nor the whole cache was
// invalidated since token was taken.
func (c *ScoreCache) PutIfCurrent(participantID uuid.UUID, total int, token CacheToken) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != token.epoch || c.gens[participantID] != token.gen {
		return false
	}
	c.entries.Add(participantID, cacheEntry{total: total, computedAt: c.now()})
	return true
}

// Invalidate drops a participant's entry.
func (c *ScoreCache) Invalidate(participantID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[participantID]++
	c.entries.Remove(participantID)
}

// Clear drops every entry.
func (c *ScoreCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	clear(c.gens)
	c.entries.Purge()
}

// Len reports the number of entries, expired ones included.
func (c *ScoreCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
