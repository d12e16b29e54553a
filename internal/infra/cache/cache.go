// Package cache provides a bounded, TTL-aware cache for chain queries.
//
// Entries are keyed by (chain, kind, argument) and carry a per-kind TTL:
// balances go stale in seconds, transaction statuses in minutes, sealed
// blocks barely at all. Expired entries are dropped lazily on read; when
// the cache is full, expired entries are evicted first, then the least
// recently used. Concurrent loads for the same key are collapsed into a
// single upstream call.
package cache

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vietddude/apex/internal/core/domain"
	"github.com/vietddude/apex/internal/metrics"
)

// Kind identifies the class of cached data and selects its TTL.
type Kind string

const (
	KindBalance  Kind = "balance"
	KindNonce    Kind = "nonce"
	KindTxStatus Kind = "tx_status"
	KindBlock    Kind = "block"
)

// Key addresses one cache entry.
type Key struct {
	Chain domain.ChainID
	Kind  Kind
	Arg   string
}

func (k Key) String() string {
	return string(k.Chain) + "/" + string(k.Kind) + "/" + k.Arg
}

// BalanceKey keys the cached balance of an account.
func BalanceKey(chain domain.ChainID, addr domain.Address) Key {
	return Key{Chain: chain, Kind: KindBalance, Arg: addr.Key()}
}

// NonceKey keys the cached nonce of an account.
func NonceKey(chain domain.ChainID, addr domain.Address) Key {
	return Key{Chain: chain, Kind: KindNonce, Arg: addr.Key()}
}

// TxStatusKey keys the cached status of a transaction.
func TxStatusKey(chain domain.ChainID, hash domain.TxHash) Key {
	return Key{Chain: chain, Kind: KindTxStatus, Arg: string(hash)}
}

// BlockKey keys a cached block by height.
func BlockKey(chain domain.ChainID, number uint64) Key {
	return Key{Chain: chain, Kind: KindBlock, Arg: strconv.FormatUint(number, 10)}
}

// Config controls capacity and per-kind TTLs.
type Config struct {
	Capacity    int
	BalanceTTL  time.Duration
	NonceTTL    time.Duration
	TxStatusTTL time.Duration
	BlockTTL    time.Duration
}

// DefaultConfig returns the standard tiering: balances 30s, nonces 10s,
// transaction statuses 5m, blocks 1h, 10k entries.
func DefaultConfig() Config {
	return Config{
		Capacity:    10_000,
		BalanceTTL:  30 * time.Second,
		NonceTTL:    10 * time.Second,
		TxStatusTTL: 5 * time.Minute,
		BlockTTL:    time.Hour,
	}
}

// Stats holds cache effectiveness counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Sets      uint64
	Evictions uint64
	Entries   int
}

// HitRate returns the hit percentage over all lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

type entry struct {
	key        Key
	value      any
	insertedAt time.Time
	expiresAt  time.Time
}

// Cache is a bounded TTL cache safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttls     map[Kind]time.Duration
	entries  map[Key]*list.Element
	order    *list.List // front = most recently used

	hits      uint64
	misses    uint64
	sets      uint64
	evictions uint64

	group   singleflight.Group
	onEvent func(domain.Event)
}

// New creates a cache. A zero or negative capacity falls back to the default.
func New(cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	def := DefaultConfig()
	ttls := map[Kind]time.Duration{
		KindBalance:  cfg.BalanceTTL,
		KindNonce:    cfg.NonceTTL,
		KindTxStatus: cfg.TxStatusTTL,
		KindBlock:    cfg.BlockTTL,
	}
	defaults := map[Kind]time.Duration{
		KindBalance:  def.BalanceTTL,
		KindNonce:    def.NonceTTL,
		KindTxStatus: def.TxStatusTTL,
		KindBlock:    def.BlockTTL,
	}
	for kind, ttl := range ttls {
		if ttl <= 0 {
			ttls[kind] = defaults[kind]
		}
	}
	return &Cache{
		capacity: cfg.Capacity,
		ttls:     ttls,
		entries:  make(map[Key]*list.Element),
		order:    list.New(),
	}
}

// OnEvent registers a sink receiving cache_hit / cache_miss events.
// Must be called before the cache is shared across goroutines.
func (c *Cache) OnEvent(fn func(domain.Event)) {
	c.onEvent = fn
}

// TTLFor returns the TTL applied to a kind.
func (c *Cache) TTLFor(kind Kind) time.Duration {
	if ttl, ok := c.ttls[kind]; ok {
		return ttl
	}
	return DefaultConfig().BalanceTTL
}

// Get returns the cached value for key. Expired entries count as misses
// and are removed.
func (c *Cache) Get(key Key) (any, bool) {
	c.mu.Lock()

	elem, ok := c.entries[key]
	if ok {
		ent := elem.Value.(*entry)
		if time.Now().Before(ent.expiresAt) {
			c.order.MoveToFront(elem)
			c.hits++
			value := ent.value
			c.mu.Unlock()

			metrics.CacheHits.WithLabelValues(string(key.Kind)).Inc()
			c.emit(domain.EventTypeCacheHit, key)
			return value, true
		}
		c.removeLocked(elem)
	}
	c.misses++
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheSize.Set(float64(size))
	metrics.CacheMisses.WithLabelValues(string(key.Kind)).Inc()
	c.emit(domain.EventTypeCacheMiss, key)
	return nil, false
}

// Set stores value under key with the kind's default TTL. Entries are
// replaced, never mutated in place.
func (c *Cache) Set(key Key, value any) {
	c.SetWithTTL(key, value, c.TTLFor(key.Kind))
}

// SetWithTTL stores value under key with an explicit TTL.
func (c *Cache) SetWithTTL(key Key, value any, ttl time.Duration) {
	now := time.Now()
	ent := &entry{
		key:        key,
		value:      value,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
	}

	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		elem.Value = ent
		c.order.MoveToFront(elem)
	} else {
		if len(c.entries) >= c.capacity {
			c.evictLocked()
		}
		c.entries[key] = c.order.PushFront(ent)
	}
	c.sets++
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheSize.Set(float64(size))
}

// GetOrLoad returns the cached value for key, calling loader on a miss.
// Concurrent misses for the same key share one loader call. Loader errors
// are returned without caching.
func (c *Cache) GetOrLoad(ctx context.Context, key Key, loader func(ctx context.Context) (any, error)) (any, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err, _ := c.group.Do(key.String(), func() (any, error) {
		// Another flight may have populated the entry while we queued.
		if value, ok := c.peek(key); ok {
			return value, nil
		}
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, value)
		return value, nil
	})
	return value, err
}

// peek is Get without counters, used to re-check inside a flight.
func (c *Cache) peek(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		if ent := elem.Value.(*entry); time.Now().Before(ent.expiresAt) {
			return ent.value, true
		}
	}
	return nil, false
}

// Delete removes key if present.
func (c *Cache) Delete(key Key) {
	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheSize.Set(float64(size))
}

// InvalidateAccount drops the balance and nonce entries of an account.
// Called after every submission so the next read reflects the chain.
func (c *Cache) InvalidateAccount(chain domain.ChainID, addr domain.Address) {
	c.Delete(BalanceKey(chain, addr))
	c.Delete(NonceKey(chain, addr))
}

// Purge removes every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[Key]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	metrics.CacheSize.Set(0)
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Sets:      c.sets,
		Evictions: c.evictions,
		Entries:   len(c.entries),
	}
}

// CleanupExpired removes every expired entry. Reads already expire lazily;
// this reclaims memory for entries nothing reads anymore.
func (c *Cache) CleanupExpired() int {
	now := time.Now()

	c.mu.Lock()
	var removed int
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if ent := elem.Value.(*entry); now.After(ent.expiresAt) {
			c.removeLocked(elem)
			c.evictions++
			removed++
			metrics.CacheEvictions.Inc()
		}
		elem = prev
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheSize.Set(float64(size))
	return removed
}

// evictLocked frees one slot: expired entries go first, then the least
// recently used.
func (c *Cache) evictLocked() {
	now := time.Now()
	var freed bool
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if ent := elem.Value.(*entry); now.After(ent.expiresAt) {
			c.removeLocked(elem)
			c.evictions++
			freed = true
			metrics.CacheEvictions.Inc()
		}
		elem = prev
	}
	if freed {
		return
	}
	if oldest := c.order.Back(); oldest != nil {
		c.removeLocked(oldest)
		c.evictions++
		metrics.CacheEvictions.Inc()
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	ent := elem.Value.(*entry)
	c.order.Remove(elem)
	delete(c.entries, ent.key)
}

func (c *Cache) emit(eventType domain.EventType, key Key) {
	if c.onEvent == nil {
		return
	}
	c.onEvent(domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		ChainID:   key.Chain,
		EmittedAt: time.Now(),
		Metadata:  map[string]any{"kind": string(key.Kind), "arg": key.Arg},
	})
}
