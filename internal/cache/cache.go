// Package cache implements the engine's three-tier query-result cache:
// an in-process L1 map, a process-wide LRU L2, and an optional external
// L3 backed by Redis. All tiers are invalidated together on a successful
// atomic reindex via the shared generation counter.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"ragengine/internal/logging"
	"ragengine/pkg/types"
)

const redisKeyPrefix = "ag:search:"

// Fingerprint returns a 128-bit BLAKE2b digest of the canonicalized query
// form, used as the cache key across all tiers. Distinct top_k or mode
// values must be folded into canon before calling this.
func Fingerprint(canon string) string {
	h, _ := blake2b.New(16, nil)
	_, _ = h.Write([]byte(canon))
	return string(h.Sum(nil))
}

type l1Entry struct {
	entry     types.QueryCacheEntry
	expiresAt time.Time
}

// Tiers coordinates the L1/L2/L3 caches behind a single Get/Put/Clear
// surface keyed by fingerprint, tracking the reindex generation so stale
// entries are treated as misses even before their TTL expires.
type Tiers struct {
	logger logging.Logger

	l1Mu  sync.Mutex
	l1    map[string]l1Entry
	l1Cap int
	l1TTL time.Duration

	l2    *lru.Cache[string, l2Entry]
	l2TTL time.Duration

	redis       *redis.Client
	redisTTL    time.Duration
	redisEnabled bool

	generation atomic.Uint64
}

type l2Entry struct {
	entry     types.QueryCacheEntry
	expiresAt time.Time
}

// Config carries the tunables for all three tiers.
type Config struct {
	L1Capacity   int
	L1TTL        time.Duration
	L2Capacity   int
	L2TTL        time.Duration
	RedisEnabled bool
	RedisClient  *redis.Client
	RedisTTL     time.Duration
}

// New constructs a Tiers cache. L1Capacity/L1TTL default to the fixed
// 256 entries / 60s when zero.
func New(cfg Config, logger logging.Logger) (*Tiers, error) {
	if cfg.L1Capacity <= 0 {
		cfg.L1Capacity = 256
	}
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = 60 * time.Second
	}
	if cfg.L2Capacity <= 0 {
		cfg.L2Capacity = 4096
	}
	l2, err := lru.New[string, l2Entry](cfg.L2Capacity)
	if err != nil {
		return nil, err
	}
	return &Tiers{
		logger:       logger,
		l1:           make(map[string]l1Entry, cfg.L1Capacity),
		l1Cap:        cfg.L1Capacity,
		l1TTL:        cfg.L1TTL,
		l2:           l2,
		l2TTL:        cfg.L2TTL,
		redis:        cfg.RedisClient,
		redisEnabled: cfg.RedisEnabled && cfg.RedisClient != nil,
		redisTTL:     cfg.RedisTTL,
	}, nil
}

// Generation returns the current reindex generation counter.
func (t *Tiers) Generation() uint64 {
	return t.generation.Load()
}

// Get consults L1, then L2, then L3 in order, returning the first hit
// whose generation is at least the current one. A hit at L2 or L3 is
// promoted into L1.
func (t *Tiers) Get(ctx context.Context, key string) (types.QueryCacheEntry, bool) {
	if e, ok := t.getL1(key); ok {
		return e, true
	}
	if e, ok := t.getL2(key); ok {
		t.putL1(key, e)
		return e, true
	}
	if t.redisEnabled {
		if e, ok := t.getL3(ctx, key); ok {
			t.putL1(key, e)
			t.putL2(key, e)
			return e, true
		}
	}
	return types.QueryCacheEntry{}, false
}

// Put writes through to L1, L2, and (if enabled) L3.
func (t *Tiers) Put(ctx context.Context, key string, entry types.QueryCacheEntry) {
	entry.Generation = t.generation.Load()
	t.putL1(key, entry)
	t.putL2(key, entry)
	if t.redisEnabled {
		t.putL3(ctx, key, entry)
	}
}

func (t *Tiers) valid(gen uint64) bool {
	return gen >= t.generation.Load()
}

func (t *Tiers) getL1(key string) (types.QueryCacheEntry, bool) {
	t.l1Mu.Lock()
	defer t.l1Mu.Unlock()
	e, ok := t.l1[key]
	if !ok {
		return types.QueryCacheEntry{}, false
	}
	if time.Now().After(e.expiresAt) || !t.valid(e.entry.Generation) {
		delete(t.l1, key)
		return types.QueryCacheEntry{}, false
	}
	return e.entry, true
}

func (t *Tiers) putL1(key string, entry types.QueryCacheEntry) {
	t.l1Mu.Lock()
	defer t.l1Mu.Unlock()
	if len(t.l1) >= t.l1Cap {
		// L1 carries no eviction metric; drop one arbitrary entry to make room.
		for k := range t.l1 {
			delete(t.l1, k)
			break
		}
	}
	t.l1[key] = l1Entry{entry: entry, expiresAt: time.Now().Add(t.l1TTL)}
}

func (t *Tiers) getL2(key string) (types.QueryCacheEntry, bool) {
	e, ok := t.l2.Get(key)
	if !ok {
		return types.QueryCacheEntry{}, false
	}
	if time.Now().After(e.expiresAt) || !t.valid(e.entry.Generation) {
		t.l2.Remove(key)
		return types.QueryCacheEntry{}, false
	}
	return e.entry, true
}

func (t *Tiers) putL2(key string, entry types.QueryCacheEntry) {
	t.l2.Add(key, l2Entry{entry: entry, expiresAt: time.Now().Add(t.l2TTL)})
}

func (t *Tiers) getL3(ctx context.Context, key string) (types.QueryCacheEntry, bool) {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	raw, err := t.redis.Get(cctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil && t.logger != nil {
			t.logger.Warn("cache L3 get failed, treating as miss", "error", err)
		}
		return types.QueryCacheEntry{}, false
	}
	var entry types.QueryCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		if t.logger != nil {
			t.logger.Warn("cache L3 entry corrupt, treating as miss", "error", err)
		}
		return types.QueryCacheEntry{}, false
	}
	if !t.valid(entry.Generation) {
		return types.QueryCacheEntry{}, false
	}
	return entry, true
}

func (t *Tiers) putL3(ctx context.Context, key string, entry types.QueryCacheEntry) {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := t.redis.Set(cctx, redisKeyPrefix+key, raw, t.redisTTL).Err(); err != nil && t.logger != nil {
		t.logger.Warn("cache L3 put failed", "error", err)
	}
}

// Invalidate clears L1 and L2 synchronously, bumps the generation
// counter, and flushes L3 asynchronously with a bounded timeout and a
// single retry. Called once per successful atomic reindex commit.
func (t *Tiers) Invalidate(ctx context.Context) {
	t.l1Mu.Lock()
	t.l1 = make(map[string]l1Entry, t.l1Cap)
	t.l1Mu.Unlock()

	t.l2.Purge()
	t.generation.Add(1)

	if t.redisEnabled {
		go t.flushL3Async()
	}
	_ = ctx
}

// SweepInterval is the fixed cadence of the periodic TTL sweep.
const SweepInterval = 30 * time.Second

// Sweep drops expired and stale-generation entries from L1 and L2. Reads
// already treat them as misses lazily; the sweep just reclaims their
// memory between reindexes. L3 expiry is Redis's own TTL.
func (t *Tiers) Sweep() {
	now := time.Now()

	t.l1Mu.Lock()
	for k, e := range t.l1 {
		if now.After(e.expiresAt) || !t.valid(e.entry.Generation) {
			delete(t.l1, k)
		}
	}
	t.l1Mu.Unlock()

	for _, k := range t.l2.Keys() {
		if e, ok := t.l2.Peek(k); ok {
			if now.After(e.expiresAt) || !t.valid(e.entry.Generation) {
				t.l2.Remove(k)
			}
		}
	}
}

// RunSweeper blocks, sweeping every SweepInterval until ctx is cancelled.
func (t *Tiers) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *Tiers) flushL3Async() {
	flush := func() error {
		cctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return t.redis.FlushDB(cctx).Err()
	}
	if err := flush(); err != nil {
		if err2 := flush(); err2 != nil && t.logger != nil {
			t.logger.Warn("cache L3 flush failed after retry", "error", err2)
		}
	}
}
