package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragengine/internal/logging"
	"ragengine/pkg/types"
)

func newTestTiers(t *testing.T) *Tiers {
	t.Helper()
	tiers, err := New(Config{
		L1Capacity: 4,
		L1TTL:      time.Minute,
		L2Capacity: 16,
		L2TTL:      time.Minute,
	}, logging.NewNoOpLogger())
	require.NoError(t, err)
	return tiers
}

func TestFingerprintIsDeterministic(t *testing.T) {
	a := Fingerprint("mode=hybrid&q=cats&top_k=10")
	b := Fingerprint("mode=hybrid&q=cats&top_k=10")
	c := Fingerprint("mode=hybrid&q=dogs&top_k=10")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16) // 128 bits
}

func TestPutThenGetHitsL1(t *testing.T) {
	tiers := newTestTiers(t)
	entry := types.QueryCacheEntry{Fingerprint: "k1", CreatedAt: time.Now()}
	tiers.Put(context.Background(), "k1", entry)

	got, ok := tiers.Get(context.Background(), "k1")
	require.True(t, ok)
	assert.Equal(t, "k1", got.Fingerprint)
}

func TestGetMissReturnsFalse(t *testing.T) {
	tiers := newTestTiers(t)
	_, ok := tiers.Get(context.Background(), "missing")
	assert.False(t, ok)
}

func TestInvalidateClearsEntriesAndBumpsGeneration(t *testing.T) {
	tiers := newTestTiers(t)
	tiers.Put(context.Background(), "k1", types.QueryCacheEntry{Fingerprint: "k1"})

	before := tiers.Generation()
	tiers.Invalidate(context.Background())
	assert.Equal(t, before+1, tiers.Generation())

	_, ok := tiers.Get(context.Background(), "k1")
	assert.False(t, ok)
}

func TestStaleGenerationEntryTreatedAsMiss(t *testing.T) {
	tiers := newTestTiers(t)
	tiers.Put(context.Background(), "k1", types.QueryCacheEntry{Fingerprint: "k1"})
	tiers.generation.Store(5) // simulate a reindex that happened without going through Invalidate's Put path

	_, ok := tiers.Get(context.Background(), "k1")
	assert.False(t, ok)
}

func TestSweepReclaimsExpiredEntries(t *testing.T) {
	tiers, err := New(Config{
		L1Capacity: 4,
		L1TTL:      10 * time.Millisecond,
		L2Capacity: 16,
		L2TTL:      10 * time.Millisecond,
	}, logging.NewNoOpLogger())
	require.NoError(t, err)

	tiers.Put(context.Background(), "k1", types.QueryCacheEntry{Fingerprint: "k1"})
	time.Sleep(20 * time.Millisecond)

	tiers.Sweep()

	tiers.l1Mu.Lock()
	l1Len := len(tiers.l1)
	tiers.l1Mu.Unlock()
	assert.Zero(t, l1Len)
	assert.Zero(t, tiers.l2.Len())
}

func TestSweepReclaimsStaleGenerationEntries(t *testing.T) {
	tiers := newTestTiers(t)

	tiers.Put(context.Background(), "k1", types.QueryCacheEntry{Fingerprint: "k1"})
	tiers.generation.Add(1)

	tiers.Sweep()

	tiers.l1Mu.Lock()
	l1Len := len(tiers.l1)
	tiers.l1Mu.Unlock()
	assert.Zero(t, l1Len)
	assert.Zero(t, tiers.l2.Len())
}
