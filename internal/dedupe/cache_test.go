// ABOUTME: Tests for the claim cache that backs exactly-once interrupt resolution.
// ABOUTME: Validates first-claim-wins, TTL expiration, eviction, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCache_Lookup_NotClaimed(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	_, ok := cache.Lookup("never-claimed")
	assert.False(t, ok)
}

func TestCache_Claim_FirstWins(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	prev, dup := cache.Claim("int-1", "approve")
	assert.False(t, dup)
	assert.Empty(t, prev)

	prev, dup = cache.Claim("int-1", "reject")
	assert.True(t, dup)
	assert.Equal(t, "approve", prev)

	v, ok := cache.Lookup("int-1")
	assert.True(t, ok)
	assert.Equal(t, "approve", v)
}

func TestCache_Claim_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Claim("k", "approve")
	time.Sleep(20 * time.Millisecond)

	_, ok := cache.Lookup("k")
	assert.False(t, ok)

	prev, dup := cache.Claim("k", "reject")
	assert.False(t, dup)
	assert.Empty(t, prev)
}

func TestCache_EvictsOldest(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	for i := range 4 {
		cache.Claim(fmt.Sprintf("k%d", i), "approve")
	}

	assert.Len(t, cache.seen, 3)
	assert.Equal(t, 3, cache.order.Len())
	_, ok := cache.Lookup("k0")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = cache.Lookup("k3")
	assert.True(t, ok)
}

func TestCache_RunCleanup(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Claim("a", "approve")
	cache.Claim("b", "reject")
	time.Sleep(20 * time.Millisecond)

	cache.runCleanup()
	assert.Empty(t, cache.seen)
	assert.Equal(t, 0, cache.order.Len())
}

func TestCache_CloseIdempotent(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	assert.NotPanics(t, cache.Close)
}

func TestCache_ConcurrentClaims(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision := "approve"
			if i%2 == 0 {
				decision = "reject"
			}
			if _, dup := cache.Claim("shared", decision); !dup {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(), "exactly one claim should win")
}
