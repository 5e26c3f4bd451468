package ingest

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterEvictsOldestBucketWhenFull(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	rl.limit = 1000000 // isolate eviction from the per-source cap itself

	now := time.Now()
	ok, _ := rl.allow("source-0", now)
	require.True(t, ok)

	for i := 1; i < maxBuckets; i++ {
		_, _ = rl.allow(fmt.Sprintf("source-filler-%d", i), now.Add(time.Duration(i)*time.Millisecond))
	}
	require.Len(t, rl.buckets, maxBuckets)

	// One more distinct source pushes the map over capacity; the
	// oldest bucket (source-0, created first) must be evicted rather
	// than growing the map unbounded.
	ok, _ = rl.allow("source-new", now.Add(time.Hour))
	require.True(t, ok)

	rl.mu.Lock()
	_, stillPresent := rl.buckets["source-0"]
	_, newPresent := rl.buckets["source-new"]
	count := len(rl.buckets)
	rl.mu.Unlock()

	require.False(t, stillPresent, "oldest bucket should have been evicted")
	require.True(t, newPresent)
	require.LessOrEqual(t, count, maxBuckets)
}
