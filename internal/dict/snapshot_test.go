package dict

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/value"
)

func drain(t *testing.T, it *SnapshotIterator) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for {
		p, ok := it.Next()
		if !ok {
			break
		}
		out[p.Key] = p.Value.Str
	}
	return out
}

// TestSnapshotConsistency is P-snapshot-consistency: writes made after
// start_snapshot are invisible to an in-flight iteration, while reads
// through Get see the live value immediately (spec.md §8).
func TestSnapshotConsistency(t *testing.T) {
	d := New()
	d.Put("a", value.NewString("1"))
	d.Put("b", value.NewString("2"))

	snap, err := d.StartSnapshot()
	require.NoError(t, err)

	d.Put("a", value.NewString("1-updated"))
	d.Put("c", value.NewString("3"))
	d.Remove("b")

	got, ok := d.Get("a")
	require.True(t, ok)
	require.Equal(t, "1-updated", got.Str)
	_, ok = d.Get("b")
	require.False(t, ok)

	it, err := snap.Iter()
	require.NoError(t, err)
	seen := drain(t, it)

	require.Equal(t, map[string]string{"a": "1", "b": "2"}, seen)

	snap.Finish()

	got, ok = d.Get("a")
	require.True(t, ok)
	require.Equal(t, "1-updated", got.Str)
	_, ok = d.Get("b")
	require.False(t, ok)
	got, ok = d.Get("c")
	require.True(t, ok)
	require.Equal(t, "3", got.Str)
}

// TestSnapshotFinishIdempotence is P-snapshot-finish-idempotence: calling
// Finish twice is a no-op the second time, and StartSnapshot can be called
// again afterward (spec.md §8).
func TestSnapshotFinishIdempotence(t *testing.T) {
	d := New()
	d.Put("a", value.NewString("1"))

	snap, err := d.StartSnapshot()
	require.NoError(t, err)
	d.Put("a", value.NewString("2"))

	snap.Finish()
	snap.Finish() // must not panic or re-touch state

	got, ok := d.Get("a")
	require.True(t, ok)
	require.Equal(t, "2", got.Str)

	_, err = d.StartSnapshot()
	require.NoError(t, err)
}

func TestStartSnapshotWhileActiveFails(t *testing.T) {
	d := New()
	_, err := d.StartSnapshot()
	require.NoError(t, err)
	_, err = d.StartSnapshot()
	require.Error(t, err)
}

// TestConcurrentReadersSeeSameMultiset is P-concurrent-readers: several
// SnapshotIterators over the same handle, run concurrently, all observe
// the identical multiset of (key, value) pairs (spec.md §8).
func TestConcurrentReadersSeeSameMultiset(t *testing.T) {
	d := New()
	const n = 300
	for i := 0; i < n; i++ {
		d.Put(fmt.Sprintf("k%d", i), value.NewString(fmt.Sprintf("v%d", i)))
	}
	snap, err := d.StartSnapshot()
	require.NoError(t, err)

	const readers = 8
	results := make([]map[string]string, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			it, err := snap.Iter()
			require.NoError(t, err)
			results[idx] = drain(t, it)
		}(i)
	}
	wg.Wait()

	for i := 1; i < readers; i++ {
		require.Equal(t, results[0], results[i])
	}
	require.Len(t, results[0], n)

	snap.Finish()
}

// TestSnapshotDuringOngoingRehash exercises the Open Question resolution
// in spec.md §9: start_snapshot is allowed while a rehash is in progress,
// and the iterator must visit both inner tables.
func TestSnapshotDuringOngoingRehash(t *testing.T) {
	d := New()
	// The 512th put starts the 512->1024 grow; one step migrates at most
	// 100 buckets, so the rehash is still in progress afterwards.
	const n = 512
	for i := 0; i < n; i++ {
		d.Put(fmt.Sprintf("k%d", i), value.NewString(fmt.Sprintf("v%d", i)))
	}
	require.NotEqual(t, int64(-1), d.Stat().RehashIndex, "expected a rehash to be mid-flight")

	snap, err := d.StartSnapshot()
	require.NoError(t, err)
	it, err := snap.Iter()
	require.NoError(t, err)
	seen := drain(t, it)
	require.Len(t, seen, n)
	snap.Finish()
}

// TestSnapshotInsertThenRemoveNeverSurfaces covers the finish_snapshot
// edge case: a key inserted and removed entirely within the same
// snapshot window never existed from either view (spec.md §4.1).
func TestSnapshotInsertThenRemoveNeverSurfaces(t *testing.T) {
	d := New()
	snap, err := d.StartSnapshot()
	require.NoError(t, err)

	d.Put("ephemeral", value.NewString("x"))
	d.Remove("ephemeral")

	it, err := snap.Iter()
	require.NoError(t, err)
	seen := drain(t, it)
	_, present := seen["ephemeral"]
	require.False(t, present)

	snap.Finish()
	_, ok := d.Get("ephemeral")
	require.False(t, ok)
	require.Equal(t, int64(0), d.Size())
}

func TestSnapshotIterIsRestartable(t *testing.T) {
	d := New()
	for i := 0; i < 10; i++ {
		d.Put(fmt.Sprintf("k%d", i), value.NewString("v"))
	}
	snap, err := d.StartSnapshot()
	require.NoError(t, err)

	it1, err := snap.Iter()
	require.NoError(t, err)
	first := drain(t, it1)

	it2, err := snap.Iter()
	require.NoError(t, err)
	second := drain(t, it2)

	require.Equal(t, first, second)
	snap.Finish()
}

func keysOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
