package dict

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/value"
)

func TestPutGetRemoveBasic(t *testing.T) {
	d := New()

	_, existed, err := d.Put("a", value.NewString("1"))
	require.NoError(t, err)
	require.False(t, existed)

	got, ok := d.Get("a")
	require.True(t, ok)
	require.Equal(t, value.NewString("1"), got)

	prev, existed, err := d.Put("a", value.NewString("2"))
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, value.NewString("1"), prev)

	got, ok = d.Get("a")
	require.True(t, ok)
	require.Equal(t, value.NewString("2"), got)

	prev, existed, err = d.Remove("a")
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, value.NewString("2"), prev)

	_, ok = d.Get("a")
	require.False(t, ok)

	require.Equal(t, int64(0), d.Size())
}

// TestMapAgreesWithReferenceModel is P-map: every sequence of put/get/
// remove/contains against Dict agrees with a plain Go map acting as the
// reference model (spec.md §8 P-map).
func TestMapAgreesWithReferenceModel(t *testing.T) {
	d := New()
	ref := make(map[string]string)

	ops := []struct {
		op  string
		key string
		val string
	}{
		{"put", "k0", "v0"}, {"put", "k1", "v1"}, {"put", "k2", "v2"},
		{"remove", "k1", ""}, {"put", "k1", "v1b"}, {"put", "k3", "v3"},
		{"remove", "k0", ""}, {"remove", "k0", ""}, {"put", "k4", "v4"},
	}

	for _, o := range ops {
		switch o.op {
		case "put":
			d.Put(o.key, value.NewString(o.val))
			ref[o.key] = o.val
		case "remove":
			d.Remove(o.key)
			delete(ref, o.key)
		}
	}

	require.Equal(t, int64(len(ref)), d.Size())
	for k, v := range ref {
		got, ok := d.Get(k)
		require.True(t, ok, "key %s should be present", k)
		require.Equal(t, v, got.Str)
	}
	_, ok := d.Get("nonexistent")
	require.False(t, ok)
}

// TestRehashGrowsAndPreservesContents is P-rehash-progress and
// P-load-factor: enough puts bring ht0's load factor to 1.0, a grow
// rehash starts, and repeated operations eventually drive rehashIndex
// back to -1 while every key stays reachable (spec.md §8).
func TestRehashGrowsAndPreservesContents(t *testing.T) {
	d := New()
	const n = 500
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		_, _, err := d.Put(key, value.NewString(fmt.Sprintf("val-%d", i)))
		require.NoError(t, err)
	}

	// Drive the rehash to completion with read-only ops, which also each
	// perform one bounded step (spec.md §4.1 rehash-step trigger list).
	for i := 0; i < 100000 && d.Stat().RehashIndex != -1; i++ {
		d.Get("key-0")
	}
	require.Equal(t, int64(-1), d.Stat().RehashIndex, "rehash should finish within a bounded number of steps")

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		got, ok := d.Get(key)
		require.True(t, ok, "key %s missing after rehash", key)
		require.Equal(t, fmt.Sprintf("val-%d", i), got.Str)
	}
	require.Equal(t, int64(n), d.Size())
}

// TestLoadFactorNeverExceedsOneAfterSettling checks P-load-factor: once a
// rehash completes, ht0.used/ht0.size is back under the 1.0 threshold.
func TestLoadFactorNeverExceedsOneAfterSettling(t *testing.T) {
	d := New()
	for i := 0; i < 50; i++ {
		d.Put(fmt.Sprintf("k%d", i), value.NewString("v"))
		for d.Stat().RehashIndex != -1 {
			d.Get("k0")
		}
	}
	s := d.Stat()
	require.LessOrEqual(t, float64(s.Ht0Used)/float64(s.Ht0Size), 1.0)
}

// TestShrinkRehashToSize8 is spec.md §8's "Shrink rehash" scenario: grow
// ht0 to size 16 with 8 keys, remove down to exactly ht0.size==16,
// ht0.used==2, then delete one more key and check that maybeStartShrink
// settles ht0 back down to size 8.
func TestShrinkRehashToSize8(t *testing.T) {
	d := New()
	for i := 0; i < 8; i++ {
		_, _, err := d.Put(fmt.Sprintf("s%d", i), value.NewString("v"))
		require.NoError(t, err)
	}
	require.Equal(t, Stat{Ht0Size: 16, Ht0Used: 8, RehashIndex: -1}, d.Stat())

	for i := 0; i < 6; i++ {
		_, existed, err := d.Remove(fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		require.True(t, existed)
	}
	require.Equal(t, uint32(16), d.Stat().Ht0Size, "ht0 should not have shrunk yet at used==2")
	require.Equal(t, int64(2), d.Size())

	_, existed, err := d.Remove("s6")
	require.NoError(t, err)
	require.True(t, existed)

	for i := 0; i < 100000 && d.Stat().RehashIndex != -1; i++ {
		d.Get("s7")
	}

	s := d.Stat()
	require.Equal(t, uint32(8), s.Ht0Size, "shrink rehash should settle ht0 back to size 8")
	require.Equal(t, int64(-1), s.RehashIndex)
	require.Equal(t, int64(1), d.Size())

	got, ok := d.Get("s7")
	require.True(t, ok)
	require.Equal(t, value.NewString("v"), got)
}

func TestClear(t *testing.T) {
	d := New()
	for i := 0; i < 20; i++ {
		d.Put(fmt.Sprintf("k%d", i), value.NewString("v"))
	}
	d.Clear()
	require.Equal(t, int64(0), d.Size())
	_, ok := d.Get("k0")
	require.False(t, ok)
	require.Equal(t, int64(-1), d.Stat().RehashIndex)
}

func TestKeysAndEntries(t *testing.T) {
	d := New()
	d.Put("a", value.NewString("1"))
	d.Put("b", value.NewString("2"))
	d.Remove("a")

	keys := d.Keys()
	require.ElementsMatch(t, []string{"b"}, keys)

	entries := d.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "b", entries[0].Key)
}
