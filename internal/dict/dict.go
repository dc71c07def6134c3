// Package dict implements the progressively-rehashing, snapshot-isolated
// chained hash table at the center of this store (spec.md §3/§4.1). A
// single writer goroutine owns Put/Remove/Get/Contains/Clear/Size/
// StartSnapshot/FinishSnapshot and the incremental rehash cursor; once a
// Snapshot handle is obtained its SnapshotIterator may be driven
// concurrently from any number of other goroutines without further
// synchronization (spec.md §5).
package dict

import (
	"fmt"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/dicterr"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/logging"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/value"
)

const (
	initialSize   = 4
	maxLoadFactor = 1.0
	minLoadFactor = 0.1

	rehashStepBuckets    = 100
	rehashStepEmptyLimit = 10
)

// Dict is the hash table described in spec.md §3/§4.1: two inner tables
// (ht0 the primary, ht1 the rehash target), an incremental migration
// cursor, and ForwardNode-based snapshot isolation.
type Dict struct {
	ht0 atomicTable
	ht1 atomicTable // nil when rehashIndex == -1

	rehashIndex atomicInt64 // -1 == not rehashing; atomic so a concurrent Snapshot.Iter can read it

	snapshotting bool // writer-owned
	modifiedKeys map[string]struct{}
	tombstones   int64 // writer-owned; see Size()

	log *logging.Logger
}

// New returns an empty Dict with the minimum table size (spec.md §4.1,
// "initial ht0.size... a small power of two, e.g. 4").
func New() *Dict {
	d := &Dict{
		log:          logging.For("dict"),
		modifiedKeys: make(map[string]struct{}),
	}
	d.ht0.store(newTable(initialSize))
	d.rehashIndex.store(-1)
	return d
}

func (d *Dict) tables() (ht0, ht1 *table, idx int64) {
	return d.ht0.load(), d.ht1.load(), d.rehashIndex.load()
}

func (d *Dict) rehashing() bool { return d.rehashIndex.load() != -1 }

func (d *Dict) stepIfRehashing() {
	if d.rehashing() {
		d.rehashStep()
	}
}

func (d *Dict) find(hash uint32, key string) (*table, *entry) {
	ht0, ht1, idx := d.tables()
	if e := lookupIn(ht0, hash, key); e != nil {
		return ht0, e
	}
	if idx != -1 {
		if e := lookupIn(ht1, hash, key); e != nil {
			return ht1, e
		}
	}
	return nil, nil
}

func lookupIn(t *table, hash uint32, key string) *entry {
	if t == nil {
		return nil
	}
	for e := t.head(hash); e != nil; e = e.next.Load() {
		if e.hash == hash && e.key == key {
			return e
		}
	}
	return nil
}

// Put inserts or updates key with v, returning the previous live value (if
// any existed) and whether it existed (spec.md §4.1 "Insert/update
// policy").
func (d *Dict) Put(key string, v value.Value) (value.Value, bool, error) {
	hash := hashCode(key)

	if !d.rehashing() {
		ht0 := d.ht0.load()
		if float64(ht0.used+1)/float64(ht0.size) >= maxLoadFactor {
			d.startRehash(ht0.size * 2)
		}
	}
	d.stepIfRehashing()

	target := d.ht0.load()
	if d.rehashing() {
		target = d.ht1.load()
	}

	if t, e := d.find(hash, key); e != nil {
		prev, existed := e.liveValue()
		if d.snapshotting {
			d.convertOrUpdateLive(t, hash, key, e, v)
		} else {
			t.storeHead(hash, rebuildReplace(t.head(hash), hash, key, func(_ *entry) *entry {
				return newPlainEntry(hash, key, v, nil)
			}))
		}
		return prev, existed, nil
	}

	if d.snapshotting {
		fn := newForwardNode(fwdState{snapshotValue: nil, liveValue: valPtr(v), op: OpInsert})
		target.storeHead(hash, newForwardEntry(hash, key, fn, target.head(hash)))
		d.modifiedKeys[key] = struct{}{}
	} else {
		target.storeHead(hash, newPlainEntry(hash, key, v, target.head(hash)))
	}
	target.used++
	return value.Value{}, false, nil
}

// convertOrUpdateLive applies a put to an entry that already exists while
// a snapshot is active. A node untouched this snapshot (still plain) is
// converted to a ForwardNode carrying its old value as snapshot_value; a
// node already converted this snapshot only has its live_value touched
// ("a subsequent put on the same key updates only live_value", spec.md
// §4.1).
func (d *Dict) convertOrUpdateLive(t *table, hash uint32, key string, e *entry, newVal value.Value) {
	if e.fwd != nil {
		s := e.fwd.load()
		wasTombstoned := s.liveValue == nil
		nv := newVal
		s.liveValue = &nv
		e.fwd.store(s)
		if wasTombstoned {
			d.tombstones--
		}
		return
	}

	old := *e.plain
	fn := newForwardNode(fwdState{snapshotValue: &old, liveValue: valPtr(newVal), op: OpUpdate})
	t.storeHead(hash, rebuildReplace(t.head(hash), hash, key, func(_ *entry) *entry {
		return newForwardEntry(hash, key, fn, nil)
	}))
	d.modifiedKeys[key] = struct{}{}
}

// Remove deletes key, returning its previous value and whether it existed
// (spec.md §4.1 "Delete policy").
func (d *Dict) Remove(key string) (value.Value, bool, error) {
	hash := hashCode(key)
	t, e := d.find(hash, key)
	if e == nil {
		d.stepIfRehashing()
		return value.Value{}, false, nil
	}
	prev, existed := e.liveValue()
	if !existed {
		d.stepIfRehashing()
		return value.Value{}, false, nil
	}

	if d.snapshotting {
		if e.fwd != nil {
			s := e.fwd.load()
			s.liveValue = nil
			e.fwd.store(s)
		} else {
			old := *e.plain
			fn := newForwardNode(fwdState{snapshotValue: &old, liveValue: nil, op: OpRemove})
			t.storeHead(hash, rebuildReplace(t.head(hash), hash, key, func(_ *entry) *entry {
				return newForwardEntry(hash, key, fn, nil)
			}))
		}
		d.modifiedKeys[key] = struct{}{}
		d.tombstones++
		d.stepIfRehashing()
		return prev, true, nil
	}

	t.storeHead(hash, rebuildReplace(t.head(hash), hash, key, func(_ *entry) *entry {
		return nil
	}))
	t.used--

	d.stepIfRehashing()
	d.maybeStartShrink()
	return prev, true, nil
}

// Get returns key's live value, stepping the rehash cursor first like
// every other read method (spec.md §4.1's rehash-step trigger list).
func (d *Dict) Get(key string) (value.Value, bool) {
	d.stepIfRehashing()
	hash := hashCode(key)
	_, e := d.find(hash, key)
	if e == nil {
		return value.Value{}, false
	}
	return e.liveValue()
}

func (d *Dict) Contains(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// ContainsValue reports whether key is live and its current value equals v.
func (d *Dict) ContainsValue(key string, v value.Value) bool {
	got, ok := d.Get(key)
	return ok && got.Equal(v)
}

// Pair is one (key, value) result from a live-view or snapshot iteration.
type Pair struct {
	Key   string
	Value value.Value
}

// Keys returns every live key (not snapshot-isolated).
func (d *Dict) Keys() []string {
	d.stepIfRehashing()
	var keys []string
	d.walkLive(func(k string, _ value.Value) { keys = append(keys, k) })
	return keys
}

// Entries returns every live (key, value) pair (not snapshot-isolated).
func (d *Dict) Entries() []Pair {
	d.stepIfRehashing()
	var pairs []Pair
	d.walkLive(func(k string, v value.Value) { pairs = append(pairs, Pair{Key: k, Value: v}) })
	return pairs
}

func (d *Dict) walkLive(fn func(string, value.Value)) {
	ht0, ht1, idx := d.tables()
	walkTable(ht0, fn)
	if idx != -1 {
		walkTable(ht1, fn)
	}
}

func walkTable(t *table, fn func(string, value.Value)) {
	if t == nil {
		return
	}
	for i := uint32(0); i < t.size; i++ {
		for e := t.buckets[i].Load(); e != nil; e = e.next.Load() {
			if v, ok := e.liveValue(); ok {
				fn(e.key, v)
			}
		}
	}
}

// Clear empties the dict back to its initial size and resets rehash and
// snapshot state.
func (d *Dict) Clear() {
	d.ht0.store(newTable(initialSize))
	d.ht1.store(nil)
	d.rehashIndex.store(-1)
	d.snapshotting = false
	d.modifiedKeys = make(map[string]struct{})
	d.tombstones = 0
}

// Size reports the live key count (spec.md §3 invariant I2). used sums
// structural entries across both inner tables, including ForwardNodes
// whose live side is currently Tombstone; tombstones is subtracted to
// give the true live count in constant time instead of a full scan.
func (d *Dict) Size() int64 {
	ht0, ht1, idx := d.tables()
	used := ht0.used
	if idx != -1 {
		used += ht1.used
	}
	return used - d.tombstones
}

func (d *Dict) startRehash(targetSize uint32) {
	ht0 := d.ht0.load()
	d.ht1.store(newTable(targetSize))
	d.rehashIndex.store(0)
	d.log.Debug("rehash started: %d -> %d", ht0.size, targetSize)
}

func (d *Dict) maybeStartShrink() {
	if d.rehashing() {
		return
	}
	ht0 := d.ht0.load()
	if ht0.size <= initialSize {
		return
	}
	if float64(ht0.used)/float64(ht0.size) < minLoadFactor {
		target := nextPow2(maxu32(initialSize, ht0.size/2))
		if target < ht0.size {
			d.startRehash(target)
		}
	}
}

// rehashStep performs one bounded unit of incremental migration from ht0
// to ht1: at most 100 source buckets, stopping early after 10 consecutive
// empty buckets (spec.md §4.1 "rehash-step"). Writer-only.
func (d *Dict) rehashStep() {
	idx := d.rehashIndex.load()
	if idx == -1 {
		return
	}
	ht0 := d.ht0.load()
	ht1 := d.ht1.load()

	visited := 0
	emptyRun := 0
	for visited < rehashStepBuckets && idx < int64(ht0.size) {
		head := ht0.buckets[idx].Load()
		if head == nil {
			emptyRun++
			visited++
			idx++
			if emptyRun >= rehashStepEmptyLimit {
				break
			}
			continue
		}
		emptyRun = 0

		moved := int64(0)
		for e := head; e != nil; e = e.next.Load() {
			h := e.hash & ht1.mask
			ht1.buckets[h].Store(e.cloneWithNext(ht1.buckets[h].Load()))
			moved++
		}
		ht1.used += moved
		ht0.used -= moved
		ht0.buckets[idx].Store(nil)

		visited++
		idx++
	}

	if idx >= int64(ht0.size) && ht0.used == 0 {
		d.ht0.store(ht1)
		d.ht1.store(nil)
		d.rehashIndex.store(-1)
		d.log.Debug("rehash complete: size=%d", ht1.size)
		return
	}
	d.rehashIndex.store(idx)
}

// StartSnapshot begins a snapshot window (spec.md §4.1 "start_snapshot").
// Only one may be active at a time.
func (d *Dict) StartSnapshot() (*Snapshot, error) {
	if d.snapshotting {
		return nil, dicterr.New(dicterr.KindInvariantViolation, "dict.start_snapshot", fmt.Errorf("a snapshot is already active"))
	}
	d.snapshotting = true
	return &Snapshot{dict: d}, nil
}

// FinishSnapshot resolves every ForwardNode created since StartSnapshot
// and clears the snapshot window (spec.md §4.1 "finish_snapshot", I6).
func (d *Dict) FinishSnapshot() {
	if !d.snapshotting {
		return
	}
	for key := range d.modifiedKeys {
		hash := hashCode(key)
		t, e := d.find(hash, key)
		if e == nil || e.fwd == nil {
			continue
		}
		s := e.fwd.load()
		existedBefore := s.snapshotValue != nil
		liveNow := s.liveValue != nil

		if !liveNow {
			t.storeHead(hash, rebuildReplace(t.head(hash), hash, key, func(_ *entry) *entry { return nil }))
			t.used--
			d.tombstones--
			if !existedBefore {
				// Inserted then removed entirely within this snapshot
				// window: never existed from either view.
			}
			continue
		}

		live := *s.liveValue
		t.storeHead(hash, rebuildReplace(t.head(hash), hash, key, func(old *entry) *entry {
			return newPlainEntry(old.hash, old.key, live, nil)
		}))
	}
	d.modifiedKeys = make(map[string]struct{})
	d.snapshotting = false
}

// Stat exposes internal sizing for tests and metrics; it is not part of
// the public Dict contract in spec.md §4.1.
type Stat struct {
	Ht0Size     uint32
	Ht0Used     int64
	Ht1Size     uint32
	Ht1Used     int64
	RehashIndex int64
}

func (d *Dict) Stat() Stat {
	ht0, ht1, idx := d.tables()
	s := Stat{Ht0Size: ht0.size, Ht0Used: ht0.used, RehashIndex: idx}
	if ht1 != nil {
		s.Ht1Size = ht1.size
		s.Ht1Used = ht1.used
	}
	return s
}

func valPtr(v value.Value) *value.Value { return &v }

func nextPow2(n uint32) uint32 {
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

func maxu32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
