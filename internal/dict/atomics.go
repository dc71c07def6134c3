package dict

import "sync/atomic"

// atomicTable is an atomic.Pointer[table] with load/store names matching
// the rest of this package's vocabulary.
type atomicTable struct {
	p atomic.Pointer[table]
}

func (a *atomicTable) load() *table        { return a.p.Load() }
func (a *atomicTable) store(t *table)      { a.p.Store(t) }

// atomicInt64 is an atomic.Int64 wrapper so Dict.rehashIndex reads the
// same way whether it's touched by the writer or observed by a concurrent
// Snapshot.Iter call.
type atomicInt64 struct {
	v atomic.Int64
}

func (a *atomicInt64) load() int64    { return a.v.Load() }
func (a *atomicInt64) store(n int64)  { a.v.Store(n) }
