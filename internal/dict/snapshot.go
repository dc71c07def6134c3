package dict

import (
	"fmt"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/dicterr"
)

// Snapshot is the handle returned by Dict.StartSnapshot (spec.md §3
// "Snapshot handle"). It keeps the owning Dict in snapshotting mode until
// Finish is called. Iter may be invoked any number of times, from any
// goroutine, while the handle is live.
type Snapshot struct {
	dict   *Dict
	closed bool
}

// Iter returns a fresh SnapshotIterator scanning from bucket 0 of both
// inner tables as they stood when Iter was called (spec.md §4.2
// "restartable"). Constructing the iterator performs the rehash-step the
// operation table in spec.md §4.1 assigns to iter_snapshot; the returned
// iterator's Next calls do not step further — rehash-step is writer-only,
// and Next may run on a different goroutine than the writer (spec.md §5).
func (s *Snapshot) Iter() (*SnapshotIterator, error) {
	if s.closed {
		return nil, dicterr.New(dicterr.KindInvariantViolation, "dict.iter_snapshot", fmt.Errorf("snapshot handle already finished"))
	}
	s.dict.stepIfRehashing()
	ht0, ht1, idx := s.dict.tables()
	return &SnapshotIterator{ht0: ht0, ht1: ht1, rehashing: idx != -1}, nil
}

// Finish resolves every ForwardNode created since StartSnapshot and
// releases the snapshot window (spec.md §4.1 "finish_snapshot").
func (s *Snapshot) Finish() {
	if s.closed {
		return
	}
	s.dict.FinishSnapshot()
	s.closed = true
}

// SnapshotIterator is a finite, lazy, restartable sequence over the bucket
// arrays captured at Iter time (spec.md §4.2). Each call to Next advances
// only local bucket/chain cursors — it touches no Dict-owned writer
// state — so many SnapshotIterators, even concurrent ones, can run over
// the same Snapshot safely (spec.md §8 P-concurrent-readers).
type SnapshotIterator struct {
	ht0, ht1  *table
	rehashing bool

	stage     int // 0 = ht0, 1 = ht1, 2 = exhausted
	bucketIdx uint32
	cur       *entry
}

// Next returns the next live-at-snapshot-start pair, or ok=false once the
// iterator is exhausted.
func (it *SnapshotIterator) Next() (Pair, bool) {
	for {
		if it.cur != nil {
			e := it.cur
			it.cur = e.next.Load()
			if v, ok := e.snapshotValue(); ok {
				return Pair{Key: e.key, Value: v}, true
			}
			continue
		}

		t := it.currentTable()
		if t == nil {
			return Pair{}, false
		}
		if it.bucketIdx >= t.size {
			it.stage++
			it.bucketIdx = 0
			continue
		}
		it.cur = t.buckets[it.bucketIdx].Load()
		it.bucketIdx++
	}
}

func (it *SnapshotIterator) currentTable() *table {
	switch it.stage {
	case 0:
		return it.ht0
	case 1:
		if !it.rehashing {
			return nil
		}
		return it.ht1
	default:
		return nil
	}
}
