package dict

import (
	"sync/atomic"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/value"
)

// Op labels which operation first converted an entry into a ForwardNode
// during the current snapshot window (spec.md §3/§4.1, glossary
// "ForwardNode"). It is informational only: iteration and finish_snapshot
// both key off snapshot_value/live_value Tombstone-ness, never off Op.
type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpRemove
)

// fwdState is the point-in-time content of a ForwardNode: the value an
// in-flight snapshot sees, and the value the live writer/readers see. A nil
// pointer means Tombstone.
type fwdState struct {
	snapshotValue *value.Value
	liveValue     *value.Value
	op            Op
}

// forwardNode lets a single entry carry two values at once while a
// snapshot is in flight. Its state is swapped wholesale by the single
// writer; a reader holding a live Snapshot handle only ever consults
// snapshotValue, so concurrent liveValue updates never perturb an
// in-flight iteration (spec.md §5).
type forwardNode struct {
	state atomic.Pointer[fwdState]
}

func newForwardNode(s fwdState) *forwardNode {
	fn := &forwardNode{}
	fn.state.Store(&s)
	return fn
}

func (fn *forwardNode) load() fwdState {
	return *fn.state.Load()
}

func (fn *forwardNode) store(s fwdState) {
	fn.state.Store(&s)
}

// entry is an immutable chain node: a bucket update rebuilds the prefix of
// the chain up to and including the changed node rather than mutating next
// pointers in place, so a lazy reader walking a stale-but-still-valid
// chain never observes a half-updated bucket (spec.md §4.1 "Insert/update
// policy").
type entry struct {
	hash uint32
	key  string

	// Exactly one of (plain, fwd) is set. A plain-valued entry is
	// morally a ForwardNode whose two cells hold the same value
	// (spec.md §3 "Entry").
	plain *value.Value
	fwd   *forwardNode

	next atomic.Pointer[entry]
}

func newPlainEntry(hash uint32, key string, v value.Value, next *entry) *entry {
	e := &entry{hash: hash, key: key, plain: &v}
	e.next.Store(next)
	return e
}

func newForwardEntry(hash uint32, key string, fn *forwardNode, next *entry) *entry {
	e := &entry{hash: hash, key: key, fwd: fn}
	e.next.Store(next)
	return e
}

// liveValue returns the value a non-snapshot reader should see, and
// whether the key is currently live.
func (e *entry) liveValue() (value.Value, bool) {
	if e.plain != nil {
		return *e.plain, true
	}
	s := e.fwd.load()
	if s.liveValue == nil {
		return value.Value{}, false
	}
	return *s.liveValue, true
}

// snapshotValue returns the value a snapshot reader should see, and
// whether the key existed at start_snapshot.
func (e *entry) snapshotValue() (value.Value, bool) {
	if e.plain != nil {
		return *e.plain, true
	}
	s := e.fwd.load()
	if s.snapshotValue == nil {
		return value.Value{}, false
	}
	return *s.snapshotValue, true
}

// cloneWithNext copies an entry's identity and value cell onto a new node
// pointed at a different next — used both by chain-rebuild writes and by
// rehash migration, which must relocate nodes without mutating them.
func (e *entry) cloneWithNext(next *entry) *entry {
	c := &entry{hash: e.hash, key: e.key, plain: e.plain, fwd: e.fwd}
	c.next.Store(next)
	return c
}
