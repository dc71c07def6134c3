// Package metrics exposes process and keyspace statistics for an
// INFO-style reporting surface (SPEC_FULL.md "Process memory / INFO
// reporting"), adapted from the teacher's mem.go/info.go to read from
// internal/store.Store instead of the teacher's map[string]*Item DB.
package metrics

import (
	"runtime"
	"sync/atomic"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/store"
)

// Snapshot is a point-in-time read of process memory and keyspace size,
// the fields the teacher's RedisInfo.memory category reports.
type Snapshot struct {
	UsedMemoryBytes  uint64
	PeakMemoryBytes  uint64
	SystemMemTotal   uint64
	DatabaseKeyCounts []int64
}

// Tracker accumulates the peak of UsedMemoryBytes across calls to Sample,
// mirroring the teacher's DB.mempeak running maximum.
type Tracker struct {
	peak atomic.Uint64
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Sample builds a Snapshot for st: per-database key counts from st's Dicts
// (Dict.Size, spec.md §4.1), process heap usage from the Go runtime, and
// total system memory from gopsutil's mem.VirtualMemory, exactly the
// source teacher's info.go used for "total_memory_peak".
func (tr *Tracker) Sample(st *store.Store) Snapshot {
	var rt runtime.MemStats
	runtime.ReadMemStats(&rt)
	used := rt.HeapAlloc

	for {
		prev := tr.peak.Load()
		if used <= prev {
			break
		}
		if tr.peak.CompareAndSwap(prev, used) {
			break
		}
	}

	var sysTotal uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		sysTotal = vm.Total
	}

	counts := make([]int64, st.Len())
	for i := 0; i < st.Len(); i++ {
		d, err := st.DB(i)
		if err != nil {
			continue
		}
		counts[i] = d.Size()
	}

	return Snapshot{
		UsedMemoryBytes:   used,
		PeakMemoryBytes:   tr.peak.Load(),
		SystemMemTotal:    sysTotal,
		DatabaseKeyCounts: counts,
	}
}
