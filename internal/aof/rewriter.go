package aof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/dict"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/dicterr"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/logging"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/resp"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/snapshot"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/store"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/value"
)

// State is one phase of the AofRewriter state machine (spec.md §4.4).
type State int

const (
	Idle State = iota
	Snapshotting
	WritingSnapshot
	Draining
	Merging
	Replacing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Snapshotting:
		return "snapshotting"
	case WritingSnapshot:
		return "writing_snapshot"
	case Draining:
		return "draining"
	case Merging:
		return "merging"
	case Replacing:
		return "replacing"
	default:
		return "unknown"
	}
}

const (
	snapshotSoftTimeout = 30 * time.Second
	drainSoftTimeout    = 5 * time.Second
	rewriteQueueCap     = 1000
	overflowCapBuffers  = 2 * rewriteQueueCap
)

// errDrainSoftTimeout marks the drain-side soft deadline (drainSoftTimeout,
// separate from the context.DeadlineExceeded carried by drainCtx/snapCtx)
// being exceeded.
var errDrainSoftTimeout = errors.New("drain did not finish within soft timeout")

// classifyFailure distinguishes the two soft-timeout causes (the
// snapshot/drain contexts' context.DeadlineExceeded, and the drain-side
// errDrainSoftTimeout) from genuine I/O failures, so abort can report
// dicterr.KindTimeout instead of lumping every rewrite failure under
// KindIO (spec.md §7 "Timeout: snapshot creation or drain exceeded its
// cap").
func classifyFailure(err error) dicterr.Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errDrainSoftTimeout) {
		return dicterr.KindTimeout
	}
	return dicterr.KindIO
}

// Rewriter drives the AOF background rewrite state machine (spec.md
// §4.4): snapshot the dict, write it as equivalent commands into a
// snapshot file, concurrently drain live writes into a buffer file plus
// overflow spill files, then merge and atomically replace the live AOF.
type Rewriter struct {
	cfg   *Config
	coord *snapshot.Coordinator
	bw    *BatchWriter
	log   *logging.Logger

	mu    sync.Mutex
	state State

	overflowFiles []string
	overflowSeq   int
}

// Config carries the filesystem layout AofRewriter needs.
type Config struct {
	Dir     string
	AOFPath string
}

func NewRewriter(cfg Config, coord *snapshot.Coordinator, bw *BatchWriter) *Rewriter {
	return &Rewriter{cfg: &cfg, coord: coord, bw: bw, log: logging.For("aof-rewrite"), state: Idle}
}

func (r *Rewriter) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Rewriter) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.log.Debug("rewrite state -> %s", s)
}

// SpillOverflow implements OverflowSink: it appends buf to the rewrite's
// overflow file, creating that file on the first spill (spec.md §4.4
// "overflow files"). Every buffer spilled during one rewrite goes to that
// single file; it is not rotated at a capacity, and overflowCapBuffers is
// not applied here.
func (r *Rewriter) SpillOverflow(buf []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var path string
	if len(r.overflowFiles) == 0 {
		path = r.nextOverflowPathLocked()
		r.overflowFiles = append(r.overflowFiles, path)
	} else {
		path = r.overflowFiles[len(r.overflowFiles)-1]
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(buf)
	return err
}

func (r *Rewriter) nextOverflowPathLocked() string {
	r.overflowSeq++
	return filepath.Join(r.cfg.Dir, fmt.Sprintf("aof-overflow-%04d-%s.tmp", r.overflowSeq, uuid.NewString()[:8]))
}

// Rewrite runs one full rewrite cycle. It returns an error if the
// SnapshotCoordinator's AOF slot is busy, any I/O step fails, or a soft
// timeout is exceeded; in every failure case the live AOF is left
// untouched (spec.md §4.4 "Failure semantics").
func (r *Rewriter) Rewrite(ctx context.Context, st *store.Store) error {
	if r.State() != Idle {
		return dicterr.New(dicterr.KindInvariantViolation, "aof.rewrite", fmt.Errorf("a rewrite is already in progress"))
	}
	if !r.coord.TryAcquire(snapshot.KindAOF) {
		return dicterr.New(dicterr.KindQueueFull, "aof.rewrite", fmt.Errorf("aof snapshot slot is busy"))
	}
	defer r.coord.Release()
	defer r.setState(Idle)

	r.setState(Snapshotting)
	var snaps []dbSnapshot
	err := st.Each(func(idx int, d *dict.Dict) error {
		if d.Size() == 0 {
			return nil
		}
		snap, err := d.StartSnapshot()
		if err != nil {
			return err
		}
		snaps = append(snaps, dbSnapshot{idx, snap})
		return nil
	})
	finishAll := func() {
		for _, s := range snaps {
			s.snap.Finish()
		}
	}
	if err != nil {
		finishAll()
		return dicterr.New(dicterr.KindInvariantViolation, "aof.rewrite", err)
	}

	pathA := filepath.Join(r.cfg.Dir, "aof-rewrite-snapshot-"+uuid.NewString()[:8]+".tmp")
	pathB := filepath.Join(r.cfg.Dir, "aof-rewrite-buffer-"+uuid.NewString()[:8]+".tmp")

	rewriteQueue := make(chan []byte, rewriteQueueCap)
	r.mu.Lock()
	r.overflowFiles = nil
	r.overflowSeq = 0
	r.mu.Unlock()
	r.bw.BeginRewrite(r, rewriteQueue)

	abort := func(kind dicterr.Kind, cause error) error {
		r.bw.EndRewrite()
		os.Remove(pathA)
		os.Remove(pathB)
		r.removeOverflowFiles()
		finishAll()
		r.log.Error("aof rewrite aborted: %v", cause)
		return dicterr.New(kind, "aof.rewrite", cause)
	}

	// WritingSnapshot and the draining of live writes into file B run
	// concurrently (spec.md §4.4 "Concurrently, the AofBatchWriter
	// copies every live command..."). Draining keeps going until the
	// snapshot write finishes, at which point stop_draining is
	// signaled via drainCancel.
	r.setState(WritingSnapshot)
	drainCtx, drainCancel := context.WithTimeout(ctx, snapshotSoftTimeout+drainSoftTimeout)
	drainDone := make(chan error, 1)
	go func() { drainDone <- drainToFile(drainCtx, pathB, rewriteQueue) }()

	snapCtx, cancelSnap := context.WithTimeout(ctx, snapshotSoftTimeout)
	writeErr := writeSnapshotFile(snapCtx, pathA, snaps)
	cancelSnap()

	r.setState(Draining)
	drainCancel() // signal stop_draining now that file A is complete

	var drainErr error
	select {
	case drainErr = <-drainDone:
	case <-time.After(drainSoftTimeout):
		drainErr = errDrainSoftTimeout
	}
	r.bw.EndRewrite()

	if writeErr != nil {
		return abort(classifyFailure(writeErr), writeErr)
	}
	if drainErr != nil {
		return abort(classifyFailure(drainErr), drainErr)
	}

	r.setState(Merging)
	pathM := filepath.Join(r.cfg.Dir, "redis_aof_merged-"+uuid.NewString()[:8]+".tmp")
	if err := mergeFiles(pathM, append([]string{pathA, pathB}, r.overflowFilesSnapshot()...)); err != nil {
		return abort(dicterr.KindIO, err)
	}
	os.Remove(pathA)
	os.Remove(pathB)

	r.setState(Replacing)
	if err := r.replaceLiveAOF(pathM); err != nil {
		os.Remove(pathM)
		r.removeOverflowFiles()
		finishAll()
		return dicterr.New(dicterr.KindIO, "aof.rewrite", err)
	}

	r.removeOverflowFiles()
	finishAll()
	r.log.Info("aof rewrite complete")
	return nil
}

func (r *Rewriter) overflowFilesSnapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.overflowFiles...)
}

func (r *Rewriter) removeOverflowFiles() {
	for _, f := range r.overflowFilesSnapshot() {
		os.Remove(f)
	}
	r.mu.Lock()
	r.overflowFiles = nil
	r.mu.Unlock()
}

// replaceLiveAOF renames the current AOF to a timestamped backup, renames
// pathM to the live AOF path, then deletes the backup; if renaming pathM
// fails and the live path is now missing, it restores the backup (spec.md
// §4.4 "Merging -> Replacing").
func (r *Rewriter) replaceLiveAOF(pathM string) error {
	backup := fmt.Sprintf("%s.bak-%d-%s", r.cfg.AOFPath, time.Now().UnixNano(), uuid.NewString()[:8])
	hadLive := true
	if err := os.Rename(r.cfg.AOFPath, backup); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		hadLive = false
	}
	if err := os.Rename(pathM, r.cfg.AOFPath); err != nil {
		if hadLive {
			if _, statErr := os.Stat(r.cfg.AOFPath); os.IsNotExist(statErr) {
				os.Rename(backup, r.cfg.AOFPath)
			}
		}
		return err
	}
	if hadLive {
		os.Remove(backup)
	}
	return nil
}

// dbSnapshot pairs a database index with its in-flight Dict snapshot
// handle.
type dbSnapshot struct {
	idx  int
	snap *dict.Snapshot
}

func writeSnapshotFile(ctx context.Context, path string, snaps []dbSnapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := resp.NewWriter(f)

	for _, s := range snaps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		it, err := s.snap.Iter()
		if err != nil {
			return err
		}
		if _, err := w.Write(resp.Command("SELECT", fmt.Sprintf("%d", s.idx))); err != nil {
			return err
		}
		for {
			p, ok := it.Next()
			if !ok {
				break
			}
			if err := writeEquivalentCommand(w, p.Key, p.Value); err != nil {
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// writeEquivalentCommand reconstructs the command(s) that would produce
// v for key, grounded on the teacher's per-type rewrite switch in
// internal/common/aof.go.
func writeEquivalentCommand(w *resp.Writer, key string, v value.Value) error {
	switch v.Type {
	case value.TypeString:
		_, err := w.Write(resp.Command("SET", key, v.Str))
		return err
	case value.TypeList:
		args := append([]string{"RPUSH", key}, v.Items...)
		_, err := w.Write(resp.Command(args...))
		return err
	case value.TypeSet:
		args := append([]string{"SADD", key}, v.Items...)
		_, err := w.Write(resp.Command(args...))
		return err
	case value.TypeZSet:
		args := []string{"ZADD", key}
		for i := 0; i+1 < len(v.Items); i += 2 {
			member, score := v.Items[i], v.Items[i+1]
			args = append(args, score, member)
		}
		_, err := w.Write(resp.Command(args...))
		return err
	case value.TypeHash:
		args := []string{"HSET", key}
		args = append(args, v.Items...)
		_, err := w.Write(resp.Command(args...))
		return err
	default:
		return fmt.Errorf("aof: unknown value type %v", v.Type)
	}
}

// drainToFile writes the rewrite-side queue into path, polling with a
// ~100ms timed wait (spec.md §5 "AofRewriter's drain task blocks on the
// rewrite-side queue"). Once ctx signals stop_draining, it finishes
// writing whatever is already queued, then returns (spec.md §4.4
// "WritingSnapshot -> Draining").
func drainToFile(ctx context.Context, path string, q chan []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := resp.NewWriter(f)

	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case buf := <-q:
			if _, err := w.WriteRaw(buf); err != nil {
				return err
			}
		case <-ctx.Done():
			for {
				select {
				case buf := <-q:
					if _, err := w.WriteRaw(buf); err != nil {
						return err
					}
				default:
					if err := w.Flush(); err != nil {
						return err
					}
					return f.Sync()
				}
			}
		case <-poll.C:
		}
	}
}

func mergeFiles(dst string, parts []string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	for _, p := range parts {
		in, err := os.Open(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		_, err = copyAll(out, in)
		in.Close()
		if err != nil {
			return err
		}
	}
	return out.Sync()
}

func copyAll(dst *os.File, src *os.File) (int64, error) {
	buf := make([]byte, 64*1024)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}
