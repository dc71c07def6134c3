// Package aof implements AofBatchWriter and AofRewriter (spec.md §4.4,
// §4.5): the single-writer batching pipeline in front of the live AOF
// file, and the background rewrite state machine that compacts it.
package aof

import (
	"os"
	"sync"
	"time"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/config"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/dicterr"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/logging"
)

const (
	queueCapacity    = 1000
	maxBatchBuffers  = 50
	batchWindow      = 5 * time.Millisecond
	largeCommand     = 512 * 1024
	rewriteOfferWait = 100 * time.Millisecond
	preallocChunk    = 4 * 1024 * 1024
)

// BatchWriter serializes writes to the live AOF file, coalescing small
// command buffers and enforcing the configured fsync policy (spec.md
// §4.5).
type BatchWriter struct {
	cfg *config.Config
	log *logging.Logger

	mu   sync.Mutex
	file *os.File

	queue chan []byte

	running bool
	done    chan struct{}

	dirty bool

	isRewriting  bool
	rewriteQueue chan []byte
	overflow     OverflowSink

	// logicalSize and allocatedSize implement cfg.PreallocateAOF (spec.md
	// §6): logicalSize is the offset just past the last byte actually
	// written, allocatedSize is the file's real length on disk, which is
	// always >= logicalSize and grows in preallocChunk increments.
	logicalSize   int64
	allocatedSize int64
}

// OverflowSink receives buffers AofBatchWriter could not hand off to the
// rewrite-side queue within the bounded try-offer window (spec.md §4.5
// "Rewrite integration"). AofRewriter implements this to spill into its
// overflow files.
type OverflowSink interface {
	SpillOverflow(buf []byte) error
}

// New opens (creating if necessary) the AOF file at cfg.Dir/cfg.AOFFileName
// and starts the writer worker and fsync scheduler goroutines. When
// cfg.PreallocateAOF is set, the file is opened for explicit-offset writes
// instead of O_APPEND and is grown by preallocChunk immediately (spec.md §6
// "extend the file by 4 MiB on open").
func New(cfg *config.Config) (*BatchWriter, error) {
	path := cfg.Dir + string(os.PathSeparator) + cfg.AOFFileName
	flags := os.O_CREATE | os.O_WRONLY
	if !cfg.PreallocateAOF {
		flags |= os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, dicterr.New(dicterr.KindIO, "aof.new", err)
	}
	w := &BatchWriter{
		cfg:     cfg,
		log:     logging.For("aof"),
		file:    f,
		queue:   make(chan []byte, queueCapacity),
		running: true,
		done:    make(chan struct{}),
	}
	if cfg.PreallocateAOF {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, dicterr.New(dicterr.KindIO, "aof.new", err)
		}
		w.logicalSize = info.Size()
		w.allocatedSize = info.Size() + preallocChunk
		if err := f.Truncate(w.allocatedSize); err != nil {
			f.Close()
			return nil, dicterr.New(dicterr.KindIO, "aof.new", err)
		}
	}
	go w.worker()
	if cfg.FsyncPolicy == config.FsyncEverySecond {
		go w.fsyncScheduler()
	}
	return w, nil
}

// Append hands an opaque, already RESP-encoded command buffer to the
// writer (spec.md §6 "RESP command-bytes interface"). AofBatchWriter does
// not interpret the bytes. Under FsyncAlways the buffer is written and
// fsynced on the caller's goroutine before Append returns; under the other
// policies small buffers go through the batching queue.
func (w *BatchWriter) Append(buf []byte) error {
	if len(buf) > largeCommand {
		return w.writeLarge(buf)
	}
	if w.cfg.FsyncPolicy == config.FsyncAlways {
		return w.writeDirect(buf)
	}
	select {
	case w.queue <- buf:
		return nil
	default:
		w.log.Warn("aof queue full, falling back to synchronous write")
		return w.writeDirect(buf)
	}
}

func (w *BatchWriter) writeLarge(buf []byte) error {
	if err := w.writeDirect(buf); err != nil {
		return err
	}
	return nil
}

func (w *BatchWriter) writeDirect(buf []byte) error {
	w.mu.Lock()
	err := w.writeBytesLocked(buf)
	if err == nil {
		err = w.afterWriteLocked()
	}
	w.mu.Unlock()
	if err != nil {
		return dicterr.New(dicterr.KindIO, "aof.append", err)
	}
	w.offerToRewrite(buf)
	return nil
}

// writeBytesLocked writes buf to the file, either as a plain O_APPEND
// write or, under cfg.PreallocateAOF, at the tracked logical offset after
// growing the file's real allocation if needed. The caller holds w.mu.
func (w *BatchWriter) writeBytesLocked(buf []byte) error {
	if !w.cfg.PreallocateAOF {
		_, err := w.file.Write(buf)
		return err
	}
	if err := w.growFileLocked(len(buf)); err != nil {
		return err
	}
	n, err := w.file.WriteAt(buf, w.logicalSize)
	w.logicalSize += int64(n)
	return err
}

// growFileLocked extends the file's real allocation by preallocChunk
// increments until it can hold logicalSize+need bytes (spec.md §6
// "extend the file by ... 4 MiB ... on each subsequent truncation"). The
// caller holds w.mu.
func (w *BatchWriter) growFileLocked(need int) error {
	if w.allocatedSize >= w.logicalSize+int64(need) {
		return nil
	}
	for w.allocatedSize < w.logicalSize+int64(need) {
		w.allocatedSize += preallocChunk
	}
	return w.file.Truncate(w.allocatedSize)
}

// afterWriteLocked applies the fsync policy table from spec.md §4.5. The
// caller holds w.mu.
func (w *BatchWriter) afterWriteLocked() error {
	switch w.cfg.FsyncPolicy {
	case config.FsyncAlways:
		return w.file.Sync()
	case config.FsyncEverySecond:
		w.dirty = true
		return nil
	default:
		return nil
	}
}

func (w *BatchWriter) worker() {
	defer close(w.done)
	var batch [][]byte
	timer := time.NewTimer(batchWindow)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.mu.Lock()
		for _, b := range batch {
			if err := w.writeBytesLocked(b); err != nil {
				w.log.Error("aof write failed: %v", err)
			}
		}
		if err := w.afterWriteLocked(); err != nil {
			w.log.Error("aof fsync failed: %v", err)
		}
		w.mu.Unlock()
		for _, b := range batch {
			w.offerToRewrite(b)
		}
		batch = batch[:0]
	}

	for w.running {
		timer.Reset(batchWindow)
		select {
		case buf, ok := <-w.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, buf)
			if len(batch) >= maxBatchBuffers {
				flush()
			}
		case <-timer.C:
			flush()
		}
	}
	// Shutdown clears running just before closing the queue; take whatever
	// is still queued so it is written rather than dropped.
	for buf := range w.queue {
		batch = append(batch, buf)
	}
	flush()
}

func (w *BatchWriter) fsyncScheduler() {
	interval := time.Duration(w.cfg.AofFsyncIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for w.running {
		<-ticker.C
		w.mu.Lock()
		if w.dirty {
			if err := w.file.Sync(); err != nil {
				w.log.Error("scheduled fsync failed: %v", err)
			}
			w.dirty = false
		}
		w.mu.Unlock()
	}
}

// BeginRewrite arms rewrite-side mirroring: every buffer this writer
// writes from now on is also offered to sink's rewrite-side queue
// (spec.md §4.4/§4.5).
func (w *BatchWriter) BeginRewrite(sink OverflowSink, rewriteQueue chan []byte) {
	w.mu.Lock()
	w.isRewriting = true
	w.rewriteQueue = rewriteQueue
	w.overflow = sink
	w.mu.Unlock()
}

// EndRewrite disarms rewrite-side mirroring.
func (w *BatchWriter) EndRewrite() {
	w.mu.Lock()
	w.isRewriting = false
	w.rewriteQueue = nil
	w.overflow = nil
	w.mu.Unlock()
}

func (w *BatchWriter) offerToRewrite(buf []byte) {
	w.mu.Lock()
	rewriting := w.isRewriting
	q := w.rewriteQueue
	sink := w.overflow
	w.mu.Unlock()
	if !rewriting {
		return
	}
	clone := append([]byte(nil), buf...)
	select {
	case q <- clone:
		return
	case <-time.After(rewriteOfferWait):
		if sink != nil {
			if err := sink.SpillOverflow(clone); err != nil {
				w.log.Error("overflow spill failed: %v", err)
			}
		}
	}
}

// Shutdown marks the worker non-running, joins it with a small timeout,
// drains and releases queued buffers, truncates the file back to its
// logical size if cfg.PreallocateAOF left trailing zero padding (spec.md
// §6 "the file is truncated to that logical size on close"), performs a
// final fsync, and closes the file (spec.md §4.5 "Shutdown").
func (w *BatchWriter) Shutdown() error {
	w.running = false
	close(w.queue)
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		w.log.Warn("aof worker did not exit within shutdown timeout, continuing anyway")
	}

	w.mu.Lock()
	var truncErr error
	if w.cfg.PreallocateAOF {
		truncErr = w.file.Truncate(w.logicalSize)
	}
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.mu.Unlock()

	err := truncErr
	if err == nil {
		err = syncErr
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return dicterr.New(dicterr.KindIO, "aof.shutdown", err)
	}
	return nil
}
