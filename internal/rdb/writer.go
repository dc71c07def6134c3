// Package rdb implements RdbWriter (spec.md §4.3): serializing a Dict
// snapshot, across one or more logical databases, to a CRC64-framed
// binary file, in both synchronous and SnapshotCoordinator-gated
// background modes.
package rdb

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/dict"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/dicterr"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/logging"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/snapshot"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/store"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/value"
)

const magic = "REDIS0009"

const (
	opSelectDB = 0xFE
	opEOF      = 0xFF
)

// Writer serializes Store contents to the RDB framing in spec.md §6.
type Writer struct {
	coord *snapshot.Coordinator
	log   *logging.Logger
}

func New(coord *snapshot.Coordinator) *Writer {
	return &Writer{coord: coord, log: logging.For("rdb")}
}

// Save performs a synchronous save: it takes the Dict's snapshot handle
// for each non-empty database, writes the whole file on the caller's
// goroutine, and releases every handle before returning (spec.md §4.3
// "Synchronous save blocks the caller").
func (w *Writer) Save(st *store.Store, path string) error {
	type dbSnap struct {
		idx  int
		snap *dict.Snapshot
	}
	var snaps []dbSnap
	err := st.Each(func(idx int, d *dict.Dict) error {
		if d.Size() == 0 {
			return nil
		}
		snap, err := d.StartSnapshot()
		if err != nil {
			return err
		}
		snaps = append(snaps, dbSnap{idx, snap})
		return nil
	})
	if err != nil {
		for _, s := range snaps {
			s.snap.Finish()
		}
		return dicterr.New(dicterr.KindInvariantViolation, "rdb.save", err)
	}
	defer func() {
		for _, s := range snaps {
			s.snap.Finish()
		}
	}()

	buf := []byte(magic)
	for _, s := range snaps {
		var err error
		buf, err = appendDatabaseFrames(buf, s.idx, s.snap)
		if err != nil {
			return dicterr.New(dicterr.KindIO, "rdb.save", err)
		}
	}
	buf = append(buf, opEOF)
	buf = appendCRC(buf)

	if err := writeFileSync(path, buf); err != nil {
		return dicterr.New(dicterr.KindIO, "rdb.save", err)
	}
	w.log.Info("rdb saved: %s (%d bytes)", path, len(buf))
	return nil
}

// BackgroundSave acquires the SnapshotCoordinator's RDB slot, starts
// snapshots on every non-empty database from the caller's goroutine, then
// does the actual iteration and file write on a worker goroutine (spec.md
// §4.3 "Background save"). finish_snapshot is always called, even if the
// worker fails.
func (w *Writer) BackgroundSave(ctx context.Context, st *store.Store, path string) error {
	if !w.coord.TryAcquire(snapshot.KindRDB) {
		return dicterr.New(dicterr.KindQueueFull, "rdb.background_save", fmt.Errorf("rdb snapshot slot is busy"))
	}
	defer w.coord.Release()

	type dbSnap struct {
		idx  int
		snap *dict.Snapshot
	}
	var snaps []dbSnap
	err := st.Each(func(idx int, d *dict.Dict) error {
		if d.Size() == 0 {
			return nil
		}
		snap, err := d.StartSnapshot()
		if err != nil {
			return err
		}
		snaps = append(snaps, dbSnap{idx, snap})
		return nil
	})
	finish := func() {
		for _, s := range snaps {
			s.snap.Finish()
		}
	}
	if err != nil {
		finish()
		return dicterr.New(dicterr.KindInvariantViolation, "rdb.background_save", err)
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		buf := []byte(magic)
		for _, s := range snaps {
			var err error
			buf, err = appendDatabaseFrames(buf, s.idx, s.snap)
			if err != nil {
				return err
			}
		}
		buf = append(buf, opEOF)
		buf = appendCRC(buf)
		return writeFileSync(path, buf)
	})
	werr := g.Wait()
	finish()

	if werr != nil {
		w.log.Error("background rdb save failed: %v", werr)
		return dicterr.New(dicterr.KindIO, "rdb.background_save", werr)
	}
	w.log.Info("background rdb save complete: %s", path)
	return nil
}

func appendDatabaseFrames(buf []byte, dbIdx int, snap *dict.Snapshot) ([]byte, error) {
	it, err := snap.Iter()
	if err != nil {
		return nil, err
	}
	first, ok := it.Next()
	if !ok {
		return buf, nil
	}
	buf = append(buf, opSelectDB)
	buf = appendLen(buf, uint32(dbIdx))

	buf = appendRecord(buf, first.Key, first.Value)
	for {
		p, ok := it.Next()
		if !ok {
			break
		}
		buf = appendRecord(buf, p.Key, p.Value)
	}
	return buf, nil
}

// appendRecord writes one record as "1 type byte + key + value" (spec.md
// §6 "RDB file format").
func appendRecord(buf []byte, key string, v value.Value) []byte {
	buf = append(buf, byte(v.Type))
	buf = appendString(buf, key)
	buf = encodePayload(buf, v)
	return buf
}

func appendCRC(buf []byte) []byte {
	sum := checksum(buf)
	trailer := make([]byte, 8)
	binary.LittleEndian.PutUint64(trailer, sum)
	return append(buf, trailer...)
}

func writeFileSync(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
