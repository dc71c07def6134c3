package rdb

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/dict"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/dicterr"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/store"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/value"
)

// Load reads an RDB file, verifies its magic header and CRC64 trailer,
// and replays every record into st via Dict.Put (spec.md §4.3 "Load
// path").
func Load(path string, st *store.Store) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return dicterr.New(dicterr.KindIO, "rdb.load", err)
	}
	return LoadBytes(data, st)
}

// LoadBytes is the parsing core of Load, split out for testing without
// touching the filesystem.
func LoadBytes(data []byte, st *store.Store) error {
	if len(data) < len(magic)+1+8 {
		return dicterr.New(dicterr.KindCorruption, "rdb.load", fmt.Errorf("file too short"))
	}
	if string(data[:len(magic)]) != magic {
		return dicterr.New(dicterr.KindCorruption, "rdb.load", fmt.Errorf("bad magic header"))
	}

	body := data[:len(data)-8]
	wantCRC := binary.LittleEndian.Uint64(data[len(data)-8:])
	gotCRC := checksum(body)
	if gotCRC != wantCRC {
		return dicterr.New(dicterr.KindCorruption, "rdb.load", fmt.Errorf("crc64 mismatch: file corrupt"))
	}

	off := len(magic)
	dbIdx := 0
	var db *dict.Dict

	for off < len(body) {
		op := body[off]
		off++

		switch op {
		case opSelectDB:
			n, consumed, err := readLen(body[off:])
			if err != nil {
				return dicterr.New(dicterr.KindCorruption, "rdb.load", err)
			}
			off += consumed
			dbIdx = int(n)
			d, err := st.DB(dbIdx)
			if err != nil {
				return dicterr.New(dicterr.KindCorruption, "rdb.load", err)
			}
			db = d

		case opEOF:
			return nil

		default:
			if db == nil {
				return dicterr.New(dicterr.KindCorruption, "rdb.load", fmt.Errorf("record before any SELECTDB section"))
			}
			typ := value.Type(op)
			key, consumed, err := readString(body[off:])
			if err != nil {
				return dicterr.New(dicterr.KindCorruption, "rdb.load", err)
			}
			off += consumed
			v, consumed, err := decodePayload(typ, body[off:])
			if err != nil {
				return dicterr.New(dicterr.KindCorruption, "rdb.load", err)
			}
			off += consumed

			if _, _, err := db.Put(key, v); err != nil {
				return dicterr.New(dicterr.KindInvariantViolation, "rdb.load", err)
			}
		}
	}
	return dicterr.New(dicterr.KindCorruption, "rdb.load", fmt.Errorf("missing EOF byte"))
}
