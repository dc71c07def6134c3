package aof

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/dicterr"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/resp"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/store"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/value"
)

// Load replays an AOF file's RESP command stream into st (supplemented
// feature; spec.md §6 "AOF file format... On load, a reader parses
// commands sequentially and applies them to the live Dict"), grounded on
// the teacher's aof.go Synchronize.
func Load(path string, st *store.Store) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return dicterr.New(dicterr.KindIO, "aof.load", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	dbIdx := 0
	for {
		v, err := resp.ReadValue(r)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return dicterr.New(dicterr.KindCorruption, "aof.load", err)
		}
		args := v.Strings()
		if len(args) == 0 {
			continue
		}
		if err := applyCommand(st, &dbIdx, args); err != nil {
			return dicterr.New(dicterr.KindInvariantViolation, "aof.load", err)
		}
	}
}

func applyCommand(st *store.Store, dbIdx *int, args []string) error {
	name := args[0]
	switch name {
	case "SELECT":
		if len(args) != 2 {
			return fmt.Errorf("aof: SELECT expects 1 argument")
		}
		var n int
		if _, err := fmt.Sscanf(args[1], "%d", &n); err != nil {
			return fmt.Errorf("aof: bad SELECT argument %q: %w", args[1], err)
		}
		*dbIdx = n
		return nil
	case "SET":
		if len(args) != 3 {
			return fmt.Errorf("aof: SET expects 2 arguments")
		}
		return putInto(st, *dbIdx, args[1], value.NewString(args[2]))
	case "RPUSH":
		if len(args) < 2 {
			return fmt.Errorf("aof: RPUSH expects at least 1 argument")
		}
		return putInto(st, *dbIdx, args[1], value.NewList(args[2:]...))
	case "SADD":
		if len(args) < 2 {
			return fmt.Errorf("aof: SADD expects at least 1 argument")
		}
		return putInto(st, *dbIdx, args[1], value.NewSet(args[2:]...))
	case "ZADD":
		if len(args) < 2 || (len(args)-2)%2 != 0 {
			return fmt.Errorf("aof: ZADD expects (score member) pairs")
		}
		pairs := make([]string, 0, len(args)-2)
		for i := 2; i+1 < len(args); i += 2 {
			score, member := args[i], args[i+1]
			pairs = append(pairs, member, score)
		}
		return putInto(st, *dbIdx, args[1], value.NewZSet(pairs...))
	case "HSET":
		if len(args) < 2 || (len(args)-2)%2 != 0 {
			return fmt.Errorf("aof: HSET expects (field value) pairs")
		}
		return putInto(st, *dbIdx, args[1], value.NewHash(args[2:]...))
	case "DEL":
		if len(args) != 2 {
			return fmt.Errorf("aof: DEL expects 1 argument")
		}
		d, err := st.DB(*dbIdx)
		if err != nil {
			return err
		}
		_, _, err = d.Remove(args[1])
		return err
	default:
		return fmt.Errorf("aof: unknown command %q", name)
	}
}

func putInto(st *store.Store, dbIdx int, key string, v value.Value) error {
	d, err := st.DB(dbIdx)
	if err != nil {
		return err
	}
	_, _, err = d.Put(key, v)
	return err
}
