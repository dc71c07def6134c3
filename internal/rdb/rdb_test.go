package rdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/snapshot"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/store"
	"github.com/kachofugetsu09/redis-mini-sub000/internal/value"
)

// TestRDBRoundTrip is P-rdb-roundtrip and spec.md §8 scenario 4: build a
// two-database store, save, load into a fresh store, and check every key.
func TestRDBRoundTrip(t *testing.T) {
	st := store.New(2)
	db0, err := st.DB(0)
	require.NoError(t, err)
	db1, err := st.DB(1)
	require.NoError(t, err)

	db0.Put("s", value.NewString("x"))
	db0.Put("l", value.NewList("a", "b"))
	db1.Put("h", value.NewHash("f", "v"))

	path := filepath.Join(t.TempDir(), "dump.rdb")
	w := New(snapshot.New())
	require.NoError(t, w.Save(st, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, magic, string(data[:len(magic)]))

	fresh := store.New(2)
	require.NoError(t, Load(path, fresh))

	f0, _ := fresh.DB(0)
	f1, _ := fresh.DB(1)

	got, ok := f0.Get("s")
	require.True(t, ok)
	require.Equal(t, value.NewString("x"), got)

	got, ok = f0.Get("l")
	require.True(t, ok)
	require.Equal(t, value.NewList("a", "b"), got)

	got, ok = f1.Get("h")
	require.True(t, ok)
	require.Equal(t, value.NewHash("f", "v"), got)
}

func TestRDBCorruptionDetected(t *testing.T) {
	st := store.New(1)
	db0, _ := st.DB(0)
	db0.Put("k", value.NewString("v"))

	path := filepath.Join(t.TempDir(), "dump.rdb")
	w := New(snapshot.New())
	require.NoError(t, w.Save(st, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	flipped := append([]byte(nil), data...)
	flipped[len(magic)+2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, flipped, 0o644))

	fresh := store.New(1)
	err = Load(path, fresh)
	require.Error(t, err)
}

func TestBackgroundSave(t *testing.T) {
	st := store.New(1)
	db0, _ := st.DB(0)
	for i := 0; i < 100; i++ {
		db0.Put(string(rune('a'+i%26))+string(rune(i)), value.NewString("v"))
	}

	coord := snapshot.New()
	w := New(coord)
	path := filepath.Join(t.TempDir(), "dump.rdb")
	require.NoError(t, w.BackgroundSave(context.Background(), st, path))
	require.Equal(t, snapshot.KindNone, coord.Current())

	fresh := store.New(1)
	require.NoError(t, Load(path, fresh))
	f0, _ := fresh.DB(0)
	require.Equal(t, db0.Size(), f0.Size())
}

func TestLoadMissingFileIsNoop(t *testing.T) {
	st := store.New(1)
	err := Load(filepath.Join(t.TempDir(), "missing.rdb"), st)
	require.NoError(t, err)
}
