// Package store adapts Dict into the multi-database keyspace Redis-style
// deployments expect (supplemented feature, SPEC_FULL.md "Multi-database
// support"): SELECTDB framing in the RDB/AOF formats (spec.md §6) needs
// something to select between, and a single Dict has no notion of a
// database index.
package store

import (
	"fmt"

	"github.com/kachofugetsu09/redis-mini-sub000/internal/dict"
)

// Store holds one independent Dict per logical database, indexed 0..n-1.
type Store struct {
	dbs []*dict.Dict
}

// New returns a Store with n independently rehashing, independently
// snapshotting Dicts.
func New(n int) *Store {
	dbs := make([]*dict.Dict, n)
	for i := range dbs {
		dbs[i] = dict.New()
	}
	return &Store{dbs: dbs}
}

// DB returns database i's Dict, or an error if i is out of range.
func (s *Store) DB(i int) (*dict.Dict, error) {
	if i < 0 || i >= len(s.dbs) {
		return nil, fmt.Errorf("store: database index %d out of range [0,%d)", i, len(s.dbs))
	}
	return s.dbs[i], nil
}

// Len reports the number of databases in the store.
func (s *Store) Len() int { return len(s.dbs) }

// Each calls fn for every database in index order, stopping at the first error.
func (s *Store) Each(fn func(idx int, d *dict.Dict) error) error {
	for i, d := range s.dbs {
		if err := fn(i, d); err != nil {
			return err
		}
	}
	return nil
}
