// Package cache holds the process-wide map from integration name to its most
// recent snapshot. It is the single source of truth read by new viewer
// sessions and by page loads; runners are its only writers.
package cache

import (
	"sort"
	"sync"

	"homeboard/server/integration"
)

// Store is the snapshot cache. Put is the sole mutation path and rejects
// stale writes, so the store never moves backward for any integration.
// Snapshots are stored and returned by value: an update is visible
// atomically, all fields together.
type Store struct {
	mu    sync.RWMutex
	snaps map[string]integration.Snapshot
}

// New creates an empty store.
func New() *Store {
	return &Store{
		snaps: make(map[string]integration.Snapshot),
	}
}

// Put stores the snapshot if its sequence number is strictly greater than
// the one already stored for that integration. Returns false for stale
// writes, which leave the store unchanged.
func (s *Store) Put(snap integration.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.snaps[snap.Integration]; ok && snap.Seq <= cur.Seq {
		return false
	}

	s.snaps[snap.Integration] = snap
	return true
}

// Get returns the current snapshot for one integration.
func (s *Store) Get(name string) (integration.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snaps[name]
	return snap, ok
}

// GetAll returns a consistent point-in-time copy of every current snapshot,
// sorted by integration name. Used for new-session bootstrap and page
// reloads.
func (s *Store) GetAll() []integration.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]integration.Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		all = append(all, snap)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Integration < all[j].Integration
	})

	return all
}

// Len returns the number of cached snapshots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.snaps)
}
