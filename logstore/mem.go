package logstore

import (
	"fmt"
	"sync"

	"github.com/cascadedb/raft"
)

// MemStore is an in-memory log store. It is used by tests and single-process
// clusters; nothing survives a restart.
type MemStore struct {
	mu       sync.Mutex
	entries  []*raft.LogEntry
	term     uint64
	votedFor raft.NodeID
}

// NewMemStore returns a new instance of MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Append writes entries to the end of the log.
func (s *MemStore) Append(entries []*raft.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if exp := uint64(len(s.entries)) + 1; e.Index != exp {
			return fmt.Errorf("non-contiguous append: index %d, expected %d", e.Index, exp)
		}
		s.entries = append(s.entries, e.Clone())
	}
	return nil
}

// Get returns the entry at index, or false if no such entry exists.
func (s *MemStore) Get(index uint64) (*raft.LogEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index == 0 || index > uint64(len(s.entries)) {
		return nil, false
	}
	return s.entries[index-1], true
}

// Entries returns entries in the inclusive range [lo, hi].
func (s *MemStore) Entries(lo, hi uint64) ([]*raft.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lo == 0 || lo > hi || hi > uint64(len(s.entries)) {
		return nil, fmt.Errorf("entry range out of bounds: [%d,%d], last index %d", lo, hi, len(s.entries))
	}
	entries := make([]*raft.LogEntry, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		entries = append(entries, s.entries[i-1])
	}
	return entries, nil
}

// TruncateFrom removes the entry at index and everything after it.
func (s *MemStore) TruncateFrom(index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index == 0 || index > uint64(len(s.entries)) {
		return nil
	}
	s.entries = s.entries[:index-1]
	return nil
}

// LastIndex returns the index of the last entry, or zero for an empty log.
func (s *MemStore) LastIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.entries))
}

// PersistState records the current term and vote.
func (s *MemStore) PersistState(term uint64, votedFor raft.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term, s.votedFor = term, votedFor
	return nil
}

// LoadState returns the recorded term and vote.
func (s *MemStore) LoadState() (uint64, raft.NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term, s.votedFor, nil
}
