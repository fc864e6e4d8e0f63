// Package kv provides a simple key/value state machine driven by the
// replicated log. Mutations travel through consensus as gob-encoded commands;
// reads are served from local memory.
package kv

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
)

// Command operation names.
const (
	OpSet    = "set"
	OpDelete = "delete"
)

// Command represents a single mutation of the store.
type Command struct {
	Op    string
	Key   string
	Value string
}

// Encode returns the gob-encoded form of the command, suitable for proposing.
func (c Command) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Store is an in-memory key/value map that implements raft.StateMachine.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewStore returns a new instance of Store.
func NewStore() *Store {
	return &Store{data: make(map[string]string)}
}

// Apply applies a committed command to the store. Called by the consensus
// apply loop, in index order, exactly once per index.
func (s *Store) Apply(index uint64, data []byte) ([]byte, error) {
	var cmd Command
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&cmd); err != nil {
		return nil, fmt.Errorf("decode command at index %d: %s", index, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Op {
	case OpSet:
		s.data[cmd.Key] = cmd.Value
	case OpDelete:
		delete(s.data, cmd.Key)
	default:
		return nil, fmt.Errorf("unknown command op: %q", cmd.Op)
	}
	return nil, nil
}

// Get returns the value for a key, and whether it exists.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Len returns the number of keys in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
