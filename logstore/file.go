// Package logstore provides durable and in-memory implementations of the
// raft.LogStore collaborator.
package logstore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/cascadedb/raft"
)

// FileStore is a file-backed log store. Entries live in a single append-only
// segment file of binary-encoded entries with an in-memory offset index; the
// term and vote live in a small JSON meta file replaced atomically via
// rename. The log grows without bound; compaction is out of scope here.
type FileStore struct {
	mu   sync.Mutex
	path string // data directory

	f       *os.File          // segment file
	size    int64             // current segment size in bytes
	offsets []int64           // byte offset of each entry, by index
	entries []*raft.LogEntry  // in-memory cache of the full log

	term     uint64
	votedFor raft.NodeID
}

// NewFileStore returns a new instance of FileStore.
func NewFileStore() *FileStore {
	return &FileStore{}
}

// Path returns the data directory of the store.
// Returns an empty string if the store is closed.
func (s *FileStore) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Open initializes the store from a directory, replaying any existing
// segment. If the directory does not exist then it is created.
func (s *FileStore) Open(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		return errors.New("store already open")
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return errors.Wrap(err, "create data directory")
	}

	f, err := os.OpenFile(filepath.Join(path, "log"), os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return errors.Wrap(err, "open segment")
	}

	// Replay the segment, remembering the offset of each entry.
	dec := raft.NewLogEntryDecoder(f)
	var offset int64
	for {
		var e raft.LogEntry
		if err := dec.Decode(&e); err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		} else if err != nil {
			_ = f.Close()
			return errors.Wrap(err, "replay segment")
		}
		s.offsets = append(s.offsets, offset)
		s.entries = append(s.entries, &e)
		offset += entrySize(&e)
	}

	// A torn tail write is discarded.
	if err := f.Truncate(offset); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "trim segment")
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "seek segment")
	}

	if err := s.loadMeta(path); err != nil {
		_ = f.Close()
		return err
	}

	s.path = path
	s.f = f
	s.size = offset
	return nil
}

// Close closes the store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("store closed")
	}
	s.path = ""
	s.offsets, s.entries = nil, nil
	return s.f.Close()
}

// Append writes entries to the end of the segment and syncs.
func (s *FileStore) Append(entries []*raft.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("store closed")
	}

	enc := raft.NewLogEntryEncoder(s.f)
	offset := s.size
	for _, e := range entries {
		if exp := uint64(len(s.entries)) + 1; e.Index != exp {
			return fmt.Errorf("non-contiguous append: index %d, expected %d", e.Index, exp)
		}
		if err := enc.Encode(e); err != nil {
			return errors.Wrap(err, "encode entry")
		}
		s.offsets = append(s.offsets, offset)
		s.entries = append(s.entries, e.Clone())
		offset += entrySize(e)
	}
	if err := s.f.Sync(); err != nil {
		return errors.Wrap(err, "sync segment")
	}
	s.size = offset
	return nil
}

// Get returns the entry at index, or false if no such entry exists.
func (s *FileStore) Get(index uint64) (*raft.LogEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index == 0 || index > uint64(len(s.entries)) {
		return nil, false
	}
	return s.entries[index-1], true
}

// Entries returns entries in the inclusive range [lo, hi].
func (s *FileStore) Entries(lo, hi uint64) ([]*raft.LogEntry, error) {
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

// TruncateFrom removes the entry at index and everything after it, shrinking
// the segment file.
func (s *FileStore) TruncateFrom(index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("store closed")
	}
	if index == 0 || index > uint64(len(s.entries)) {
		return nil
	}

	offset := s.offsets[index-1]
	if err := s.f.Truncate(offset); err != nil {
		return errors.Wrap(err, "truncate segment")
	}
	if _, err := s.f.Seek(offset, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek segment")
	}
	if err := s.f.Sync(); err != nil {
		return errors.Wrap(err, "sync segment")
	}
	s.offsets = s.offsets[:index-1]
	s.entries = s.entries[:index-1]
	s.size = offset
	return nil
}

// LastIndex returns the index of the last entry, or zero for an empty log.
func (s *FileStore) LastIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.entries))
}

// meta is the serialized form of the persisted term and vote.
type meta struct {
	Term     uint64      `json:"term"`
	VotedFor raft.NodeID `json:"votedFor"`
}

// PersistState durably records the current term and vote. The meta file is
// written to a temporary file and renamed into place.
func (s *FileStore) PersistState(term uint64, votedFor raft.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("store closed")
	}

	tmp := filepath.Join(s.path, "meta.tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return errors.Wrap(err, "create meta file")
	}
	if err := json.NewEncoder(f).Encode(meta{Term: term, VotedFor: votedFor}); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "encode meta")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "sync meta")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close meta")
	}
	if err := os.Rename(tmp, filepath.Join(s.path, "meta")); err != nil {
		return errors.Wrap(err, "rename meta")
	}

	s.term, s.votedFor = term, votedFor
	return nil
}

// LoadState returns the persisted term and vote.
func (s *FileStore) LoadState() (uint64, raft.NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term, s.votedFor, nil
}

// loadMeta reads the meta file, if present.
func (s *FileStore) loadMeta(path string) error {
	f, err := os.Open(filepath.Join(path, "meta"))
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return errors.Wrap(err, "open meta file")
	}
	defer func() { _ = f.Close() }()

	var m meta
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return errors.Wrap(err, "decode meta")
	}
	s.term, s.votedFor = m.Term, m.VotedFor
	return nil
}

// entrySize returns the encoded byte length of an entry.
func entrySize(e *raft.LogEntry) int64 {
	return int64(24 + len(e.Data))
}
