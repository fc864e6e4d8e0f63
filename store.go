package raft

// LogStore represents the durable storage collaborator for the log and for the
// node's persisted term/vote state. Implementations must be safe for
// concurrent use: the apply loop reads committed entries while the node's
// event loop appends new ones. Entries at or below the commit index are never
// truncated.
type LogStore interface {
	// Append writes entries to the end of the log.
	Append(entries []*LogEntry) error

	// Get returns the entry at index, or false if no such entry exists.
	Get(index uint64) (*LogEntry, bool)

	// Entries returns entries in the inclusive range [lo, hi].
	Entries(lo, hi uint64) ([]*LogEntry, error)

	// TruncateFrom removes the entry at index and everything after it.
	TruncateFrom(index uint64) error

	// LastIndex returns the index of the last entry, or zero for an empty log.
	LastIndex() uint64

	// PersistState durably records the current term and vote. The node calls
	// this synchronously before any RPC reply that depends on either value.
	PersistState(term uint64, votedFor NodeID) error

	// LoadState returns the persisted term and vote.
	LoadState() (term uint64, votedFor NodeID, err error)
}

// StateMachine represents the external state machine that committed commands
// are applied to, in index order, exactly once per process lifetime.
type StateMachine interface {
	Apply(index uint64, data []byte) ([]byte, error)
}
