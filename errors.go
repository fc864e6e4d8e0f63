package raft

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when the node is used after being closed.
	ErrClosed = errors.New("raft: node closed")

	// ErrOpen is returned when opening an already open node.
	ErrOpen = errors.New("raft: node already open")

	// ErrStaleTerm classifies a rejection caused by a peer holding a newer
	// term. Always recoverable: the observer adopts the term and steps down.
	ErrStaleTerm = errors.New("raft: stale term")

	// ErrLogInconsistent classifies an AppendEntries rejection from the
	// consistency check. Recoverable: the leader backs up nextIndex and
	// retries on the next cycle.
	ErrLogInconsistent = errors.New("raft: log inconsistent")

	// ErrNotLeader is returned when a proposal is made against a node that is
	// not the leader. Use errors.Is to detect it through a NotLeaderError.
	ErrNotLeader = errors.New("raft: not leader")

	// ErrEntrySuperseded is returned by Wait when the entry at the awaited
	// index was overwritten by a different term before it could commit.
	ErrEntrySuperseded = errors.New("raft: entry superseded")
)

// NotLeaderError is returned by Propose on a non-leader node. LeaderID carries
// the last known leader as a redirect hint; zero means unknown.
type NotLeaderError struct {
	LeaderID NodeID
}

// Error returns the string representation of the error.
func (e *NotLeaderError) Error() string {
	if e.LeaderID == 0 {
		return "raft: not leader"
	}
	return fmt.Sprintf("raft: not leader (leader hint: %d)", e.LeaderID)
}

// Is reports whether the error matches ErrNotLeader.
func (e *NotLeaderError) Is(target error) bool { return target == ErrNotLeader }
