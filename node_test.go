package raft_test

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cascadedb/raft"
	"github.com/cascadedb/raft/logstore"
)

// Ensure that opening an already open node returns an error.
func TestNode_Open_ErrOpen(t *testing.T) {
	c := NewCluster(t, 1)
	defer c.Close()
	if err := c.Node(1).Open(); err != raft.ErrOpen {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Ensure that a closed node rejects further use.
func TestNode_Close(t *testing.T) {
	c := NewCluster(t, 1)
	tn := c.Node(1)
	if err := tn.Node.Close(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := tn.Node.Close(); err != raft.ErrClosed {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := tn.Propose([]byte("x")); err != raft.ErrClosed {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Ensure a single-node cluster elects itself and commits immediately.
func TestNode_SingleNode(t *testing.T) {
	c := NewCluster(t, 1)
	defer c.Close()

	ldr := c.Elect(1)
	if ldr.Term() != 1 {
		t.Fatalf("unexpected term: %d", ldr.Term())
	}

	// The no-op occupies index 1, so the first command lands at index 2.
	index, term, err := ldr.Propose([]byte("foo"))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	} else if index != 2 {
		t.Fatalf("unexpected index: %d", index)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ldr.Wait(ctx, index, term); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	c.waitFor("apply", func() bool { return ldr.LastApplied() >= index })
	if b, ok := ldr.FSM.Entry(index); !ok || !bytes.Equal(b, []byte("foo")) {
		t.Fatalf("unexpected fsm entry: %q (%v)", b, ok)
	}

	// Waiting on the same index with the wrong term reports supersession.
	if err := ldr.Wait(ctx, index, term+1); err != raft.ErrEntrySuperseded {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Ensure that a cluster elects exactly one leader and the rest stay followers.
func TestCluster_Elect(t *testing.T) {
	c := NewCluster(t, 3)
	defer c.Close()

	ldr := c.Elect(1)
	if got := c.LeaderCount(ldr.Term()); got != 1 {
		t.Fatalf("unexpected leader count: %d", got)
	}

	// Followers learn the leader from its first broadcast.
	c.waitFor("leader hint", func() bool {
		id, ok := c.Node(2).LeaderHint()
		return ok && id == 1
	})
	if state := c.Node(2).State(); state != raft.Follower {
		t.Fatalf("unexpected state(2): %s", state)
	}
	if state := c.Node(3).State(); state != raft.Follower {
		t.Fatalf("unexpected state(3): %s", state)
	}
}

// Ensure that a command proposed to the leader is committed and applied on
// every node at the same index.
func TestCluster_Propose(t *testing.T) {
	c := NewCluster(t, 3)
	defer c.Close()

	ldr := c.Elect(1)
	index, term, err := ldr.Propose([]byte("foo"))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	c.WaitCommitted(1, 1, index)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ldr.Wait(ctx, index, term); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	for id := raft.NodeID(1); id <= 3; id++ {
		c.WaitApplied(1, id, index)
		if b, ok := c.Node(id).FSM.Entry(index); !ok || !bytes.Equal(b, []byte("foo")) {
			t.Fatalf("node %d: unexpected fsm entry: %q (%v)", id, b, ok)
		}
	}
}

// Ensure that proposing to a follower fails with a leader hint.
func TestCluster_Propose_NotLeader(t *testing.T) {
	c := NewCluster(t, 3)
	defer c.Close()

	c.Elect(1)
	c.waitFor("leader hint", func() bool {
		id, ok := c.Node(2).LeaderHint()
		return ok && id == 1
	})

	_, _, err := c.Node(2).Propose([]byte("foo"))
	if !errors.Is(err, raft.ErrNotLeader) {
		t.Fatalf("unexpected error: %v", err)
	}
	var nlErr *raft.NotLeaderError
	if !errors.As(err, &nlErr) || nlErr.LeaderID != 1 {
		t.Fatalf("unexpected leader hint: %+v", err)
	}
}

// Ensure a candidate with a lower last log term loses the vote regardless of
// its longer log.
func TestNode_RequestVote_LogUpToDate(t *testing.T) {
	tn := OpenTestNode(t, entriesWithTerms(1, 1, 2, 3, 4))
	defer tn.Node.Close()

	// Higher index does not compensate for a lower last log term.
	resp, err := tn.HandleRequestVote(&raft.RequestVoteRequest{
		Term: 5, CandidateID: 2, LastLogIndex: 10, LastLogTerm: 3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if resp.VoteGranted {
		t.Fatalf("expected vote to be denied")
	}
	if resp.Term != 5 {
		t.Fatalf("unexpected term: %d", resp.Term)
	}

	// An equal last log term with an equal index is up-to-date.
	resp, err = tn.HandleRequestVote(&raft.RequestVoteRequest{
		Term: 5, CandidateID: 2, LastLogIndex: 5, LastLogTerm: 4,
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !resp.VoteGranted {
		t.Fatalf("expected vote to be granted")
	}
}

// Ensure that a vote is granted at most once per term.
func TestNode_RequestVote_SingleVote(t *testing.T) {
	tn := OpenTestNode(t, nil)
	defer tn.Node.Close()

	resp, err := tn.HandleRequestVote(&raft.RequestVoteRequest{Term: 1, CandidateID: 2})
	if err != nil || !resp.VoteGranted {
		t.Fatalf("expected vote to be granted: %v %+v", err, resp)
	}

	// A different candidate in the same term is denied.
	resp, err = tn.HandleRequestVote(&raft.RequestVoteRequest{Term: 1, CandidateID: 3})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if resp.VoteGranted {
		t.Fatalf("expected vote to be denied")
	}

	// The same candidate may be re-granted (duplicated request).
	resp, err = tn.HandleRequestVote(&raft.RequestVoteRequest{Term: 1, CandidateID: 2})
	if err != nil || !resp.VoteGranted {
		t.Fatalf("expected vote to be re-granted: %v %+v", err, resp)
	}
}

// Ensure the AppendEntries consistency check rejects a mismatched previous
// entry and accepts after the leader backs up.
func TestNode_AppendEntries_ConsistencyCheck(t *testing.T) {
	tn := OpenTestNode(t, entriesWithTerms(1, 1, 2, 2, 3, 3, 3))
	defer tn.Node.Close()

	// Index 7 holds term 3, not term 2: reject.
	resp, err := tn.HandleAppendEntries(&raft.AppendEntriesRequest{
		Term: 4, LeaderID: 2, PrevLogIndex: 7, PrevLogTerm: 2,
		Entries: []*raft.LogEntry{{Type: raft.LogEntryCommand, Index: 8, Term: 4, Data: []byte("x")}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if resp.Success {
		t.Fatalf("expected rejection")
	}
	if resp.Term != 4 {
		t.Fatalf("unexpected term: %d", resp.Term)
	}

	// The leader decrements and retries one entry earlier; the conflicting
	// suffix is overwritten.
	resp, err = tn.HandleAppendEntries(&raft.AppendEntriesRequest{
		Term: 4, LeaderID: 2, PrevLogIndex: 6, PrevLogTerm: 3,
		Entries: []*raft.LogEntry{
			{Type: raft.LogEntryCommand, Index: 7, Term: 4, Data: []byte("y")},
			{Type: raft.LogEntryCommand, Index: 8, Term: 4, Data: []byte("x")},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !resp.Success {
		t.Fatalf("expected success")
	}
	if e, ok := tn.Store.Get(7); !ok || e.Term != 4 {
		t.Fatalf("unexpected entry at 7: %+v (%v)", e, ok)
	}
	if got := tn.Store.LastIndex(); got != 8 {
		t.Fatalf("unexpected last index: %d", got)
	}
}

// Ensure an AppendEntries from an obsolete term is rejected outright.
func TestNode_AppendEntries_StaleTerm(t *testing.T) {
	tn := OpenTestNode(t, nil)
	defer tn.Node.Close()

	// Push the node to term 5 first.
	if _, err := tn.HandleAppendEntries(&raft.AppendEntriesRequest{Term: 5, LeaderID: 2}); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	resp, err := tn.HandleAppendEntries(&raft.AppendEntriesRequest{Term: 3, LeaderID: 3})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if resp.Success {
		t.Fatalf("expected rejection")
	}
	if resp.Term != 5 {
		t.Fatalf("unexpected term: %d", resp.Term)
	}
}

// Ensure the follower commit index follows leaderCommit, bounded by the last
// replicated entry.
func TestNode_AppendEntries_CommitAdvance(t *testing.T) {
	tn := OpenTestNode(t, entriesWithTerms(1, 1, 1))
	defer tn.Node.Close()

	resp, err := tn.HandleAppendEntries(&raft.AppendEntriesRequest{
		Term: 1, LeaderID: 2, PrevLogIndex: 3, PrevLogTerm: 1,
		LeaderCommit: 10,
	})
	if err != nil || !resp.Success {
		t.Fatalf("unexpected result: %v %+v", err, resp)
	}
	if got := tn.CommitIndex(); got != 3 {
		t.Fatalf("unexpected commit index: %d", got)
	}
}

// Ensure a 5-node cluster keeps committing while the leader holds a
// 3-node majority and two followers are cut off; the isolated followers
// cannot elect a replacement.
func TestCluster_PartitionedMinority(t *testing.T) {
	c := NewCluster(t, 5)
	defer c.Close()

	ldr := c.Elect(1)
	index, _, err := ldr.Propose([]byte("a"))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	for id := raft.NodeID(1); id <= 5; id++ {
		c.WaitApplied(1, id, index)
	}

	// Cut nodes 4 and 5 off from the majority side.
	for _, a := range []raft.NodeID{1, 2, 3} {
		for _, b := range []raft.NodeID{4, 5} {
			c.Partition(a, b)
		}
	}

	// The leader still commits through its remaining majority.
	index2, term2, err := ldr.Propose([]byte("b"))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	c.WaitCommitted(1, 1, index2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ldr.Wait(ctx, index2, term2); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// The isolated followers time out but can never win an election.
	for i := 0; i < 5; i++ {
		c.Node(4).Clock.Add(2 * raft.DefaultElectionTimeout)
		time.Sleep(10 * time.Millisecond)
		if c.Node(4).IsLeader() {
			t.Fatalf("isolated node became leader")
		}
	}
	if got := c.Node(4).CommitIndex(); got >= index2 {
		t.Fatalf("isolated node committed new entry: %d", got)
	}
	if !ldr.IsLeader() {
		t.Fatalf("leader lost leadership")
	}
}

// Ensure an entry committed in an early term survives a later election,
// and the deposed leader converges on the new leader's log.
func TestCluster_LeaderCompleteness(t *testing.T) {
	c := NewCluster(t, 3)
	defer c.Close()

	ldr := c.Elect(1)
	index, _, err := ldr.Propose([]byte("committed-early"))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	for id := raft.NodeID(1); id <= 3; id++ {
		c.WaitApplied(1, id, index)
	}

	// Depose the leader by partitioning it away and electing node 2.
	c.Partition(1, 2)
	c.Partition(1, 3)
	ldr2 := c.Elect(2)
	if ldr2.Term() <= 1 {
		t.Fatalf("unexpected term: %d", ldr2.Term())
	}

	// The new leader's log must contain the committed entry.
	if e, ok := ldr2.Store.Get(index); !ok || !bytes.Equal(e.Data, []byte("committed-early")) {
		t.Fatalf("committed entry missing from new leader: %+v (%v)", e, ok)
	}

	index2, term2, err := ldr2.Propose([]byte("after-election"))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	c.WaitCommitted(2, 2, index2)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ldr2.Wait(ctx, index2, term2); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// Heal the partition: the old leader steps down and catches up through
	// nextIndex backoff.
	c.Heal(1, 2)
	c.Heal(1, 3)
	c.Tick(1)
	c.waitFor("old leader step down", func() bool {
		c.Tick(2)
		return !c.Node(1).IsLeader()
	})
	c.WaitApplied(2, 1, index2)

	// Every node applied the same commands at the same indexes.
	for id := raft.NodeID(1); id <= 3; id++ {
		if b, ok := c.Node(id).FSM.Entry(index); !ok || !bytes.Equal(b, []byte("committed-early")) {
			t.Fatalf("node %d: early entry lost: %q (%v)", id, b, ok)
		}
		if b, ok := c.Node(id).FSM.Entry(index2); !ok || !bytes.Equal(b, []byte("after-election")) {
			t.Fatalf("node %d: late entry mismatch: %q (%v)", id, b, ok)
		}
	}
}

// OpenTestNode opens a two-peer node with a prepared log and an unreachable
// peer, so tests can drive its RPC handlers directly. The mock clock is never
// advanced; the node stays a quiet follower.
func OpenTestNode(t *testing.T, entries []*raft.LogEntry) *TestNode {
	t.Helper()

	config := raft.NewConfig()
	config.ID = 1
	config.Peers = []raft.Peer{
		{ID: 1, URL: "local://1"},
		{ID: 2, URL: "local://2"},
	}

	store := logstore.NewMemStore()
	if len(entries) > 0 {
		if err := store.Append(entries); err != nil {
			t.Fatalf("append entries: %s", err)
		}
	}

	tn := &TestNode{
		NodeID: 1,
		Clock:  clock.NewMock(),
		Store:  store,
		FSM:    NewFSM(),
	}
	tn.Node = raft.NewNode(config)
	tn.Node.Store = store
	tn.Node.FSM = tn.FSM
	tn.Node.Clock = tn.Clock
	tn.Node.Transport = unreachableTransport{}

	if err := tn.Open(); err != nil {
		t.Fatalf("open node: %s", err)
	}
	return tn
}

// entriesWithTerms builds command entries at indexes 1..n with the given terms.
func entriesWithTerms(terms ...uint64) []*raft.LogEntry {
	var entries []*raft.LogEntry
	for i, term := range terms {
		entries = append(entries, &raft.LogEntry{
			Type:  raft.LogEntryCommand,
			Index: uint64(i + 1),
			Term:  term,
			Data:  []byte{byte(i)},
		})
	}
	return entries
}

// unreachableTransport drops every request.
type unreachableTransport struct{}

func (unreachableTransport) SendRequestVote(ctx context.Context, u *url.URL, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	return nil, errors.New("unreachable")
}

func (unreachableTransport) SendAppendEntries(ctx context.Context, u *url.URL, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	return nil, errors.New("unreachable")
}
