package raft_test

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cascadedb/raft"
	"github.com/cascadedb/raft/logstore"
)

// TestNode wraps a raft.Node with its test collaborators.
type TestNode struct {
	*raft.Node
	NodeID raft.NodeID
	Clock  *clock.Mock
	Store  *logstore.MemStore
	FSM    *FSM
}

// Cluster is a set of nodes wired together over an in-process transport.
// Each node owns a mock clock, so tests decide which node times out; the
// transport can partition arbitrary pairs.
type Cluster struct {
	t     *testing.T
	mu    sync.Mutex
	nodes map[raft.NodeID]*TestNode
	block map[[2]raft.NodeID]bool
}

// NewCluster returns a cluster of n opened nodes. No clocks are advanced, so
// no elections run until the test triggers them.
func NewCluster(t *testing.T, n int) *Cluster {
	t.Helper()

	c := &Cluster{
		t:     t,
		nodes: make(map[raft.NodeID]*TestNode, n),
		block: make(map[[2]raft.NodeID]bool),
	}

	var peers []raft.Peer
	for i := 1; i <= n; i++ {
		peers = append(peers, raft.Peer{ID: raft.NodeID(i), URL: fmt.Sprintf("local://%d", i)})
	}

	for i := 1; i <= n; i++ {
		id := raft.NodeID(i)
		config := raft.NewConfig()
		config.ID = id
		config.Peers = peers

		tn := &TestNode{
			NodeID: id,
			Clock:  clock.NewMock(),
			Store:  logstore.NewMemStore(),
			FSM:    NewFSM(),
		}
		tn.Node = raft.NewNode(config)
		tn.Node.Store = tn.Store
		tn.Node.FSM = tn.FSM
		tn.Node.Clock = tn.Clock
		tn.Node.Transport = &clusterTransport{cluster: c, from: id}

		if err := tn.Open(); err != nil {
			t.Fatalf("open node %d: %s", id, err)
		}
		c.nodes[id] = tn
	}
	return c
}

// Close shuts down every node.
func (c *Cluster) Close() {
	for _, tn := range c.nodes {
		_ = tn.Node.Close()
	}
}

// Node returns the node with the given id.
func (c *Cluster) Node(id raft.NodeID) *TestNode {
	tn, ok := c.nodes[id]
	if !ok {
		c.t.Fatalf("unknown node: %d", id)
	}
	return tn
}

// Partition blocks traffic between a and b in both directions.
func (c *Cluster) Partition(a, b raft.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block[[2]raft.NodeID{a, b}] = true
	c.block[[2]raft.NodeID{b, a}] = true
}

// Heal restores traffic between a and b.
func (c *Cluster) Heal(a, b raft.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.block, [2]raft.NodeID{a, b})
	delete(c.block, [2]raft.NodeID{b, a})
}

func (c *Cluster) blocked(from, to raft.NodeID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block[[2]raft.NodeID{from, to}]
}

// Elect forces the node to time out until it wins an election.
func (c *Cluster) Elect(id raft.NodeID) *TestNode {
	c.t.Helper()
	tn := c.Node(id)
	for attempt := 0; attempt < 10; attempt++ {
		tn.Clock.Add(2 * raft.DefaultElectionTimeout)
		if poll(func() bool { return tn.IsLeader() }, 250*time.Millisecond) {
			return tn
		}
	}
	c.t.Fatalf("node %d did not become leader", id)
	return nil
}

// Tick advances the node's clock by one heartbeat interval.
func (c *Cluster) Tick(id raft.NodeID) {
	c.Node(id).Clock.Add(raft.DefaultHeartbeatInterval)
}

// WaitCommitted ticks the leader until the node's commit index reaches index.
func (c *Cluster) WaitCommitted(leader, id raft.NodeID, index uint64) {
	c.t.Helper()
	c.waitFor(fmt.Sprintf("node %d to commit index %d", id, index), func() bool {
		c.Tick(leader)
		return c.Node(id).CommitIndex() >= index
	})
}

// WaitApplied ticks the leader until the node has applied through index.
func (c *Cluster) WaitApplied(leader, id raft.NodeID, index uint64) {
	c.t.Helper()
	c.waitFor(fmt.Sprintf("node %d to apply index %d", id, index), func() bool {
		c.Tick(leader)
		return c.Node(id).LastApplied() >= index
	})
}

// LeaderCount returns how many nodes believe themselves leader for the term.
func (c *Cluster) LeaderCount(term uint64) int {
	count := 0
	for _, tn := range c.nodes {
		if tn.IsLeader() && tn.Term() == term {
			count++
		}
	}
	return count
}

func (c *Cluster) waitFor(msg string, fn func() bool) {
	c.t.Helper()
	if !poll(fn, 5*time.Second) {
		c.t.Fatalf("timed out waiting for %s", msg)
	}
}

func poll(fn func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return fn()
}

// clusterTransport routes RPCs directly into the target node's handlers.
type clusterTransport struct {
	cluster *Cluster
	from    raft.NodeID
}

func (t *clusterTransport) target(u *url.URL) (*TestNode, error) {
	id, err := strconv.ParseUint(u.Host, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad peer url: %s", u)
	}
	to := raft.NodeID(id)
	if t.cluster.blocked(t.from, to) {
		return nil, fmt.Errorf("partitioned: %d -> %d", t.from, to)
	}
	t.cluster.mu.Lock()
	tn, ok := t.cluster.nodes[to]
	t.cluster.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown peer: %d", to)
	}
	return tn, nil
}

func (t *clusterTransport) SendRequestVote(ctx context.Context, u *url.URL, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	tn, err := t.target(u)
	if err != nil {
		return nil, err
	}
	return tn.HandleRequestVote(req)
}

func (t *clusterTransport) SendAppendEntries(ctx context.Context, u *url.URL, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	tn, err := t.target(u)
	if err != nil {
		return nil, err
	}
	return tn.HandleAppendEntries(req)
}

// FSM records applied commands by index.
type FSM struct {
	mu      sync.Mutex
	applied map[uint64][]byte
	order   []uint64
}

func NewFSM() *FSM {
	return &FSM{applied: make(map[uint64][]byte)}
}

func (f *FSM) Apply(index uint64, data []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.applied[index]; ok {
		return nil, fmt.Errorf("index %d applied twice", index)
	}
	f.applied[index] = append([]byte(nil), data...)
	f.order = append(f.order, index)
	return nil, nil
}

// Entry returns the command applied at index.
func (f *FSM) Entry(index uint64) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.applied[index]
	return b, ok
}

// Indexes returns the apply order.
func (f *FSM) Indexes() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.order...)
}
