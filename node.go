package raft

import (
	"context"
	"errors"
	"math/rand"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// State represents whether the node is a follower, candidate, or leader.
type State int

const (
	Follower State = iota
	Candidate
	Leader
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Node is a single consensus participant. All consensus state is owned by one
// run goroutine and mutated exclusively through its event queue: inbound RPCs,
// outbound RPC results, timer fires, and proposals are folded in one at a
// time. Outbound RPCs to different peers are dispatched concurrently; their
// results re-enter through the same queue, tagged with the term they were sent
// under so stale responses can be discarded.
type Node struct {
	mu     sync.Mutex
	opened bool

	config   Config
	peerURLs map[NodeID]*url.URL

	// The log store that entries and term/vote state are persisted to.
	// Must be set before calling Open.
	Store LogStore

	// The state machine that committed commands are applied to.
	FSM StateMachine

	// The transport used to communicate with other nodes in the cluster.
	// Must be set before calling Open.
	Transport Transport

	// Clock is an abstraction of the time package. By default it will use
	// a real-time clock but a mock clock can be used for testing.
	Clock clock.Clock

	logger  *zap.Logger
	metrics *Metrics
	rand    *rand.Rand

	events      chan event
	applyNotify chan struct{}
	closing     chan struct{}
	wg          sync.WaitGroup
	openFlag    atomic.Bool

	// State owned by the run loop.
	state       State
	term        uint64
	votedFor    NodeID
	leaderID    NodeID
	commitIndex uint64
	nextIndex   map[NodeID]uint64
	matchIndex  map[NodeID]uint64
	votes       map[NodeID]struct{}
	inflight    map[NodeID]struct{}
	waiters     map[uint64][]waiter

	electionTimer   *clock.Timer
	heartbeatTicker *clock.Ticker

	// Mirrors for introspection without entering the event loop.
	stateMirror   atomic.Int32
	termMirror    atomic.Uint64
	commitMirror  atomic.Uint64
	appliedMirror atomic.Uint64
	leaderMirror  atomic.Uint64
}

type event interface{}

type requestVoteEvent struct {
	req *RequestVoteRequest
	ch  chan *RequestVoteResponse
}

type appendEntriesEvent struct {
	req *AppendEntriesRequest
	ch  chan *AppendEntriesResponse
}

type proposeEvent struct {
	typ  LogEntryType
	data []byte
	ch   chan proposeResult
}

type proposeResult struct {
	index uint64
	term  uint64
	err   error
}

type voteResultEvent struct {
	from NodeID
	term uint64 // term the request was sent under
	resp *RequestVoteResponse
	err  error
}

type appendResultEvent struct {
	peer      NodeID
	term      uint64 // term the request was sent under
	prevIndex uint64
	count     int
	resp      *AppendEntriesResponse
	err       error
}

type waitEvent struct {
	index uint64
	term  uint64
	ch    chan error
}

type waiter struct {
	term uint64
	ch   chan error
}

// NewNode returns a new node with the given configuration. The Store and
// Transport fields must be set before calling Open.
func NewNode(config Config) *Node {
	return &Node{
		config:      config,
		logger:      zap.NewNop(),
		events:      make(chan event, 128),
		applyNotify: make(chan struct{}, 1),
		closing:     make(chan struct{}),
		waiters:     make(map[uint64][]waiter),
	}
}

// WithLogger sets the logger used by the node.
func (n *Node) WithLogger(log *zap.Logger) {
	n.logger = log.With(zap.Uint64("node_id", uint64(n.config.ID)))
}

// Metrics returns the node's prometheus collectors. They are created lazily
// on Open if not already present.
func (n *Node) Metrics() *Metrics {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.metrics == nil {
		n.metrics = NewMetrics()
	}
	return n.metrics
}

// ID returns the local node identifier.
func (n *Node) ID() NodeID { return n.config.ID }

// Open starts the node as a follower in its persisted term.
func (n *Node) Open() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.opened {
		return ErrOpen
	}
	if err := n.config.Validate(); err != nil {
		return err
	}
	if n.Store == nil {
		return errors.New("raft: log store required")
	}
	if n.Transport == nil {
		return errors.New("raft: transport required")
	}
	if n.Clock == nil {
		n.Clock = clock.New()
	}
	if n.metrics == nil {
		n.metrics = NewMetrics()
	}
	n.rand = rand.New(rand.NewSource(int64(n.config.ID)*7919 + time.Now().UnixNano()))

	n.peerURLs = make(map[NodeID]*url.URL, len(n.config.Peers))
	for _, p := range n.config.Peers {
		u, err := url.Parse(p.URL)
		if err != nil {
			return err
		}
		n.peerURLs[p.ID] = u
	}

	term, votedFor, err := n.Store.LoadState()
	if err != nil {
		return err
	}
	n.term, n.votedFor = term, votedFor
	n.state = Follower
	n.syncMirrors()

	n.resetElectionTimer()

	n.wg.Add(2)
	go n.run()
	go n.applyLoop()

	n.opened = true
	n.openFlag.Store(true)
	n.logger.Info("node opened",
		zap.Uint64("term", n.term),
		zap.Int("peers", len(n.config.Peers)))
	return nil
}

// Close stops the node. In-flight RPC handlers and waiters are released with
// ErrClosed.
func (n *Node) Close() error {
	n.mu.Lock()
	if !n.opened {
		n.mu.Unlock()
		return ErrClosed
	}
	n.opened = false
	n.openFlag.Store(false)
	close(n.closing)
	n.mu.Unlock()

	n.wg.Wait()

	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	if n.heartbeatTicker != nil {
		n.heartbeatTicker.Stop()
	}
	return nil
}

// State returns the current node state.
func (n *Node) State() State { return State(n.stateMirror.Load()) }

// Term returns the current election term.
func (n *Node) Term() uint64 { return n.termMirror.Load() }

// CommitIndex returns the highest log index known to be committed.
func (n *Node) CommitIndex() uint64 { return n.commitMirror.Load() }

// LastApplied returns the highest log index delivered to the state machine.
func (n *Node) LastApplied() uint64 { return n.appliedMirror.Load() }

// IsLeader returns true if the node currently believes itself leader.
func (n *Node) IsLeader() bool { return n.State() == Leader }

// LeaderHint returns the last known leader id, if any.
func (n *Node) LeaderHint() (NodeID, bool) {
	id := NodeID(n.leaderMirror.Load())
	return id, id != 0
}

// Propose appends a command to the log. Only the leader accepts proposals;
// other nodes return a NotLeaderError carrying a redirect hint. The returned
// index and term identify the entry; use Wait to block until it commits.
func (n *Node) Propose(data []byte) (index, term uint64, err error) {
	if !n.openFlag.Load() {
		return 0, 0, ErrClosed
	}
	ch := make(chan proposeResult, 1)
	select {
	case n.events <- proposeEvent{typ: LogEntryCommand, data: data, ch: ch}:
	case <-n.closing:
		return 0, 0, ErrClosed
	}
	select {
	case res := <-ch:
		return res.index, res.term, res.err
	case <-n.closing:
		return 0, 0, ErrClosed
	}
}

// Wait blocks until the entry at index commits in the given term. It returns
// ErrEntrySuperseded if a different entry committed at that index instead.
func (n *Node) Wait(ctx context.Context, index, term uint64) error {
	if !n.openFlag.Load() {
		return ErrClosed
	}
	ch := make(chan error, 1)
	select {
	case n.events <- waitEvent{index: index, term: term, ch: ch}:
	case <-n.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ch:
		return err
	case <-n.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleRequestVote processes an inbound RequestVote RPC through the node's
// event queue. Called by the transport's server side.
func (n *Node) HandleRequestVote(req *RequestVoteRequest) (*RequestVoteResponse, error) {
	if !n.openFlag.Load() {
		return nil, ErrClosed
	}
	ch := make(chan *RequestVoteResponse, 1)
	select {
	case n.events <- requestVoteEvent{req: req, ch: ch}:
	case <-n.closing:
		return nil, ErrClosed
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-n.closing:
		return nil, ErrClosed
	}
}

// HandleAppendEntries processes an inbound AppendEntries RPC through the
// node's event queue. Called by the transport's server side.
func (n *Node) HandleAppendEntries(req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	if !n.openFlag.Load() {
		return nil, ErrClosed
	}
	ch := make(chan *AppendEntriesResponse, 1)
	select {
	case n.events <- appendEntriesEvent{req: req, ch: ch}:
	case <-n.closing:
		return nil, ErrClosed
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-n.closing:
		return nil, ErrClosed
	}
}

// run is the node's serial event loop. Every mutation of consensus state
// happens here.
func (n *Node) run() {
	defer n.wg.Done()
	for {
		var heartbeatC <-chan time.Time
		if n.heartbeatTicker != nil {
			heartbeatC = n.heartbeatTicker.C
		}
		select {
		case <-n.closing:
			return
		case <-n.electionTimer.C:
			n.handleElectionTimeout()
		case <-heartbeatC:
			n.broadcastAppendEntries()
		case ev := <-n.events:
			n.handleEvent(ev)
		}
	}
}

func (n *Node) handleEvent(ev event) {
	switch ev := ev.(type) {
	case requestVoteEvent:
		ev.ch <- n.handleRequestVote(ev.req)
	case appendEntriesEvent:
		ev.ch <- n.handleAppendEntries(ev.req)
	case proposeEvent:
		ev.ch <- n.handlePropose(ev)
	case voteResultEvent:
		n.handleVoteResult(ev)
	case appendResultEvent:
		n.handleAppendResult(ev)
	case waitEvent:
		n.handleWait(ev)
	}
}

// post delivers an event to the run loop unless the node is closing.
func (n *Node) post(ev event) {
	select {
	case n.events <- ev:
	case <-n.closing:
	}
}

// electionDuration returns a fresh randomized timeout in
// [ElectionTimeout, 2*ElectionTimeout).
func (n *Node) electionDuration() time.Duration {
	d := time.Duration(n.config.ElectionTimeout)
	return d + time.Duration(n.rand.Int63n(int64(d)))
}

func (n *Node) resetElectionTimer() {
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	n.electionTimer = n.Clock.Timer(n.electionDuration())
}

// lastLogTerm returns the term of the last log entry, or zero for an empty log.
func (n *Node) lastLogTerm() uint64 {
	if e, ok := n.Store.Get(n.Store.LastIndex()); ok {
		return e.Term
	}
	return 0
}

func (n *Node) syncMirrors() {
	n.stateMirror.Store(int32(n.state))
	n.termMirror.Store(n.term)
	n.leaderMirror.Store(uint64(n.leaderID))
	n.metrics.CurrentTerm.Set(float64(n.term))
	n.metrics.NodeState.Set(float64(n.state))
}

// stepDown reverts to follower, adopting the term if it is newer. Leader-side
// replication state is discarded so stale per-follower indices can never feed
// the commitment calculation.
func (n *Node) stepDown(term uint64) {
	if term > n.term {
		n.term = term
		n.votedFor = 0
		n.leaderID = 0
		if err := n.Store.PersistState(n.term, n.votedFor); err != nil {
			n.logger.Error("persist state failed", zap.Error(err))
		}
	}
	wasLeader := n.state == Leader
	n.state = Follower
	n.votes = nil
	n.nextIndex, n.matchIndex, n.inflight = nil, nil, nil
	if n.heartbeatTicker != nil {
		n.heartbeatTicker.Stop()
		n.heartbeatTicker = nil
	}
	n.resetElectionTimer()
	n.syncMirrors()
	if wasLeader {
		n.logger.Info("stepped down", zap.Uint64("term", n.term))
	}
}

func (n *Node) handleElectionTimeout() {
	if n.state == Leader {
		return
	}
	n.startElection()
}

func (n *Node) startElection() {
	n.state = Candidate
	n.term++
	n.votedFor = n.config.ID
	n.leaderID = 0
	if err := n.Store.PersistState(n.term, n.votedFor); err != nil {
		n.logger.Error("persist state failed", zap.Error(err))
		return
	}
	n.resetElectionTimer()
	n.votes = map[NodeID]struct{}{n.config.ID: {}}
	n.syncMirrors()
	n.metrics.ElectionsStarted.Inc()
	n.logger.Info("election started", zap.Uint64("term", n.term))

	req := &RequestVoteRequest{
		Term:         n.term,
		CandidateID:  n.config.ID,
		LastLogIndex: n.Store.LastIndex(),
		LastLogTerm:  n.lastLogTerm(),
	}
	for _, p := range n.config.Peers {
		if p.ID == n.config.ID {
			continue
		}
		go n.sendRequestVote(p.ID, n.peerURLs[p.ID], req)
	}

	// Single-node clusters win immediately.
	if len(n.votes) >= n.config.Quorum() {
		n.becomeLeader()
	}
}

func (n *Node) sendRequestVote(id NodeID, u *url.URL, req *RequestVoteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(n.config.RequestTimeout))
	defer cancel()
	resp, err := n.Transport.SendRequestVote(ctx, u, req)
	n.post(voteResultEvent{from: id, term: req.Term, resp: resp, err: err})
}

func (n *Node) handleVoteResult(ev voteResultEvent) {
	if ev.err != nil {
		n.logger.Debug("request vote dropped",
			zap.Uint64("peer", uint64(ev.from)), zap.Error(ev.err))
		return
	}
	if ev.resp.Term > n.term {
		n.stepDown(ev.resp.Term)
		return
	}
	// Discard responses from elections we are no longer running.
	if n.state != Candidate || ev.term != n.term {
		return
	}
	if !ev.resp.VoteGranted {
		return
	}
	n.votes[ev.from] = struct{}{}
	if len(n.votes) >= n.config.Quorum() {
		n.becomeLeader()
	}
}

func (n *Node) becomeLeader() {
	if n.state == Leader {
		return
	}
	n.state = Leader
	n.leaderID = n.config.ID
	n.votes = nil

	last := n.Store.LastIndex()
	n.nextIndex = make(map[NodeID]uint64, len(n.config.Peers))
	n.matchIndex = make(map[NodeID]uint64, len(n.config.Peers))
	n.inflight = make(map[NodeID]struct{}, len(n.config.Peers))
	for _, p := range n.config.Peers {
		if p.ID == n.config.ID {
			continue
		}
		n.nextIndex[p.ID] = last + 1
		n.matchIndex[p.ID] = 0
	}

	n.electionTimer.Stop()
	n.heartbeatTicker = n.Clock.Ticker(time.Duration(n.config.HeartbeatInterval))
	n.syncMirrors()
	n.metrics.LeaderTransitions.Inc()
	n.logger.Info("became leader", zap.Uint64("term", n.term))

	// Replicating a no-op in the new term is what lets earlier-term entries
	// commit transitively.
	if _, _, err := n.appendLocal(LogEntryNop, nil); err != nil {
		n.logger.Error("append noop failed", zap.Error(err))
	}
	n.broadcastAppendEntries()
}

func (n *Node) handlePropose(ev proposeEvent) proposeResult {
	if n.state != Leader {
		return proposeResult{err: &NotLeaderError{LeaderID: n.leaderID}}
	}
	index, term, err := n.appendLocal(ev.typ, ev.data)
	if err != nil {
		return proposeResult{err: err}
	}
	n.broadcastAppendEntries()
	return proposeResult{index: index, term: term}
}

// appendLocal appends an entry to the leader's own log.
func (n *Node) appendLocal(typ LogEntryType, data []byte) (uint64, uint64, error) {
	index := n.Store.LastIndex() + 1
	e := &LogEntry{Type: typ, Index: index, Term: n.term, Data: data}
	if err := n.Store.Append([]*LogEntry{e}); err != nil {
		return 0, 0, err
	}
	n.metrics.EntriesAppended.Inc()
	n.advanceCommitIndex()
	return index, n.term, nil
}

// broadcastAppendEntries sends one AppendEntries request to every peer that
// does not already have one in flight. Retries after failures ride the
// regular heartbeat cadence rather than ad hoc loops.
func (n *Node) broadcastAppendEntries() {
	if n.state != Leader {
		return
	}
	n.metrics.HeartbeatsSent.Inc()

	last := n.Store.LastIndex()
	for _, p := range n.config.Peers {
		if p.ID == n.config.ID {
			continue
		}
		if _, ok := n.inflight[p.ID]; ok {
			continue
		}

		next := n.nextIndex[p.ID]
		prevIndex := next - 1
		var prevTerm uint64
		if prevIndex > 0 {
			e, ok := n.Store.Get(prevIndex)
			if !ok {
				n.logger.Error("missing log entry",
					zap.Uint64("index", prevIndex), zap.Uint64("peer", uint64(p.ID)))
				continue
			}
			prevTerm = e.Term
		}

		var entries []*LogEntry
		if next <= last {
			es, err := n.Store.Entries(next, last)
			if err != nil {
				n.logger.Error("read log entries failed", zap.Error(err))
				continue
			}
			entries = es
		}

		req := &AppendEntriesRequest{
			Term:         n.term,
			LeaderID:     n.config.ID,
			PrevLogIndex: prevIndex,
			PrevLogTerm:  prevTerm,
			Entries:      entries,
			LeaderCommit: n.commitIndex,
		}
		n.inflight[p.ID] = struct{}{}
		go n.sendAppendEntries(p.ID, n.peerURLs[p.ID], req)
	}
}

func (n *Node) sendAppendEntries(id NodeID, u *url.URL, req *AppendEntriesRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(n.config.RequestTimeout))
	defer cancel()
	resp, err := n.Transport.SendAppendEntries(ctx, u, req)
	n.post(appendResultEvent{
		peer:      id,
		term:      req.Term,
		prevIndex: req.PrevLogIndex,
		count:     len(req.Entries),
		resp:      resp,
		err:       err,
	})
}

func (n *Node) handleAppendResult(ev appendResultEvent) {
	delete(n.inflight, ev.peer)

	if ev.err != nil {
		// Dropped message; the next heartbeat cycle retries.
		n.logger.Debug("append entries dropped",
			zap.Uint64("peer", uint64(ev.peer)), zap.Error(ev.err))
		return
	}
	if ev.resp.Term > n.term {
		n.logger.Info("append entries rejected",
			zap.Uint64("peer", uint64(ev.peer)), zap.Error(ErrStaleTerm))
		n.stepDown(ev.resp.Term)
		return
	}
	// Discard responses from a previous leadership term.
	if n.state != Leader || ev.term != n.term {
		return
	}

	if ev.resp.Success {
		m := ev.prevIndex + uint64(ev.count)
		if m > n.matchIndex[ev.peer] {
			n.matchIndex[ev.peer] = m
		}
		if next := n.matchIndex[ev.peer] + 1; next > n.nextIndex[ev.peer] {
			n.nextIndex[ev.peer] = next
		}
		n.advanceCommitIndex()
	} else if n.nextIndex[ev.peer] > 1 {
		n.logger.Debug("append entries rejected",
			zap.Uint64("peer", uint64(ev.peer)),
			zap.Uint64("next_index", n.nextIndex[ev.peer]),
			zap.Error(ErrLogInconsistent))
		// Back up one entry and retry on the next cycle.
		n.nextIndex[ev.peer]--
	}
}

// advanceCommitIndex moves the commit index to the highest entry of the
// current term replicated on a majority. Earlier-term entries are never
// counted directly; they commit transitively.
func (n *Node) advanceCommitIndex() {
	if n.state != Leader {
		return
	}
	last := n.Store.LastIndex()
	for index := n.commitIndex + 1; index <= last; index++ {
		e, ok := n.Store.Get(index)
		if !ok {
			break
		}
		if e.Term != n.term {
			continue
		}
		count := 1 // the leader's log always matches itself
		for _, m := range n.matchIndex {
			if m >= index {
				count++
			}
		}
		if count < n.config.Quorum() {
			break
		}
		n.setCommitIndex(index)
	}
}

func (n *Node) setCommitIndex(index uint64) {
	if index <= n.commitIndex {
		return
	}
	n.commitIndex = index
	n.commitMirror.Store(index)
	n.metrics.CommitIndex.Set(float64(index))
	select {
	case n.applyNotify <- struct{}{}:
	default:
	}
	n.resolveWaiters()
}

func (n *Node) handleWait(ev waitEvent) {
	if ev.index <= n.commitIndex {
		ev.ch <- n.waitResult(ev.index, ev.term)
		return
	}
	n.waiters[ev.index] = append(n.waiters[ev.index], waiter{term: ev.term, ch: ev.ch})
}

func (n *Node) resolveWaiters() {
	for index, ws := range n.waiters {
		if index > n.commitIndex {
			continue
		}
		for _, w := range ws {
			w.ch <- n.waitResult(index, w.term)
		}
		delete(n.waiters, index)
	}
}

func (n *Node) waitResult(index, term uint64) error {
	if e, ok := n.Store.Get(index); ok && e.Term == term {
		return nil
	}
	return ErrEntrySuperseded
}

func (n *Node) handleRequestVote(req *RequestVoteRequest) *RequestVoteResponse {
	resp := &RequestVoteResponse{Term: n.term}
	if req.Term < n.term {
		return resp
	}
	if req.Term > n.term {
		n.stepDown(req.Term)
		resp.Term = n.term
	}

	// Deny the vote if we already voted for a different candidate this term
	// or the candidate's log is less up-to-date than ours.
	if n.votedFor != 0 && n.votedFor != req.CandidateID {
		return resp
	}
	lastIndex, lastTerm := n.Store.LastIndex(), n.lastLogTerm()
	if req.LastLogTerm < lastTerm ||
		(req.LastLogTerm == lastTerm && req.LastLogIndex < lastIndex) {
		return resp
	}

	n.votedFor = req.CandidateID
	if err := n.Store.PersistState(n.term, n.votedFor); err != nil {
		n.logger.Error("persist state failed", zap.Error(err))
		n.votedFor = 0
		return resp
	}
	// Granting a vote acknowledges someone else may lead this term.
	n.resetElectionTimer()
	resp.VoteGranted = true
	n.logger.Debug("vote granted",
		zap.Uint64("candidate", uint64(req.CandidateID)), zap.Uint64("term", n.term))
	return resp
}

func (n *Node) handleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	resp := &AppendEntriesResponse{Term: n.term}
	if req.Term < n.term {
		return resp
	}

	// Accept the sender as leader for this term.
	if req.Term > n.term || n.state != Follower {
		n.stepDown(req.Term)
	}
	n.leaderID = req.LeaderID
	n.leaderMirror.Store(uint64(req.LeaderID))
	n.resetElectionTimer()
	resp.Term = n.term

	// Consistency check; trivially satisfied at prevLogIndex zero.
	if req.PrevLogIndex > 0 {
		e, ok := n.Store.Get(req.PrevLogIndex)
		if !ok || e.Term != req.PrevLogTerm {
			return resp
		}
	}

	// Delete conflicting entries, then append the remainder. Entries already
	// present with matching terms are left untouched so duplicated or
	// reordered requests stay idempotent.
	for i, e := range req.Entries {
		existing, ok := n.Store.Get(e.Index)
		if ok && existing.Term == e.Term {
			continue
		}
		if ok {
			if err := n.Store.TruncateFrom(e.Index); err != nil {
				n.logger.Error("truncate log failed", zap.Error(err))
				return resp
			}
		}
		if err := n.Store.Append(req.Entries[i:]); err != nil {
			n.logger.Error("append log failed", zap.Error(err))
			return resp
		}
		n.metrics.EntriesAppended.Add(float64(len(req.Entries) - i))
		break
	}

	if req.LeaderCommit > n.commitIndex {
		last := req.PrevLogIndex + uint64(len(req.Entries))
		n.setCommitIndex(min(req.LeaderCommit, last))
	}

	resp.Success = true
	return resp
}

// applyLoop delivers committed entries to the state machine in index order,
// exactly once each. It reads from the log store directly: entries at or
// below the commit index are immutable.
func (n *Node) applyLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.closing:
			return
		case <-n.applyNotify:
		}

		for {
			applied := n.appliedMirror.Load()
			if applied >= n.commitMirror.Load() {
				break
			}
			e, ok := n.Store.Get(applied + 1)
			if !ok {
				n.logger.Error("committed entry missing", zap.Uint64("index", applied+1))
				break
			}
			if e.Type == LogEntryCommand && n.FSM != nil {
				if _, err := n.FSM.Apply(e.Index, e.Data); err != nil {
					n.logger.Error("state machine apply failed",
						zap.Uint64("index", e.Index), zap.Error(err))
				}
			}
			n.appliedMirror.Store(applied + 1)
			n.metrics.EntriesApplied.Inc()
		}
	}
}
