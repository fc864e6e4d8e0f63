package raft

import (
	"context"
	"net/url"
)

// RequestVoteRequest represents the arguments for a RequestVote RPC.
type RequestVoteRequest struct {
	Term         uint64
	CandidateID  NodeID
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteResponse represents the result of a RequestVote RPC.
type RequestVoteResponse struct {
	Term        uint64
	VoteGranted bool
}

// AppendEntriesRequest represents the arguments for an AppendEntries RPC.
// An empty Entries slice is a heartbeat.
type AppendEntriesRequest struct {
	Term         uint64
	LeaderID     NodeID
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []*LogEntry
	LeaderCommit uint64
}

// AppendEntriesResponse represents the result of an AppendEntries RPC.
type AppendEntriesResponse struct {
	Term    uint64
	Success bool
}

// Transport represents a handler for sending RPCs to other nodes.
// Implementations may drop, delay, or duplicate requests but must never
// corrupt them; a returned error is treated as a dropped message.
type Transport interface {
	SendRequestVote(ctx context.Context, peer *url.URL, req *RequestVoteRequest) (*RequestVoteResponse, error)
	SendAppendEntries(ctx context.Context, peer *url.URL, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
}
