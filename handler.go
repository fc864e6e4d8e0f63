package raft

import (
	"io"
	"net/http"
	"path"
	"strconv"
)

// HTTPHandler represents an HTTP endpoint for Raft to communicate over.
// It is the server side of HTTPTransport.
type HTTPHandler struct {
	node *Node
}

// NewHTTPHandler returns a new instance of HTTPHandler associated with a node.
func NewHTTPHandler(node *Node) *HTTPHandler {
	return &HTTPHandler{node: node}
}

// ServeHTTP handles all incoming HTTP requests.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch path.Base(r.URL.Path) {
	case "append-entries":
		h.serveAppendEntries(w, r)
	case "vote":
		h.serveRequestVote(w, r)
	case "ping":
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

// serveAppendEntries serves an AppendEntries RPC to the underlying node.
func (h *HTTPHandler) serveAppendEntries(w http.ResponseWriter, r *http.Request) {
	var req AppendEntriesRequest
	var err error

	// Parse arguments from headers.
	if req.Term, err = strconv.ParseUint(r.Header.Get("X-Raft-Term"), 10, 64); err != nil {
		w.Header().Set("X-Raft-Error", "invalid term")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var leaderID uint64
	if leaderID, err = strconv.ParseUint(r.Header.Get("X-Raft-LeaderID"), 10, 64); err != nil {
		w.Header().Set("X-Raft-Error", "invalid leader id")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	req.LeaderID = NodeID(leaderID)
	if req.PrevLogIndex, err = strconv.ParseUint(r.Header.Get("X-Raft-PrevLogIndex"), 10, 64); err != nil {
		w.Header().Set("X-Raft-Error", "invalid prev log index")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.PrevLogTerm, err = strconv.ParseUint(r.Header.Get("X-Raft-PrevLogTerm"), 10, 64); err != nil {
		w.Header().Set("X-Raft-Error", "invalid prev log term")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.LeaderCommit, err = strconv.ParseUint(r.Header.Get("X-Raft-LeaderCommit"), 10, 64); err != nil {
		w.Header().Set("X-Raft-Error", "invalid leader commit")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Decode entries from the body.
	dec := NewLogEntryDecoder(r.Body)
	for {
		var e LogEntry
		if err := dec.Decode(&e); err == io.EOF {
			break
		} else if err != nil {
			w.Header().Set("X-Raft-Error", "invalid entry stream")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		req.Entries = append(req.Entries, &e)
	}

	// Execute append entries on the node.
	resp, err := h.node.HandleAppendEntries(&req)
	if err != nil {
		w.Header().Set("X-Raft-Error", err.Error())
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("X-Raft-Term", strconv.FormatUint(resp.Term, 10))
	w.Header().Set("X-Raft-Success", strconv.FormatBool(resp.Success))
	w.WriteHeader(http.StatusOK)
}

// serveRequestVote serves a vote request to the underlying node.
func (h *HTTPHandler) serveRequestVote(w http.ResponseWriter, r *http.Request) {
	var req RequestVoteRequest
	var err error

	// Parse arguments.
	if req.Term, err = strconv.ParseUint(r.FormValue("term"), 10, 64); err != nil {
		w.Header().Set("X-Raft-Error", "invalid term")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var candidateID uint64
	if candidateID, err = strconv.ParseUint(r.FormValue("candidateID"), 10, 64); err != nil {
		w.Header().Set("X-Raft-Error", "invalid candidate id")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	req.CandidateID = NodeID(candidateID)
	if req.LastLogIndex, err = strconv.ParseUint(r.FormValue("lastLogIndex"), 10, 64); err != nil {
		w.Header().Set("X-Raft-Error", "invalid last log index")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.LastLogTerm, err = strconv.ParseUint(r.FormValue("lastLogTerm"), 10, 64); err != nil {
		w.Header().Set("X-Raft-Error", "invalid last log term")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Execute the vote request on the node.
	resp, err := h.node.HandleRequestVote(&req)
	if err != nil {
		w.Header().Set("X-Raft-Error", err.Error())
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("X-Raft-Term", strconv.FormatUint(resp.Term, 10))
	w.Header().Set("X-Raft-VoteGranted", strconv.FormatBool(resp.VoteGranted))
	w.WriteHeader(http.StatusOK)
}
