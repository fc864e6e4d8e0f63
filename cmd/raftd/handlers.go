package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cascadedb/raft"
	"github.com/cascadedb/raft/kv"
)

// proposeTimeout bounds how long a client write waits for commitment.
const proposeTimeout = 5 * time.Second

type kvHandler struct {
	node   *raft.Node
	fsm    *kv.Store
	config *Config
	logger *zap.Logger
}

// serveKV handles reads and replicated writes of single keys.
// Writes on a non-leader node return 503 with a leader hint; clients are
// expected to redirect themselves.
func (h *kvHandler) serveKV(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/kv/")
	if key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		v, ok := h.fsm.Get(key)
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(v))

	case http.MethodPut, http.MethodPost:
		value, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		h.propose(w, r, kv.Command{Op: kv.OpSet, Key: key, Value: string(value)})

	case http.MethodDelete:
		h.propose(w, r, kv.Command{Op: kv.OpDelete, Key: key})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *kvHandler) propose(w http.ResponseWriter, r *http.Request, cmd kv.Command) {
	data, err := cmd.Encode()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	index, term, err := h.node.Propose(data)
	if errors.Is(err, raft.ErrNotLeader) {
		h.writeLeaderHint(w)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), proposeTimeout)
	defer cancel()
	if err := h.node.Wait(ctx, index, term); err != nil {
		h.logger.Warn("proposal did not commit",
			zap.Uint64("index", index), zap.Error(err))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("X-Raft-Index", strconv.FormatUint(index, 10))
	w.WriteHeader(http.StatusOK)
}

// writeLeaderHint adds the last known leader's id and url to the response.
func (h *kvHandler) writeLeaderHint(w http.ResponseWriter) {
	id, ok := h.node.LeaderHint()
	if !ok {
		return
	}
	w.Header().Set("X-Raft-Leader", strconv.FormatUint(uint64(id), 10))
	for _, p := range h.config.Cluster.Peers {
		if p.ID == id {
			w.Header().Set("X-Raft-Leader-URL", p.URL)
			return
		}
	}
}

// serveStatus reports the node's consensus state.
func (h *kvHandler) serveStatus(w http.ResponseWriter, r *http.Request) {
	leader, _ := h.node.LeaderHint()
	status := struct {
		ID          uint64 `json:"id"`
		State       string `json:"state"`
		Term        uint64 `json:"term"`
		CommitIndex uint64 `json:"commitIndex"`
		LastApplied uint64 `json:"lastApplied"`
		Leader      uint64 `json:"leader"`
		Keys        int    `json:"keys"`
	}{
		ID:          uint64(h.node.ID()),
		State:       h.node.State().String(),
		Term:        h.node.Term(),
		CommitIndex: h.node.CommitIndex(),
		LastApplied: h.node.LastApplied(),
		Leader:      uint64(leader),
		Keys:        h.fsm.Len(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}
