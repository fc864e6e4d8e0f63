package raft

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/pkg/errors"
)

// HTTPTransport sends RPCs over the HTTP protocol. Request arguments travel
// in X-Raft headers and query parameters; log entries travel in the request
// body as a binary entry stream. The receiving end is HTTPHandler.
type HTTPTransport struct {
	// Client is the HTTP client used for outbound requests.
	// If nil, http.DefaultClient is used. Per-request deadlines come from
	// the caller's context.
	Client *http.Client
}

func (t *HTTPTransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

// SendAppendEntries sends a list of entries to a follower.
func (t *HTTPTransport) SendAppendEntries(ctx context.Context, uri *url.URL, r *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	// Copy URL and append path.
	u := *uri
	u.Path = path.Join(u.Path, "append-entries")

	// Encode log entries into the request body.
	var buf bytes.Buffer
	enc := NewLogEntryEncoder(&buf)
	for _, e := range r.Entries {
		if err := enc.Encode(e); err != nil {
			return nil, errors.Wrap(err, "encode log entry")
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Raft-Term", strconv.FormatUint(r.Term, 10))
	req.Header.Set("X-Raft-LeaderID", strconv.FormatUint(uint64(r.LeaderID), 10))
	req.Header.Set("X-Raft-PrevLogIndex", strconv.FormatUint(r.PrevLogIndex, 10))
	req.Header.Set("X-Raft-PrevLogTerm", strconv.FormatUint(r.PrevLogTerm, 10))
	req.Header.Set("X-Raft-LeaderCommit", strconv.FormatUint(r.LeaderCommit, 10))

	resp, err := t.client().Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send append entries")
	}
	defer func() { _ = resp.Body.Close() }()

	if s := resp.Header.Get("X-Raft-Error"); s != "" {
		return nil, fmt.Errorf("append entries: %s", s)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("append entries: unexpected status: %d", resp.StatusCode)
	}

	term, err := strconv.ParseUint(resp.Header.Get("X-Raft-Term"), 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse response term")
	}
	success, err := strconv.ParseBool(resp.Header.Get("X-Raft-Success"))
	if err != nil {
		return nil, errors.Wrap(err, "parse response success")
	}
	return &AppendEntriesResponse{Term: term, Success: success}, nil
}

// SendRequestVote requests a vote for a candidate in a given term.
func (t *HTTPTransport) SendRequestVote(ctx context.Context, uri *url.URL, r *RequestVoteRequest) (*RequestVoteResponse, error) {
	// Copy URL, append path and arguments.
	u := *uri
	u.Path = path.Join(u.Path, "vote")
	u.RawQuery = url.Values{
		"term":         {strconv.FormatUint(r.Term, 10)},
		"candidateID":  {strconv.FormatUint(uint64(r.CandidateID), 10)},
		"lastLogIndex": {strconv.FormatUint(r.LastLogIndex, 10)},
		"lastLogTerm":  {strconv.FormatUint(r.LastLogTerm, 10)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client().Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request vote")
	}
	defer func() { _ = resp.Body.Close() }()

	if s := resp.Header.Get("X-Raft-Error"); s != "" {
		return nil, fmt.Errorf("request vote: %s", s)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request vote: unexpected status: %d", resp.StatusCode)
	}

	term, err := strconv.ParseUint(resp.Header.Get("X-Raft-Term"), 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse response term")
	}
	granted, err := strconv.ParseBool(resp.Header.Get("X-Raft-VoteGranted"))
	if err != nil {
		return nil, errors.Wrap(err, "parse response granted")
	}
	return &RequestVoteResponse{Term: term, VoteGranted: granted}, nil
}
