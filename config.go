package raft

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	// DefaultHeartbeatInterval is the amount of time between Append Entries
	// RPC calls from the leader to its followers.
	DefaultHeartbeatInterval = 50 * time.Millisecond

	// DefaultElectionTimeout is the base amount of time before a follower
	// attempts an election. The effective timeout is randomized between one
	// and two times this value and re-rolled on every reset.
	DefaultElectionTimeout = 300 * time.Millisecond

	// DefaultRequestTimeout is the amount of time an outbound RPC may take
	// before it is treated as a dropped message.
	DefaultRequestTimeout = 250 * time.Millisecond
)

// NodeID uniquely identifies a node within the static peer set.
// Zero is never a valid id and is used to mean "none".
type NodeID uint64

// Peer represents a single member of the cluster.
type Peer struct {
	ID  NodeID `toml:"id"`
	URL string `toml:"url"`
}

// Config represents the configuration for a node.
type Config struct {
	// Identifier of the local node. Must appear in Peers.
	ID NodeID `toml:"id"`

	// The static set of cluster members, including the local node.
	Peers []Peer `toml:"peers"`

	HeartbeatInterval Duration `toml:"heartbeat-interval"`
	ElectionTimeout   Duration `toml:"election-timeout"`
	RequestTimeout    Duration `toml:"request-timeout"`
}

// NewConfig returns a config with default timing values.
func NewConfig() Config {
	return Config{
		HeartbeatInterval: Duration(DefaultHeartbeatInterval),
		ElectionTimeout:   Duration(DefaultElectionTimeout),
		RequestTimeout:    Duration(DefaultRequestTimeout),
	}
}

// Validate returns an error if the configuration is unusable.
func (c *Config) Validate() error {
	if c.ID == 0 {
		return errors.New("node id required")
	}
	if len(c.Peers) == 0 {
		return errors.New("at least one peer required")
	}

	ids := make(map[NodeID]struct{}, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID == 0 {
			return errors.New("peer id required")
		}
		if _, ok := ids[p.ID]; ok {
			return fmt.Errorf("duplicate peer id: %d", p.ID)
		}
		ids[p.ID] = struct{}{}

		if _, err := url.Parse(p.URL); err != nil {
			return fmt.Errorf("invalid peer url %q: %s", p.URL, err)
		}
	}
	if _, ok := ids[c.ID]; !ok {
		return fmt.Errorf("node id %d not in peer set", c.ID)
	}

	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.ElectionTimeout <= 0 {
		return errors.New("election timeout must be positive")
	}
	if time.Duration(c.HeartbeatInterval) >= time.Duration(c.ElectionTimeout) {
		return errors.New("heartbeat interval must be shorter than election timeout")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}

	return nil
}

// Quorum returns the number of nodes required for a majority.
func (c *Config) Quorum() int { return len(c.Peers)/2 + 1 }

// Duration is a TOML wrapper type for time.Duration.
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText parses a TOML value into a duration value.
func (d *Duration) UnmarshalText(text []byte) error {
	// Ignore if there is no value set.
	if len(text) == 0 {
		return nil
	}

	// Otherwise parse as a duration formatted string.
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	// Set duration and return.
	*d = Duration(duration)
	return nil
}

// MarshalText converts a duration to a string for encoding toml
func (d Duration) MarshalText() (text []byte, err error) {
	return []byte(d.String()), nil
}
