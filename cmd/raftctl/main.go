// Command raftctl is a small client for raftd's HTTP API.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var addr string

func main() {
	root := &cobra.Command{
		Use:          "raftctl",
		Short:        "Client for the raftd key/value API",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:7070", "base URL of a raftd node")

	root.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the node's consensus state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return get("/status")
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Read a key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return get("/kv/" + args[0])
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Write a key through consensus",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return send(http.MethodPut, "/kv/"+args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "del <key>",
			Short: "Delete a key through consensus",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return send(http.MethodDelete, "/kv/"+args[0], "")
			},
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func get(path string) error {
	resp, err := http.Get(addr + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return report(resp)
}

func send(method, path, body string) error {
	req, err := http.NewRequest(method, addr+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return report(resp)
}

func report(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusServiceUnavailable {
		if u := resp.Header.Get("X-Raft-Leader-URL"); u != "" {
			return fmt.Errorf("not leader; retry against %s", u)
		}
		return fmt.Errorf("not leader; no leader known yet")
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	if len(b) > 0 {
		fmt.Println(strings.TrimSpace(string(b)))
	}
	return nil
}
