// Command raftd runs a single consensus node with a replicated key/value
// store attached, exposing the raft RPC endpoints, a small KV API, and
// prometheus metrics over one HTTP listener.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cascadedb/raft"
	"github.com/cascadedb/raft/kv"
	"github.com/cascadedb/raft/logstore"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:          "raftd",
		Short:        "Replicated key/value consensus node",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "raftd.toml", "path to configuration file")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	config, err := ParseConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("parse config: %s", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("validate config: %s", err)
	}

	log := config.Logging.New(os.Stderr)
	defer func() { _ = log.Sync() }()

	// Open the durable log store.
	store := logstore.NewFileStore()
	if err := store.Open(config.Meta.Dir); err != nil {
		return fmt.Errorf("open log store: %s", err)
	}
	defer func() { _ = store.Close() }()

	// Wire the consensus node to its collaborators.
	fsm := kv.NewStore()
	node := raft.NewNode(config.Cluster)
	node.Store = store
	node.FSM = fsm
	node.Transport = &raft.HTTPTransport{}
	node.WithLogger(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(node.Metrics().PrometheusCollectors()...)

	if err := node.Open(); err != nil {
		return fmt.Errorf("open node: %s", err)
	}
	defer func() { _ = node.Close() }()

	mux := http.NewServeMux()
	mux.Handle("/raft/", raft.NewHTTPHandler(node))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	h := &kvHandler{node: node, fsm: fsm, config: config, logger: log}
	mux.HandleFunc("/kv/", h.serveKV)
	mux.HandleFunc("/status", h.serveStatus)

	srv := &http.Server{Addr: config.HTTP.BindAddress, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", config.HTTP.BindAddress))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
