// Command derpd is one rank's standalone process: it loads the static
// topology/address document, stands up this rank's exec.Engine, and
// serves both the inter-rank overlay transport
// (internal/transport/httpjson.go) and the operator-facing control API
// (internal/controlapi) on one HTTP listener.
//
// Grounded on the teacher's internal/cli.go run command (BuildCLI,
// buildRunCommand, runControllerNode's metrics-server-in-a-goroutine
// and SIGINT/SIGTERM graceful shutdown shape) and cmd/queue/main.go's
// panic-recovery-then-Execute top level.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oakbroker/derp/internal/config"
	"github.com/oakbroker/derp/internal/controlapi"
	"github.com/oakbroker/derp/internal/eventlog"
	"github.com/oakbroker/derp/internal/exec"
	"github.com/oakbroker/derp/internal/metrics"
	"github.com/oakbroker/derp/internal/peer"
	"github.com/oakbroker/derp/internal/transport"
	"github.com/oakbroker/derp/pkg/types"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := buildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func buildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:     "derpd",
		Short:   "derpd runs one rank of the tree-overlay job launcher",
		Version: "0.1.0",
	}
	root.AddCommand(buildRunCommand())
	return root
}

func buildRunCommand() *cobra.Command {
	var configPath string
	var rank uint32
	var shellPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start this rank's engine and serve it until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(types.Rank(rank), configPath, shellPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "topology", "t", "derp.yaml", "topology/address document path")
	cmd.Flags().Uint32Var(&rank, "rank", 0, "this process's rank")
	cmd.Flags().StringVar(&shellPath, "shell", "/bin/true", "local shell executable launched per job")
	return cmd
}

func run(rank types.Rank, configPath, shellPath string) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	doc, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("derpd: %w", err)
	}
	topo, err := doc.BuildTopology()
	if err != nil {
		return fmt.Errorf("derpd: %w", err)
	}
	listenAddr, ok := doc.ListenAddress(rank)
	if !ok {
		return fmt.Errorf("derpd: no listen address configured for rank %d", rank)
	}

	isRoot := topo.IsRoot(rank)
	parent, hasParent := topo.Parent(rank)

	var children []*peer.Child
	for _, c := range topo.Children(rank) {
		children = append(children, &peer.Child{
			Rank:      c.Rank,
			Subtree:   topo.Subtree(c.Rank),
			Connected: false,
		})
	}
	peers := peer.New(children)

	httpTransport := transport.NewHTTPTransport(rank, parent, hasParent, doc.Addresses())
	var handle transport.Handle
	if hasParent {
		handle = httpTransport
	}

	var collector *metrics.Collector
	if doc.Metrics.Enabled {
		collector = metrics.NewCollector()
		go func() {
			log.Info("starting metrics server", "port", doc.Metrics.Port)
			if err := metrics.StartServer(doc.Metrics.Port); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	maxBatch := doc.Eventlog.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1
	}
	evlog := eventlog.New(maxBatch)

	engine := exec.NewEngine(exec.Config{
		Log:       log,
		Rank:      rank,
		IsRoot:    isRoot,
		Subtree:   topo.Subtree(rank),
		ShellPath: shellPath,
		Peers:     peers,
		Sink:      httpTransport,
		Handle:    handle,
		Metrics:   collector,
		Eventlog:  evlog,
	})

	mux := http.NewServeMux()
	overlay := transport.NewServer(stripScheme(listenAddr), mux, httpTransport, func(typ string, data any) {
		engine.Enqueue(func() { engine.Router().Dispatch(typ, data) })
	}, engine.Connect, engine.Disconnect)
	controlapi.NewServer(mux, rank, engine, peers, engine.Jobs())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	if hasParent {
		attached := make(chan error, 1)
		engine.Enqueue(func() { attached <- engine.Attach(ctx) })
		if err := <-attached; err != nil {
			return fmt.Errorf("derpd: attach to parent: %w", err)
		}
	}

	go func() {
		log.Info("listening", "rank", rank, "addr", listenAddr)
		if err := overlay.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("received shutdown signal, stopping gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := overlay.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	return nil
}

func stripScheme(addr string) string {
	for _, prefix := range []string{"http://", "https://"} {
		if len(addr) > len(prefix) && addr[:len(prefix)] == prefix {
			addr = addr[len(prefix):]
		}
	}
	return addr
}
