// Command kermad is the node entrypoint: it loads Config from the
// environment, opens the ObjectStore, loads the Peers table, and runs
// Node until interrupted.
//
// Grounded on cmd/kcn/main.go's urfave/cli App skeleton and
// cmd/utils/cmd.go's Fatalf/signal-handling convention (SIGINT/SIGTERM via
// os/signal, a second interrupt logged rather than silently repeated).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli"

	"github.com/paulsattlegger/kermapy/internal/config"
	"github.com/paulsattlegger/kermapy/internal/klog"
	"github.com/paulsattlegger/kermapy/internal/node"
	"github.com/paulsattlegger/kermapy/internal/peers"
	"github.com/paulsattlegger/kermapy/internal/store"
)

var log = klog.NewModuleLogger(klog.ComponentNode)

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "kermad"
	app.Usage = "the kermapy node daemon"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "listen", Usage: "overlay LISTEN_ADDR, e.g. 0.0.0.0:18018"},
		cli.StringFlag{Name: "storage", Usage: "overlay STORAGE_PATH"},
		cli.StringFlag{Name: "bootstrap", Usage: "overlay BOOTSTRAP_NODES, comma-separated host:port list"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fatalf("%v", err)
	}
}

// overlayFlags applies any of --listen/--storage/--bootstrap the operator
// passed on top of cfg, which was already loaded from the environment.
func overlayFlags(cfg *config.Config, c *cli.Context) {
	if v := c.String("listen"); v != "" {
		cfg.ListenAddr = v
	}
	if v := c.String("storage"); v != "" {
		cfg.StoragePath = v
	}
	if v := c.String("bootstrap"); v != "" {
		cfg.BootstrapNodes = splitAndTrim(v)
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func run(c *cli.Context) error {
	cfg := config.Load()
	overlayFlags(cfg, c)

	objectStore, err := store.Open(cfg.StoragePath, cfg.StorageEngine)
	if err != nil {
		return fmt.Errorf("kermad: opening store: %w", err)
	}
	if err := objectStore.EnsureGenesis(); err != nil {
		_ = objectStore.Close()
		return fmt.Errorf("kermad: storing genesis: %w", err)
	}

	peerTable, err := peers.Load(cfg.StoragePath, cfg.BootstrapNodes)
	if err != nil {
		_ = objectStore.Close()
		return fmt.Errorf("kermad: loading peers: %w", err)
	}

	n, err := node.New(cfg, objectStore, peerTable)
	if err != nil {
		_ = objectStore.Close()
		return fmt.Errorf("kermad: constructing node: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		log.Info("got interrupt, shutting down")
		cancel()
		for range sigc {
			log.Warn("already shutting down, ignoring interrupt")
		}
	}()

	runErr := n.Run(ctx)
	if closeErr := n.Close(); closeErr != nil {
		log.Error("store close failed", "err", closeErr)
	}
	return runErr
}
