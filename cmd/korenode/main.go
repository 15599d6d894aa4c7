// Command korenode is the node's thin host binary: flag parsing, config
// load, logging setup, and signal handling around the node package. It
// follows the flag.String for -config, logging.Setup,
// signal.NotifyContext for graceful shutdown shape, kept minimal since
// CLI/config-loading/logging glue is not a core concern.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"kore/config"
	"kore/identity"
	"kore/network"
	"kore/node"
	"kore/observability/logging"
	"kore/storage"
)

func main() {
	configPath := flag.String("config", "./korenode.toml", "path to the node's configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("KORE_ENV"))
	logger := logging.Setup("korenode", env)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.OpenLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.String("data_dir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	n, err := node.New(cfg, db, network.NewLoopback(), identity.DigestBlake3_256, logger)
	if err != nil {
		logger.Error("failed to wire node", slog.Any("error", err))
		os.Exit(1)
	}
	defer n.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(fmt.Sprintf("korenode listening on %s", cfg.ListenAddress))
	n.Run(ctx)
}
