package commands

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/sealad886/librarian/internal/embed"
	"github.com/sealad886/librarian/internal/logging"
	"github.com/sealad886/librarian/internal/store"
	"github.com/sealad886/librarian/internal/vector"
)

// signalContext returns a context cancelled on SIGINT/SIGTERM, so every
// long-running command shuts down cleanly: in-flight work is aborted and the
// run is closed with Cancelled status.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// openStack opens the metadata store, vector store, and embedding client
// from the loaded configuration. The embedder is probed so dimension or
// strategy misconfiguration fails before any ingestion work starts. The
// returned closer releases both store handles.
func openStack(ctx context.Context, log *slog.Logger) (*store.Store, vector.Store, *embed.Client, func(), error) {
	noop := func() {}

	meta, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, nil, noop, err
	}

	vectors, err := vector.NewQdrantStore(&cfg.Qdrant)
	if err != nil {
		_ = meta.Close()
		return nil, nil, nil, noop, err
	}

	embedder := embed.New(&cfg.Embedding, cfg.EmbedTimeout())
	if err := embedder.Init(ctx, cfg.Crawl.Multimodal.Enabled); err != nil {
		_ = meta.Close()
		_ = vectors.Close()
		return nil, nil, nil, noop, err
	}

	if err := vectors.EnsureCollection(ctx, embedder.Dimension()); err != nil {
		_ = meta.Close()
		_ = vectors.Close()
		return nil, nil, nil, noop, err
	}

	log.Debug("stack ready",
		slog.String("db", cfg.Storage.DBPath),
		slog.String("collection", cfg.Qdrant.Collection),
		slog.String("model", embedder.Model()),
		slog.Int("dimension", embedder.Dimension()),
	)

	closer := func() {
		_ = vectors.Close()
		_ = meta.Close()
	}
	return meta, vectors, embedder, closer, nil
}

// isInteractive reports whether stdin is a terminal. Piped and scripted
// invocations must never block on a prompt.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// confirm asks a yes/no question on the terminal.
func confirm(prompt string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// commandContext builds the cancellable, logger-carrying context every
// subcommand runs under.
func commandContext(parent context.Context) (context.Context, context.CancelFunc, *slog.Logger) {
	log := logging.New()
	ctx, cancel := signalContext(parent)
	return logging.WithLogger(ctx, log), cancel, log
}
