package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rjacobs/nestautohumidity/pkg/log"
	"github.com/rjacobs/nestautohumidity/pkg/nest"
	"github.com/rjacobs/nestautohumidity/pkg/server"
	"github.com/rjacobs/nestautohumidity/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// .env is optional and never overrides the real environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	// init packages
	n := nest.Configured()
	s := storage.Configured()

	// init server
	srv := server.Configured(n, s)

	mode := lflag.String("mode", "server", "What to run (available: server, poll, info)")

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LevelFromLLog(llog.GetLevel())
	if err != nil {
		panic(err)
	}
	log.Configure(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	switch *mode {
	case "server":
		// Run will block until context is canceled or error happens
		if err := srv.Run(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
			cancel()
			os.Exit(1)
		}
		log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
	case "poll", "info":
		if err := srv.RunOnce(ctx, *mode, os.Stdout); err != nil {
			var ce *nest.ConnectError
			if errors.As(err, &ce) {
				fmt.Fprintln(os.Stderr, "Could not connect to Nest. Check the credentials in the settings.")
			}
			log.Ctx(ctx).ErrorContext(ctx, "cycle failed", slog.String("mode", *mode), slog.Any("error", err))
			cancel()
			os.Exit(1)
		}
	default:
		log.Ctx(ctx).ErrorContext(ctx, "unknown mode", slog.String("mode", *mode))
		cancel()
		os.Exit(1)
	}
}
