// Command example demonstrates the storekit primitives working together: a
// ttlstore.Store holds short-lived sessions and, as they expire, their keys
// are handed to cleanup workers through a blockingqueue.Queue.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/italypaleale/storekit/blockingqueue"
	"github.com/italypaleale/storekit/ttlstore"
)

type session struct {
	User     string
	LoggedInAt time.Time
}

func main() {
	log := newLogger()

	store := ttlstore.New[string, session](&ttlstore.StoreOptions{
		MaxLifetime: 10 * time.Second,
	})
	defer store.Stop()

	cleanup := blockingqueue.New[string](nil)

	store.SetExpirationHandler(func(key string, s session) {
		log.Info("session expired",
			slog.String("key", key),
			slog.String("user", s.User),
		)
		cleanup.Enqueue(key)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cleanup workers block on the queue until an expired session arrives
	eg, ctx := errgroup.WithContext(ctx)
	for i := range 2 {
		eg.Go(func() error {
			for {
				key, ok := cleanup.Dequeue(ctx)
				if !ok {
					return ctx.Err()
				}
				log.Info("cleaned up after session",
					slog.String("key", key),
					slog.Int("worker", i),
				)
			}
		})
	}

	store.Insert("sess-1", session{User: "alice", LoggedInAt: time.Now()}, time.Second)
	store.Insert("sess-2", session{User: "bob", LoggedInAt: time.Now()}, 2*time.Second)
	store.Insert("sess-3", session{User: "carol", LoggedInAt: time.Now()}, 3*time.Second)

	for key, s := range store.All() {
		log.Info("active session", slog.String("key", key), slog.String("user", s.User))
	}

	// Re-inserting replaces the deadline, keeping alice around past the
	// original 1s
	time.Sleep(500 * time.Millisecond)
	store.Insert("sess-1", session{User: "alice", LoggedInAt: time.Now()}, 2*time.Second)
	log.Info("extended session", slog.String("key", "sess-1"))

	// Taking a session removes it without firing the expiration handler
	time.Sleep(500 * time.Millisecond)
	if s, ok := store.Take("sess-2"); ok {
		log.Info("session logged out", slog.String("key", "sess-2"), slog.String("user", s.User))
		cleanup.Enqueue("sess-2")
	}

	// Wait for the remaining sessions to expire, then let the workers drain
	// the queue
	for store.Len() > 0 {
		time.Sleep(100 * time.Millisecond)
	}
	for cleanup.Len() > 0 {
		time.Sleep(100 * time.Millisecond)
	}

	cancel()
	err := eg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker failed", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("done")
}

func newLogger() *slog.Logger {
	level := parseLogLevel(os.Getenv("LOG_LEVEL"))

	// Create the handler
	var handler slog.Handler
	switch {
	case os.Getenv("LOG_JSON") == "1":
		// Log as JSON if configured
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	case isatty.IsTerminal(os.Stdout.Fd()):
		// Enable colors if we have a TTY
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.StampMilli,
		})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler).
		With(slog.String("app", "storekit-example"))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
