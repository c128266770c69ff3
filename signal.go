package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// errInterrupted is the cancellation cause after SIGINT/SIGTERM. Commands
// check it with context.Cause to tell an interrupt from a failure.
var errInterrupted = errors.New("interrupted")

// shutdownContext returns a context canceled with errInterrupted on the first
// SIGINT/SIGTERM, and force-exits on the second. Canceling stops chunk
// uploads at the next request boundary, so a file is never left half sent
// by a request that was cut off mid-body.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Warn("interrupt received, canceling remaining uploads and requests; signal again to force exit",
				slog.String("signal", sig.String()),
			)
			cancel(errInterrupted)
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("second interrupt, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
