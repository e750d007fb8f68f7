package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext returns a context that is cancelled on SIGTERM or SIGINT.
// onSignal, when set, runs before cancellation. A second signal exits the
// process immediately.
func SignalContext(parent context.Context, onSignal func(os.Signal)) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			slog.Info("Received signal, shutting down", slog.String("signal", sig.String()))
			if onSignal != nil {
				onSignal(sig)
			}
			cancel()
		}

		select {
		case <-parent.Done():
		case sig := <-sigCh:
			slog.Error("Received second signal, forcing exit", slog.String("signal", sig.String()))
			os.Exit(1)
		}
	}()

	return ctx, cancel
}
