//go:build !windows

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/isofetch/internal/transfer"
)

// handleSignals maps SIGINT and SIGTERM to cancel and SIGUSR1 to a pause
// toggle. Cancelling also cancels the returned context so blocked reads
// unwind; a second cancel signal exits immediately.
func handleSignals(parent context.Context, signals *transfer.Signals) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				if sig == syscall.SIGUSR1 {
					paused := signals.TogglePause()
					log.Info().Str("op", "cmd/signals").Bool("paused", paused).Msg("Pause toggled")
					continue
				}
				if signals.Cancelled() {
					log.Warn().Str("op", "cmd/signals").Msg("Forced exit")
					os.Exit(130)
				}
				log.Warn().Str("op", "cmd/signals").Str("signal", sig.String()).Msg("Cancelling downloads")
				signals.Cancel()
				cancel()
			case <-done:
				return
			}
		}
	}()
	return ctx, func() {
		signal.Stop(ch)
		close(done)
		cancel()
	}
}
