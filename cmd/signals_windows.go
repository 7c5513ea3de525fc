//go:build windows

package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/isofetch/internal/transfer"
)

func handleSignals(parent context.Context, signals *transfer.Signals) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				if signals.Cancelled() {
					os.Exit(130)
				}
				log.Warn().Str("op", "cmd/signals").Msg("Cancelling downloads")
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
