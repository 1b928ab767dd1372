// file: internal/lifecycle/lifecycle.go

package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filter-router/internal/logger"
)

// Signals are the channels RunWithSignals reacts to
type Signals struct {
	Shutdown <-chan os.Signal
	Reload   <-chan os.Signal
}

// RunWithReload runs the application built by createApp, closing it on
// SIGINT/SIGTERM and rebuilding it on SIGHUP. A failed rebuild ends the
// process.
func RunWithReload(createApp Factory, log *logger.Logger) error {
	shutdownSig := make(chan os.Signal, 1)
	reloadSig := make(chan os.Signal, 1)
	signal.Notify(shutdownSig, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadSig, syscall.SIGHUP)
	defer signal.Stop(shutdownSig)
	defer signal.Stop(reloadSig)

	return RunWithSignals(createApp, Signals{Shutdown: shutdownSig, Reload: reloadSig}, log)
}

// RunWithSignals is RunWithReload with caller supplied signal channels
func RunWithSignals(createApp Factory, sigs Signals, log *logger.Logger) error {
	reloadCount := 0

	for {
		if reloadCount > 0 {
			log.Info("initiating application reload", "reloadCount", reloadCount)
		}

		startTime := time.Now()
		application, err := createApp()
		if err != nil {
			if reloadCount > 0 {
				log.Error("FATAL: failed to reload application",
					"reloadCount", reloadCount,
					"error", err)
				log.Info("process will exit - fix the error and restart")
			}
			return fmt.Errorf("failed to create application: %w", err)
		}

		if reloadCount > 0 {
			log.Info("application reload completed successfully",
				"reloadCount", reloadCount,
				"duration", time.Since(startTime))
		}

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			errCh <- application.Run(ctx)
		}()

		var shouldReload, finished bool
		var runErr error

		select {
		case sig := <-sigs.Shutdown:
			log.Info("shutdown signal received - initiating graceful shutdown", "signal", sig)

		case <-sigs.Reload:
			log.Info("SIGHUP received - initiating reload")
			shouldReload = true
			reloadCount++

		case runErr = <-errCh:
			finished = true
			if runErr != nil {
				log.Error("application stopped with error",
					"error", runErr,
					"reloadCount", reloadCount)
			}
		}

		cancel()
		if !finished {
			<-errCh
		}

		log.Info("closing application")
		closeStart := time.Now()
		if closeErr := application.Close(); closeErr != nil {
			log.Error("error during application close",
				"error", closeErr,
				"duration", time.Since(closeStart))
		} else {
			log.Info("application closed successfully", "duration", time.Since(closeStart))
		}

		if !shouldReload {
			log.Info("shutdown complete")
			return runErr
		}
	}
}
