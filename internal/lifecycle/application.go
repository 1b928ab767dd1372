// file: internal/lifecycle/application.go

// Package lifecycle runs an application until a shutdown signal and rebuilds
// it on SIGHUP.
package lifecycle

import "context"

// Application is a runnable service that can be rebuilt on reload.
type Application interface {
	// Run starts the application and blocks until ctx is cancelled or a
	// fatal error occurs. Normal shutdown returns nil.
	Run(ctx context.Context) error

	// Close releases every resource: route subscriptions, the bus, the
	// filter cache janitor, the metrics server and the NATS connection.
	// It must be safe to call more than once.
	Close() error
}

// Factory builds a fresh application. It is called on startup and on every
// reload, so it should re-read configuration.
type Factory func() (Application, error)
