//file: cmd/filter-router/main.go

package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"filter-router/config"
	"filter-router/internal/app"
	"filter-router/internal/lifecycle"
	"filter-router/internal/logger"

	"github.com/spf13/pflag"
)

type options struct {
	configPath      string
	busMode         string
	logLevel        string
	metricsAddr     string
	metricsPath     string
	metricsInterval time.Duration
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	opts := parseFlags()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	appLogger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	// The config file is re-read on every reload so SIGHUP picks up route changes
	first := true
	createApp := func() (lifecycle.Application, error) {
		if !first {
			if cfg, err = loadConfig(opts); err != nil {
				return nil, err
			}
		}
		first = false
		return app.NewRouterApp(cfg)
	}

	return lifecycle.RunWithReload(createApp, appLogger)
}

// parseFlags parses command line arguments
func parseFlags() options {
	var opts options
	fs := pflag.NewFlagSet("filter-router", pflag.ExitOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "config/config.yaml", "path to config file (YAML or JSON)")
	fs.StringVar(&opts.busMode, "bus", "", "override bus mode: memory, core, jetstream (empty = use config)")
	fs.StringVar(&opts.logLevel, "log-level", "", "override log level (empty = use config)")

	// Metrics overrides
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "override metrics server address (empty = use config)")
	fs.StringVar(&opts.metricsPath, "metrics-path", "", "override metrics endpoint path (empty = use config)")
	fs.DurationVar(&opts.metricsInterval, "metrics-interval", 0, "override metrics collection interval (0 = use config)")

	_ = fs.Parse(os.Args[1:])
	return opts
}

func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.ApplyOverrides(opts.busMode, opts.logLevel, opts.metricsAddr, opts.metricsPath, opts.metricsInterval)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after overrides: %w", err)
	}
	return cfg, nil
}
