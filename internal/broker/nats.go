//file: internal/broker/nats.go

package broker

import (
	"fmt"
	"os"
	"strings"

	"filter-router/config"
	"filter-router/internal/logger"
	"filter-router/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
)

// NewNATSConnection connects to the configured NATS servers. Connection state
// changes are logged and reflected in metrics (m may be nil).
func NewNATSConnection(cfg *config.NATSConfig, log *logger.Logger, m *metrics.Metrics) (*nats.Conn, error) {
	log.Info("establishing NATS connection", "urls", cfg.URLs)

	opts, err := buildNATSOptions(cfg, log, m)
	if err != nil {
		return nil, fmt.Errorf("failed to build NATS options: %w", err)
	}

	nc, err := nats.Connect(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if m != nil {
		m.SetNATSConnectionStatus(true)
	}
	log.Info("NATS connection established", "connectedURL", nc.ConnectedUrl())
	return nc, nil
}

// buildNATSOptions creates NATS connection options with authentication and TLS
func buildNATSOptions(cfg *config.NATSConfig, log *logger.Logger, m *metrics.Metrics) ([]nats.Option, error) {
	var opts []nats.Option

	opts = append(opts,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.Connection.MaxReconnects),
		nats.ReconnectWait(cfg.Connection.ReconnectWait),
		nats.ReconnectBufSize(cfg.Connection.ReconnectBufSize),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
			if m != nil {
				m.SetNATSConnectionStatus(false)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
			if m != nil {
				m.IncNATSReconnects()
				m.SetNATSConnectionStatus(true)
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed", "lastError", nc.LastError())
			if m != nil {
				m.SetNATSConnectionStatus(false)
			}
		}),
	)

	// Authentication (choose one method)
	if cfg.CredsFile != "" {
		log.Info("using NATS creds file authentication", "credsFile", cfg.CredsFile)
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	} else if cfg.NKeySeed != "" {
		opt, err := nkeyOption(cfg.NKeySeed)
		if err != nil {
			return nil, err
		}
		log.Info("using NATS NKey authentication")
		opts = append(opts, opt)
	} else if cfg.Token != "" {
		log.Info("using NATS token authentication")
		opts = append(opts, nats.Token(cfg.Token))
	} else if cfg.Username != "" {
		log.Info("using NATS username/password authentication", "username", cfg.Username)
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	tlsConfig, err := CreateTLSConfig(cfg.TLS, log)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, nats.Secure(tlsConfig))
	}

	return opts, nil
}

// nkeyOption signs the server nonce with a user seed. seed is either the
// seed itself (SU...) or a path to a file holding it.
func nkeyOption(seed string) (nats.Option, error) {
	raw := []byte(strings.TrimSpace(seed))
	if !strings.HasPrefix(string(raw), "S") {
		data, err := os.ReadFile(seed)
		if err != nil {
			return nil, fmt.Errorf("failed to read NKey seed file: %w", err)
		}
		raw = []byte(strings.TrimSpace(string(data)))
	}

	kp, err := nkeys.FromSeed(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid NKey seed: %w", err)
	}
	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive NKey public key: %w", err)
	}
	return nats.Nkey(pub, kp.Sign), nil
}
