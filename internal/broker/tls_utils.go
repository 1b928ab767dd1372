//file: internal/broker/tls_utils.go

package broker

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"filter-router/config"
	"filter-router/internal/logger"
)

// CreateTLSConfig builds a *tls.Config for the NATS connection. It returns
// nil when TLS is disabled.
func CreateTLSConfig(cfg config.TLSConfig, logger *logger.Logger) (*tls.Config, error) {
	if !cfg.Enable {
		return nil, nil
	}

	logger.Info("enabling TLS for NATS connection", "insecure", cfg.Insecure)

	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.Insecure,
		MinVersion:         tls.VersionTLS12,
	}

	// Load client certificates if provided
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load NATS TLS client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
		logger.Info("loaded TLS client certificate", "certFile", cfg.CertFile)
	}

	// Load CA certificate if provided
	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read NATS CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse NATS CA certificate %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = caCertPool
		logger.Info("loaded TLS CA certificate", "caFile", cfg.CAFile)
	}

	return tlsConfig, nil
}
