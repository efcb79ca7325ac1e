package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/invigil/internal/config"
)

const (
	certName = "tls.crt"
	keyName  = "tls.key"

	defaultValidity = 365 * 24 * time.Hour
)

func parseVersion(ver string) uint16 {
	switch ver {
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS13
	}
}

// Setup builds the server TLS config, or returns nil when TLS is disabled.
// Explicit cert/key files win over Dir. Certificates are re-read on each
// handshake so rotated files are picked up without restarting.
func Setup(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	if certPath == "" || keyPath == "" {
		if cfg.Dir == "" {
			return nil, errors.New("TLS enabled but no certificate configured")
		}
		certPath = filepath.Join(cfg.Dir, certName)
		keyPath = filepath.Join(cfg.Dir, keyName)
		if cfg.AutoGenerate && !exists(certPath, keyPath) {
			if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
				return nil, fmt.Errorf("create tls dir: %w", err)
			}
			err := GenerateSelfSigned(CertConfig{
				CommonName: "localhost",
				DNSNames:   []string{"localhost"},
				IPs:        []string{"127.0.0.1", "::1"},
				NotAfter:   time.Now().Add(defaultValidity),
				CertPath:   certPath,
				KeyPath:    keyPath,
			})
			if err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	if !exists(certPath, keyPath) {
		return nil, fmt.Errorf("certificate %s or key %s not found", certPath, keyPath)
	}
	minVer := parseVersion(cfg.MinVersion)
	// #nosec G402 minimum version is configurable down to 1.2
	return &tls.Config{
		MinVersion:     minVer,
		GetCertificate: loader(certPath, keyPath),
	}, nil
}

func loader(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := tls.LoadX509KeyPair(filepath.Clean(certPath), filepath.Clean(keyPath))
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
