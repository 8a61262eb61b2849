// Package tls configures HTTPS for the agentsync daemon.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	caFile   = "ca.crt"
	certFile = "server.crt"
	keyFile  = "server.key"
)

// Config is the [server.tls] section.
type Config struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile string `toml:"cert_file,omitempty" mapstructure:"cert_file"`
	KeyFile  string `toml:"key_file,omitempty" mapstructure:"key_file"`
	// Dir holds server.crt/server.key; with AutoGenerate a self-signed
	// pair is written there when missing.
	Dir          string   `toml:"dir,omitempty" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	Hosts        []string `toml:"hosts,omitempty" mapstructure:"hosts"`
	ValidDays    int      `toml:"valid_days,omitempty" mapstructure:"valid_days"`
	MinVersion   string   `toml:"min_version,omitempty" mapstructure:"min_version"` // "1.2" or "1.3"
}

// Validate reports configuration errors by key.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, ok := parseVersion(c.MinVersion); !ok {
		return fmt.Errorf("server.tls.min_version must be 1.2 or 1.3, got %q", c.MinVersion)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("server.tls.cert_file and server.tls.key_file must be set together")
	}
	if c.CertFile == "" && c.Dir == "" {
		return errors.New("server.tls needs cert_file/key_file or dir")
	}
	return nil
}

func parseVersion(v string) (uint16, bool) {
	switch strings.TrimPrefix(strings.ToLower(v), "tls") {
	case "", "default", "1.3":
		return tls.VersionTLS13, true
	case "1.2":
		return tls.VersionTLS12, true
	}
	return 0, false
}

// Setup returns the server TLS configuration, or nil when TLS is disabled.
// Certificates are re-read on each handshake so rotated files take effect.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	minVer, _ := parseVersion(c.MinVersion)

	cert, key := c.CertFile, c.KeyFile
	if cert == "" {
		cert = filepath.Join(c.Dir, certFile)
		key = filepath.Join(c.Dir, keyFile)
		if c.AutoGenerate && !exists(cert, key) {
			if err := GenerateSelfSigned(c.Dir, c.Hosts, c.ValidDays); err != nil {
				return nil, fmt.Errorf("generate certificate: %w", err)
			}
		}
	}
	if !exists(cert, key) {
		return nil, fmt.Errorf("certificate %s or key %s not found", cert, key)
	}
	// #nosec G402 min version is configurable down to 1.2 only
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			pair, err := tls.LoadX509KeyPair(cert, key)
			if err != nil {
				return nil, err
			}
			return &pair, nil
		},
	}, nil
}

// CAPath is where GenerateSelfSigned writes the certificate for clients to trust.
func CAPath(dir string) string { return filepath.Join(dir, caFile) }

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
