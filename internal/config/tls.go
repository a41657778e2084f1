package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

var (
	ErrTLSRequired             = errors.New("config: tls required")
	ErrTLSCertFileRequired     = errors.New("config: tls cert file required")
	ErrTLSKeyFileRequired      = errors.New("config: tls key file required")
	ErrTLSCAFileRequired       = errors.New("config: tls ca file required")
	ErrTLSInsecureSkipNotAllow = errors.New("config: insecure skip verify not allowed with mutual tls")
)

// TLS secures the engine's TCP listener and the probe's connection to it.
// Stdin/stdout serving ignores it.
type TLS struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

func (t TLS) validate() error {
	if t.Mutual && !t.Enabled {
		return ErrTLSRequired
	}
	if t.Mutual && t.InsecureSkipVerify {
		return ErrTLSInsecureSkipNotAllow
	}
	return nil
}

func (t TLS) ValidateServer() error {
	if err := t.validate(); err != nil {
		return err
	}
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.CertFile) == "" {
		return ErrTLSCertFileRequired
	}
	if strings.TrimSpace(t.KeyFile) == "" {
		return ErrTLSKeyFileRequired
	}
	if t.Mutual && strings.TrimSpace(t.CAFile) == "" {
		return ErrTLSCAFileRequired
	}
	return nil
}

func (t TLS) ValidateClient() error {
	if err := t.validate(); err != nil {
		return err
	}
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.CAFile) == "" && !t.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if t.Mutual {
		if strings.TrimSpace(t.CertFile) == "" {
			return ErrTLSCertFileRequired
		}
		if strings.TrimSpace(t.KeyFile) == "" {
			return ErrTLSKeyFileRequired
		}
	}
	return nil
}

// ServerConfig builds the listener's TLS config, or nil when TLS is off.
func (t TLS) ServerConfig() (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}
	if err := t.ValidateServer(); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}
	if t.Mutual {
		pool, err := loadPool(t.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

// ClientConfig builds the dialer's TLS config for addr, or nil when TLS is off.
func (t TLS) ClientConfig(addr string) (*tls.Config, error) {
	if !t.Enabled {
		return nil, nil
	}
	if err := t.ValidateClient(); err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(t.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if strings.TrimSpace(t.CAFile) != "" {
		pool, err := loadPool(t.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if t.Mutual {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("config: parse tls ca bundle: %s", path)
	}
	return pool, nil
}
