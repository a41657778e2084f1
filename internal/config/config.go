package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/decompctl/internal/logging"
	"github.com/danmuck/decompctl/internal/protocol/session"
)

// Config is the decompctl process configuration. MetricsToken, when set, is
// required as a bearer token on /metrics.
type Config struct {
	LogLevel     string `toml:"log_level"`
	MetricsAddr  string `toml:"metrics_addr"`
	MetricsToken string `toml:"metrics_token"`
	ListenAddr   string `toml:"listen_addr"`
	FactsDB      string `toml:"facts_db"`
	Limits       Limits `toml:"limits"`
	TLS          TLS    `toml:"tls"`
}

// Limits bounds payloads read from the client.
type Limits struct {
	MaxStringBytes   int `toml:"max_string_bytes"`
	MaxDocumentBytes int `toml:"max_document_bytes"`
	MaxPackedBytes   int `toml:"max_packed_bytes"`
	MaxImageBytes    int `toml:"max_image_bytes"`
}

func Default() Config {
	d := session.DefaultConfig()
	return Config{
		LogLevel: "info",
		FactsDB:  "facts.db",
		Limits: Limits{
			MaxStringBytes:   d.MaxStringBytes,
			MaxDocumentBytes: d.MaxDocumentBytes,
			MaxPackedBytes:   d.MaxPackedBytes,
			MaxImageBytes:    d.MaxImageBytes,
		},
	}
}

// Load decodes path and applies every key it defines onto Default().
func Load(path string) (Config, error) {
	cfg := Default()

	var raw Config
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("metrics_token") {
		cfg.MetricsToken = strings.TrimSpace(raw.MetricsToken)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("facts_db") {
		cfg.FactsDB = strings.TrimSpace(raw.FactsDB)
	}
	if meta.IsDefined("limits", "max_string_bytes") {
		cfg.Limits.MaxStringBytes = raw.Limits.MaxStringBytes
	}
	if meta.IsDefined("limits", "max_document_bytes") {
		cfg.Limits.MaxDocumentBytes = raw.Limits.MaxDocumentBytes
	}
	if meta.IsDefined("limits", "max_packed_bytes") {
		cfg.Limits.MaxPackedBytes = raw.Limits.MaxPackedBytes
	}
	if meta.IsDefined("limits", "max_image_bytes") {
		cfg.Limits.MaxImageBytes = raw.Limits.MaxImageBytes
	}

	applyTLS(&cfg.TLS, raw.TLS, meta)

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func applyTLS(dst *TLS, raw TLS, meta toml.MetaData) {
	if meta.IsDefined("tls", "enabled") {
		dst.Enabled = raw.Enabled
	}
	if meta.IsDefined("tls", "mutual") {
		dst.Mutual = raw.Mutual
	}
	if meta.IsDefined("tls", "cert_file") {
		dst.CertFile = strings.TrimSpace(raw.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		dst.KeyFile = strings.TrimSpace(raw.KeyFile)
	}
	if meta.IsDefined("tls", "ca_file") {
		dst.CAFile = strings.TrimSpace(raw.CAFile)
	}
	if meta.IsDefined("tls", "server_name") {
		dst.ServerName = strings.TrimSpace(raw.ServerName)
	}
	if meta.IsDefined("tls", "insecure_skip_verify") {
		dst.InsecureSkipVerify = raw.InsecureSkipVerify
	}
}

func Validate(cfg Config) error {
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	for name, addr := range map[string]string{"metrics_addr": cfg.MetricsAddr, "listen_addr": cfg.ListenAddr} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%s %q: %w", name, addr, err)
		}
	}
	limits := map[string]int{
		"max_string_bytes":   cfg.Limits.MaxStringBytes,
		"max_document_bytes": cfg.Limits.MaxDocumentBytes,
		"max_packed_bytes":   cfg.Limits.MaxPackedBytes,
		"max_image_bytes":    cfg.Limits.MaxImageBytes,
	}
	for name, v := range limits {
		if v <= 0 {
			return fmt.Errorf("limits.%s must be positive, got %d", name, v)
		}
	}
	return cfg.TLS.validate()
}

// Session converts the limits into a session configuration.
func (c Config) Session() session.Config {
	return session.Config{
		MaxStringBytes:   c.Limits.MaxStringBytes,
		MaxDocumentBytes: c.Limits.MaxDocumentBytes,
		MaxPackedBytes:   c.Limits.MaxPackedBytes,
		MaxImageBytes:    c.Limits.MaxImageBytes,
	}
}
