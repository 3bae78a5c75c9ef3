package main

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"padington/internal/folder"
)

// TLSConfig controls whether the server serves HTTPS/WSS at all, and if
// so, where its certificate chain and private key come from. Enabled
// false serves plain HTTP/WS; Enabled true with CertFile/KeyFile empty
// falls back to a self-signed certificate.
type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// Config is the top-level shape of the TOML configuration file.
type Config struct {
	Addr           string         `toml:"addr"`
	MetricsAddr    string         `toml:"metrics_addr"`
	DefaultSaveDir string         `toml:"default_save_dir"`
	TLS            TLSConfig      `toml:"tls"`
	Folder         *folder.Folder `toml:"folder"`
}

// defaultAddr is bound when neither a config file nor -port/-p is given.
const defaultAddr = "127.0.0.1:9002"

// LoadConfig reads and parses a TOML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.DefaultSaveDir == "" {
		cfg.DefaultSaveDir = "."
	}
	return cfg, nil
}

// Setup is the fully-resolved startup configuration, merging an
// optional TOML file with CLI flag overrides.
type Setup struct {
	Addr           string
	MetricsAddr    string
	DefaultSaveDir string
	TLS            TLSConfig
	Folder         *folder.Folder
}

// ResolveSetup merges a CLI invocation's flags with an optional parsed
// Config. A --port/-p flag only applies when no config file was given;
// the config file's addr always wins when both are present.
func ResolveSetup(cfg *Config, port string) Setup {
	if cfg != nil {
		s := Setup{
			Addr:           cfg.Addr,
			MetricsAddr:    cfg.MetricsAddr,
			DefaultSaveDir: cfg.DefaultSaveDir,
			TLS:            cfg.TLS,
			Folder:         cfg.Folder,
		}
		if s.Addr == "" {
			s.Addr = defaultAddr
		}
		if s.Folder == nil {
			s.Folder = &folder.Folder{SaveDir: s.DefaultSaveDir}
		}
		return s
	}

	addr := defaultAddr
	if port != "" {
		addr = "127.0.0.1:" + port
	}
	return Setup{
		Addr:           addr,
		DefaultSaveDir: ".",
		Folder:         &folder.Folder{SaveDir: "."},
	}
}
