// Package config loads the per-profile daemon configuration.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/rexliu/acrpc/pkg/client"
	"github.com/rexliu/acrpc/pkg/idp"
	"github.com/rexliu/acrpc/pkg/relay"
)

// FileName is the config file inside a profile directory.
const FileName = "config.toml"

// Duration is a time.Duration written as a string such as "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "parse duration %q", text)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ServerConfig locates the chooser pages.
type ServerConfig struct {
	Domain       string `toml:"domain"`
	IFramePath   string `toml:"iframePath"`
	PopupPath    string `toml:"popupPath"`
	RedirectPath string `toml:"redirectPath"`
	PopupWidth   int    `toml:"popupWidth"`
	PopupHeight  int    `toml:"popupHeight"`
}

// Spec returns the chooser location as the client sees it.
func (s ServerConfig) Spec() client.ServerSpec {
	return client.ServerSpec{
		Domain:   s.Domain,
		IFrame:   s.IFramePath,
		Popup:    s.PopupPath,
		Redirect: s.RedirectPath,
	}
}

// RelayConfig tunes the relay store.
type RelayConfig struct {
	Expiry Duration `toml:"expiry"`
}

// IDPConfig lists identity providers consulted by an empty chooser.
type IDPConfig struct {
	Endpoints     []string `toml:"endpoints"`
	Timeout       Duration `toml:"timeout"`
	AllowNonHTTPS bool     `toml:"allowNonHTTPS"`
}

// BootstrapConfig lists origins allowed to store accounts silently.
type BootstrapConfig struct {
	Domains []string `toml:"domains"`
}

// StorageConfig defines SQLite tuning options.
type StorageConfig struct {
	DBPath      string `toml:"dbPath"`
	JournalMode string `toml:"journalMode"`
	Synchronous string `toml:"synchronous"`
}

// IPCConfig defines the control socket.
type IPCConfig struct {
	SocketPath string `toml:"socketPath"`
}

// HTTPConfig enables the message endpoint when ListenAddr is set.
type HTTPConfig struct {
	ListenAddr     string   `toml:"listenAddr"`
	AllowedOrigins []string `toml:"allowedOrigins"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	FilePath    string `toml:"filePath"`
	FileMaxSize int    `toml:"fileMaxSizeMB"`
	FileBackups int    `toml:"fileMaxBackups"`
}

// ProfileConfig aggregates service configuration for a profile.
type ProfileConfig struct {
	ProfileName string          `toml:"profileName"`
	Server      ServerConfig    `toml:"server"`
	Relay       RelayConfig     `toml:"relay"`
	IDP         IDPConfig       `toml:"idp"`
	Bootstrap   BootstrapConfig `toml:"bootstrap"`
	Storage     StorageConfig   `toml:"storage"`
	IPC         IPCConfig       `toml:"ipc"`
	HTTP        HTTPConfig      `toml:"http"`
	Logging     LoggingConfig   `toml:"logging"`
}

// DefaultProfile returns a complete config for a new profile. Paths are
// relative to the profile directory.
func DefaultProfile(name string) *ProfileConfig {
	cfg := &ProfileConfig{
		ProfileName: name,
		Storage:     StorageConfig{DBPath: "acrpc.db", JournalMode: "WAL", Synchronous: "NORMAL"},
		IPC:         IPCConfig{SocketPath: "acd.sock"},
		Logging:     LoggingConfig{Level: "info", FileMaxSize: 10, FileBackups: 3},
	}
	_ = cfg.validate()
	return cfg
}

// Load reads config.toml from the provided path.
func Load(path string) (*ProfileConfig, error) {
	var cfg ProfileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProfile loads the config of the profile directory dir and resolves
// its paths against dir.
func LoadProfile(dir string) (*ProfileConfig, error) {
	cfg, err := Load(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	cfg.Storage.DBPath = ResolvePath(dir, cfg.Storage.DBPath)
	cfg.IPC.SocketPath = ResolvePath(dir, cfg.IPC.SocketPath)
	if cfg.Logging.FilePath != "" {
		cfg.Logging.FilePath = ResolvePath(dir, cfg.Logging.FilePath)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg *ProfileConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// ResolvePath makes p absolute relative to dir.
func ResolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func (cfg *ProfileConfig) validate() error {
	if cfg.ProfileName == "" {
		return errors.New("profileName required")
	}
	if cfg.Storage.DBPath == "" {
		return errors.New("storage.dbPath required")
	}
	if cfg.IPC.SocketPath == "" {
		return errors.New("ipc.socketPath required")
	}
	d := client.DefaultServerSpec()
	if cfg.Server.Domain == "" {
		cfg.Server.Domain = d.Domain
	}
	if cfg.Server.IFramePath == "" {
		cfg.Server.IFramePath = d.IFrame
	}
	if cfg.Server.PopupPath == "" {
		cfg.Server.PopupPath = d.Popup
	}
	if cfg.Server.RedirectPath == "" {
		cfg.Server.RedirectPath = d.Redirect
	}
	if cfg.Server.PopupWidth <= 0 {
		cfg.Server.PopupWidth = client.DefaultPopupWidth
	}
	if cfg.Server.PopupHeight <= 0 {
		cfg.Server.PopupHeight = client.DefaultPopupHeight
	}
	if cfg.Relay.Expiry.Duration <= 0 {
		cfg.Relay.Expiry.Duration = relay.DefaultExpiry
	}
	if cfg.IDP.Timeout.Duration <= 0 {
		cfg.IDP.Timeout.Duration = idp.DefaultTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return nil
}
