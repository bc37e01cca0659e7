// Package config loads botwallet settings from BOTWALLET_* environment
// variables and an optional rate-limit policy file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/term"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "BOTWALLET"

// MinMasterSecretLength is the shortest master secret accepted.
const MinMasterSecretLength = 16

// Store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Errors
var (
	ErrMasterSecretMissing = errors.New("config: BOTWALLET_MASTER_SECRET is not set")
	ErrMasterSecretShort   = fmt.Errorf("config: master secret must be at least %d characters", MinMasterSecretLength)
	ErrNotTerminal         = errors.New("config: stdin is not a terminal, set BOTWALLET_MASTER_SECRET instead")
)

// Config contains all configuration parameters.
type Config struct {
	WalletsRoot    string        `envconfig:"WALLETS_ROOT"`
	MasterSecret   string        `envconfig:"MASTER_SECRET"`
	RPCURL         string        `envconfig:"RPC_URL" default:"http://127.0.0.1:8545"`
	Store          string        `envconfig:"STORE" default:"file"`
	Confirmations  uint64        `envconfig:"CONFIRMATIONS" default:"1"`
	ConfirmTimeout time.Duration `envconfig:"CONFIRM_TIMEOUT" default:"120s"`
	RPCTimeout     time.Duration `envconfig:"RPC_TIMEOUT" default:"30s"`
	KDFConcurrency int           `envconfig:"KDF_CONCURRENCY" default:"0"`
	RatePolicy     string        `envconfig:"RATE_POLICY"`
	AuditDir       string        `envconfig:"AUDIT_DIR"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads the configuration from the environment. The master secret is
// not required here; see RequireMasterSecret.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to process environment: %w", err)
	}

	if cfg.WalletsRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("config: cannot determine home directory: %w", err)
		}
		cfg.WalletsRoot = filepath.Join(home, ".botwallet")
	}
	if cfg.AuditDir == "" {
		cfg.AuditDir = filepath.Join(cfg.WalletsRoot, "audit")
	}
	if cfg.RatePolicy == "" {
		cfg.RatePolicy = filepath.Join(cfg.WalletsRoot, PolicyFileName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("config: unknown store %q (must be %q or %q)", c.Store, StoreFile, StoreSQLite)
	}
	if c.Confirmations == 0 {
		return errors.New("config: confirmations must be at least 1")
	}
	if c.ConfirmTimeout <= 0 {
		return errors.New("config: confirm timeout must be positive")
	}
	if c.RPCTimeout <= 0 {
		return errors.New("config: rpc timeout must be positive")
	}
	if c.MasterSecret != "" && len(c.MasterSecret) < MinMasterSecretLength {
		return ErrMasterSecretShort
	}
	return nil
}

// RequireMasterSecret returns the configured master secret, or
// ErrMasterSecretMissing when it is unset.
func (c *Config) RequireMasterSecret() ([]byte, error) {
	if c.MasterSecret == "" {
		return nil, ErrMasterSecretMissing
	}
	if len(c.MasterSecret) < MinMasterSecretLength {
		return nil, ErrMasterSecretShort
	}
	return []byte(c.MasterSecret), nil
}

// PromptMasterSecret reads the master secret from the terminal without echo.
func (c *Config) PromptMasterSecret(out io.Writer) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}
	fmt.Fprint(out, "Enter master secret: ")
	defer fmt.Fprintln(out)

	raw, err := term.ReadPassword(fd)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read master secret: %w", err)
	}
	if len(raw) < MinMasterSecretLength {
		clear(raw)
		return nil, ErrMasterSecretShort
	}
	return raw, nil
}

// LogConf returns the logx configuration for the process.
func (c *Config) LogConf(serviceName string) logx.LogConf {
	return logx.LogConf{
		ServiceName: serviceName,
		Mode:        "console",
		Encoding:    "plain",
		Level:       strings.ToLower(c.LogLevel),
	}
}
