package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"mmlink/native/fixedpoint"
)

const (
	BackendSim = "sim"
	BackendEVM = "evm"

	defaultListen    = ":50053"
	defaultOpsListen = "127.0.0.1:9103"
)

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress    string         `yaml:"listen"`
	OpsListenAddress string         `yaml:"ops_listen"`
	Env              string         `yaml:"env"`
	Log              LogConfig      `yaml:"log"`
	TLS              TLSConfig      `yaml:"tls"`
	Auth             AuthConfig     `yaml:"auth"`
	RateLimitPerMin  int            `yaml:"rate_limit_per_min"`
	Engine           EngineConfig   `yaml:"engine"`
	Registry         RegistryConfig `yaml:"registry"`
	Journal          JournalConfig  `yaml:"journal"`
	Backend          BackendConfig  `yaml:"backend"`
}

// LogConfig configures the optional rotated log file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TLSConfig describes the TLS material for the gRPC server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer-token verification and client certificate
// identities.
type AuthConfig struct {
	JWTSecret    string         `yaml:"jwt_secret"`
	JWTSecretEnv string         `yaml:"jwt_secret_env"`
	Issuer       string         `yaml:"issuer"`
	Audience     string         `yaml:"audience"`
	Leeway       time.Duration  `yaml:"leeway"`
	MTLS         MTLSAuthConfig `yaml:"mtls"`
}

// MTLSAuthConfig enumerates the allowed client certificate identities.
type MTLSAuthConfig struct {
	AllowedCommonNames []string `yaml:"allowed_common_names"`
}

// EngineConfig names the accounts operated by the daemon.
type EngineConfig struct {
	Owner             string `yaml:"owner"`
	Custody           string `yaml:"custody"`
	LiquidatorOwner   string `yaml:"liquidator_owner"`
	LiquidatorCustody string `yaml:"liquidator_custody"`
}

// RegistryConfig controls asset registry persistence and seeding.
type RegistryConfig struct {
	// Path of the LevelDB directory; empty keeps the registry in memory.
	Path string `yaml:"path"`
	// Seed is a TOML file of assets registered at boot.
	Seed string `yaml:"seed"`
}

// JournalConfig enables the SQLite liquidation journal.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// BackendConfig selects the ledger the engine drives.
type BackendConfig struct {
	Kind string    `yaml:"kind"`
	Sim  SimConfig `yaml:"sim"`
	EVM  EVMConfig `yaml:"evm"`
}

// SimConfig describes the in-process money market.
type SimConfig struct {
	CloseFactor          string        `yaml:"close_factor"`
	LiquidationIncentive string        `yaml:"liquidation_incentive"`
	BlockInterval        time.Duration `yaml:"block_interval"`
	Tokens               []SimToken    `yaml:"tokens"`
}

// SimToken lists one token and its market. Decimal strings are whole-unit
// amounts such as "0.75" or "1000".
type SimToken struct {
	Symbol           string            `yaml:"symbol"`
	Decimals         uint8             `yaml:"decimals"`
	CollateralFactor string            `yaml:"collateral_factor"`
	ReserveFactor    string            `yaml:"reserve_factor"`
	Price            string            `yaml:"price"`
	Cash             string            `yaml:"cash"`
	Faucet           map[string]string `yaml:"faucet"`
}

// EVMConfig points at a live Compound deployment.
type EVMConfig struct {
	RPCURL       string        `yaml:"rpc_url"`
	ChainID      int64         `yaml:"chain_id"`
	Comptroller  string        `yaml:"comptroller"`
	Oracle       string        `yaml:"oracle"`
	KeysEnv      []string      `yaml:"keys_env"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress:    defaultListen,
		OpsListenAddress: defaultOpsListen,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.OpsListenAddress = strings.TrimSpace(cfg.OpsListenAddress)
	cfg.Env = strings.TrimSpace(cfg.Env)
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	if cfg.Log.File != "" && cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.Engine.normalize()
	cfg.Registry.Path = strings.TrimSpace(cfg.Registry.Path)
	cfg.Registry.Seed = strings.TrimSpace(cfg.Registry.Seed)
	cfg.Journal.Path = strings.TrimSpace(cfg.Journal.Path)
	cfg.Backend.normalize()
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(cfg.TLS); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.RateLimitPerMin < 0 {
		return fmt.Errorf("rate_limit_per_min must not be negative")
	}
	if err := cfg.Engine.validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := cfg.Backend.validate(); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return strings.TrimSpace(cfg.ClientCAPath) != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.JWTSecretEnv = strings.TrimSpace(cfg.JWTSecretEnv)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.JWTSecret == "" && cfg.JWTSecretEnv != "" {
		cfg.JWTSecret = strings.TrimSpace(os.Getenv(cfg.JWTSecretEnv))
	}

	names := make([]string, 0, len(cfg.MTLS.AllowedCommonNames))
	for _, name := range cfg.MTLS.AllowedCommonNames {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	cfg.MTLS.AllowedCommonNames = names
}

func (cfg AuthConfig) validate(tls TLSConfig) error {
	if cfg.JWTSecret == "" {
		if cfg.JWTSecretEnv != "" {
			return fmt.Errorf("jwt secret env %s is empty", cfg.JWTSecretEnv)
		}
		return fmt.Errorf("jwt_secret or jwt_secret_env must be configured")
	}
	if len(cfg.JWTSecret) < 32 {
		return fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	if cfg.Leeway < 0 {
		return fmt.Errorf("leeway must not be negative")
	}
	if len(cfg.MTLS.AllowedCommonNames) > 0 && strings.TrimSpace(tls.ClientCAPath) == "" {
		return fmt.Errorf("mtls.allowed_common_names requires tls.client_ca to be configured")
	}
	return nil
}

func (cfg *EngineConfig) normalize() {
	cfg.Owner = strings.TrimSpace(cfg.Owner)
	cfg.Custody = strings.TrimSpace(cfg.Custody)
	cfg.LiquidatorOwner = strings.TrimSpace(cfg.LiquidatorOwner)
	cfg.LiquidatorCustody = strings.TrimSpace(cfg.LiquidatorCustody)
}

func (cfg EngineConfig) validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"owner", cfg.Owner},
		{"custody", cfg.Custody},
		{"liquidator_owner", cfg.LiquidatorOwner},
		{"liquidator_custody", cfg.LiquidatorCustody},
	}
	for _, f := range fields {
		if !common.IsHexAddress(f.value) {
			return fmt.Errorf("%s: invalid address %q", f.name, f.value)
		}
	}
	if strings.EqualFold(cfg.Custody, cfg.LiquidatorCustody) {
		return fmt.Errorf("custody and liquidator_custody must differ")
	}
	return nil
}

// Accounts returns the parsed engine and liquidator addresses.
func (cfg EngineConfig) Accounts() (owner, custody, liqOwner, liqCustody common.Address) {
	return common.HexToAddress(cfg.Owner), common.HexToAddress(cfg.Custody),
		common.HexToAddress(cfg.LiquidatorOwner), common.HexToAddress(cfg.LiquidatorCustody)
}

func (cfg *BackendConfig) normalize() {
	cfg.Kind = strings.ToLower(strings.TrimSpace(cfg.Kind))
	if cfg.Kind == "" {
		cfg.Kind = BackendSim
	}
	for i := range cfg.Sim.Tokens {
		tok := &cfg.Sim.Tokens[i]
		tok.Symbol = strings.TrimSpace(tok.Symbol)
		tok.CollateralFactor = strings.TrimSpace(tok.CollateralFactor)
		tok.ReserveFactor = strings.TrimSpace(tok.ReserveFactor)
		tok.Price = strings.TrimSpace(tok.Price)
		tok.Cash = strings.TrimSpace(tok.Cash)
	}
	cfg.EVM.RPCURL = strings.TrimSpace(cfg.EVM.RPCURL)
	cfg.EVM.Comptroller = strings.TrimSpace(cfg.EVM.Comptroller)
	cfg.EVM.Oracle = strings.TrimSpace(cfg.EVM.Oracle)
}

func (cfg BackendConfig) validate() error {
	switch cfg.Kind {
	case BackendSim:
		return cfg.Sim.validate()
	case BackendEVM:
		return cfg.EVM.validate()
	default:
		return fmt.Errorf("unknown kind %q", cfg.Kind)
	}
}

func (cfg SimConfig) validate() error {
	if cfg.BlockInterval < 0 {
		return fmt.Errorf("sim: block_interval must not be negative")
	}
	for _, v := range []struct{ name, value string }{
		{"close_factor", cfg.CloseFactor},
		{"liquidation_incentive", cfg.LiquidationIncentive},
	} {
		if v.value == "" {
			continue
		}
		if _, err := fixedpoint.ParseDecimal(v.value, fixedpoint.Decimals); err != nil {
			return fmt.Errorf("sim: %s: %w", v.name, err)
		}
	}
	seen := make(map[string]struct{}, len(cfg.Tokens))
	for i, tok := range cfg.Tokens {
		if tok.Symbol == "" {
			return fmt.Errorf("sim: token %d: symbol required", i)
		}
		key := strings.ToUpper(tok.Symbol)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("sim: duplicate token %s", tok.Symbol)
		}
		seen[key] = struct{}{}
		if tok.Decimals > fixedpoint.Decimals {
			return fmt.Errorf("sim: %s: decimals above %d", tok.Symbol, fixedpoint.Decimals)
		}
		for _, v := range []struct{ name, value string }{
			{"collateral_factor", tok.CollateralFactor},
			{"reserve_factor", tok.ReserveFactor},
			{"price", tok.Price},
		} {
			if v.value == "" {
				continue
			}
			if _, err := fixedpoint.ParseDecimal(v.value, fixedpoint.Decimals); err != nil {
				return fmt.Errorf("sim: %s: %s: %w", tok.Symbol, v.name, err)
			}
		}
		if tok.Cash != "" {
			if _, err := fixedpoint.ParseDecimal(tok.Cash, tok.Decimals); err != nil {
				return fmt.Errorf("sim: %s: cash: %w", tok.Symbol, err)
			}
		}
		for account, amount := range tok.Faucet {
			if !common.IsHexAddress(strings.TrimSpace(account)) {
				return fmt.Errorf("sim: %s: faucet account %q invalid", tok.Symbol, account)
			}
			if _, err := fixedpoint.ParseDecimal(strings.TrimSpace(amount), tok.Decimals); err != nil {
				return fmt.Errorf("sim: %s: faucet amount: %w", tok.Symbol, err)
			}
		}
	}
	return nil
}

func (cfg EVMConfig) validate() error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("evm: rpc_url required")
	}
	if !common.IsHexAddress(cfg.Comptroller) {
		return fmt.Errorf("evm: invalid comptroller %q", cfg.Comptroller)
	}
	if cfg.Oracle != "" && !common.IsHexAddress(cfg.Oracle) {
		return fmt.Errorf("evm: invalid oracle %q", cfg.Oracle)
	}
	if cfg.ChainID < 0 {
		return fmt.Errorf("evm: chain_id must not be negative")
	}
	if len(cfg.KeysEnv) == 0 {
		return fmt.Errorf("evm: keys_env must name at least one signing key variable")
	}
	return nil
}

// LoadKeys reads hex-encoded private keys from the environment variables
// named in KeysEnv.
func (cfg EVMConfig) LoadKeys() ([]*ecdsa.PrivateKey, error) {
	keys := make([]*ecdsa.PrivateKey, 0, len(cfg.KeysEnv))
	for _, name := range cfg.KeysEnv {
		name = strings.TrimSpace(name)
		raw := strings.TrimPrefix(strings.TrimSpace(os.Getenv(name)), "0x")
		if raw == "" {
			return nil, fmt.Errorf("signing key env %s is empty", name)
		}
		key, err := gethcrypto.HexToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("signing key env %s: %w", name, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
