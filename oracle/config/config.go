package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/GPTx-global/guru-oracle/oracle/price"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/pelletier/go-toml/v2"
)

const fileName = "config.toml"

type Config struct {
	Home string `toml:"-"`

	Chain    ChainConfig               `toml:"chain"`
	Networks []types.NetworkDescriptor `toml:"networks"`
	Key      KeyConfig                 `toml:"key"`
	Oracle   OracleConfig              `toml:"oracle"`
	Sync     SyncConfig                `toml:"sync"`
	Server   ServerConfig              `toml:"server"`
	Log      LogConfig                 `toml:"log"`
}

type ChainConfig struct {
	types.NetworkDescriptor
	DialAttempts uint `toml:"dial_attempts"`
}

type KeyConfig struct {
	PrivateKey   string `toml:"private_key"`
	Mnemonic     string `toml:"mnemonic"`
	AccountIndex uint32 `toml:"account_index"`
}

type OracleConfig struct {
	Variant         types.Variant `toml:"variant"`
	DataSource      string        `toml:"data_source"`
	Address         string        `toml:"address"`
	FullArtifact    string        `toml:"full_artifact"`
	MinimalArtifact string        `toml:"minimal_artifact"`
}

type SyncConfig struct {
	Endpoint          string `toml:"endpoint"`
	IntervalSeconds   uint64 `toml:"interval_seconds"`
	Auto              bool   `toml:"auto"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	TimeoutSeconds    uint64 `toml:"timeout_seconds"`
}

type ServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Listen         string   `toml:"listen"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  bool   `toml:"file"`
}

// DefaultHome returns ~/.oracled.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".oracled"
	}

	return filepath.Join(home, ".oracled")
}

func Default(home string) *Config {
	preset := price.DefaultPreset()

	return &Config{
		Home: home,
		Chain: ChainConfig{
			NetworkDescriptor: types.SomniaTestnet,
			DialAttempts:      5,
		},
		Oracle: OracleConfig{
			Variant:    types.VariantFull,
			DataSource: preset.Label,
		},
		Sync: SyncConfig{
			Endpoint:          preset.Endpoint,
			IntervalSeconds:   types.DefaultSyncInterval,
			Auto:              true,
			RequestsPerMinute: 30,
			TimeoutSeconds:    10,
		},
		Server: ServerConfig{
			Enabled:        true,
			Listen:         "127.0.0.1:8645",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func Path(home string) string {
	return filepath.Join(home, fileName)
}

// Load reads <home>/config.toml, writing the defaults first if the file does not exist.
func Load(home string) (*Config, error) {
	if home == "" {
		home = DefaultHome()
	}
	path := Path(home)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := WriteDefault(home); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		log.Infof("Created default config at %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default(home)
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	cfg.Home = home

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log.Infof("Loaded config from %s", path)
	return cfg, nil
}

func WriteDefault(home string) error {
	return Save(Default(home))
}

// Save writes c to <c.Home>/config.toml. The file may hold a key, so it is private to the owner.
func Save(c *Config) error {
	if err := os.MkdirAll(c.Home, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.Home, err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal TOML: %w", err)
	}

	if err := os.WriteFile(Path(c.Home), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ResolvePath makes a relative path relative to the home directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Home, p)
}

func (c *Config) Validate() error {
	if err := c.Chain.NetworkDescriptor.Validate(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}

	if c.Chain.DialAttempts == 0 {
		return fmt.Errorf("chain dial attempts must be positive")
	}

	seen := map[uint64]bool{c.Chain.ChainID: true}
	for _, n := range c.Networks {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("networks: %w", err)
		}
		if seen[n.ChainID] {
			return fmt.Errorf("network %d is declared more than once", n.ChainID)
		}
		seen[n.ChainID] = true
	}

	if c.Key.PrivateKey != "" && c.Key.Mnemonic != "" {
		return fmt.Errorf("key: private_key and mnemonic are mutually exclusive")
	}

	if !c.Oracle.Variant.Valid() {
		return fmt.Errorf("oracle variant is required")
	}

	if c.Oracle.Variant == types.VariantFull && strings.TrimSpace(c.Oracle.DataSource) == "" {
		return fmt.Errorf("oracle data source is required for the full variant")
	}

	if c.Sync.Endpoint == "" {
		return fmt.Errorf("sync endpoint is required")
	}

	if u, err := url.Parse(c.Sync.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("sync endpoint must be an http(s) URL: %s", c.Sync.Endpoint)
	}

	if c.Sync.IntervalSeconds < types.MinSyncInterval {
		return fmt.Errorf("sync interval must be at least %d seconds", types.MinSyncInterval)
	}

	if c.Sync.RequestsPerMinute < 0 {
		return fmt.Errorf("sync requests per minute cannot be negative")
	}

	if c.Sync.TimeoutSeconds == 0 {
		return fmt.Errorf("sync timeout is required")
	}

	if c.Server.Enabled && c.Server.Listen == "" {
		return fmt.Errorf("server listen address is required")
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// HasKey reports whether a signing key is configured.
func (c *Config) HasKey() bool {
	return c.Key.PrivateKey != "" || c.Key.Mnemonic != ""
}

func (c *Config) Print() {
	log.Infof("%-15s: %s", "Home", c.Home)
	log.Infof("%-15s: %d", "Chain ID", c.Chain.ChainID)
	log.Infof("%-15s: %s", "Chain Name", c.Chain.Name)
	log.Infof("%-15s: %s", "Chain RPC", c.Chain.RPCEndpoint)
	log.Infof("%-15s: %d", "Networks", len(c.Networks)+1)
	log.Infof("%-15s: %s", "Signing Key", c.keySource())
	log.Infof("%-15s: %s", "Variant", c.Oracle.Variant)
	log.Infof("%-15s: %s", "Data Source", c.Oracle.DataSource)
	if c.Oracle.Address != "" {
		log.Infof("%-15s: %s", "Oracle", c.Oracle.Address)
	}
	log.Infof("%-15s: %s", "Endpoint", c.Sync.Endpoint)
	log.Infof("%-15s: %ds (auto=%t)", "Interval", c.Sync.IntervalSeconds, c.Sync.Auto)
	if c.Server.Enabled {
		log.Infof("%-15s: %s", "Control API", c.Server.Listen)
	}
}

func (c *Config) keySource() string {
	switch {
	case c.Key.PrivateKey != "":
		return "private key (****)"
	case c.Key.Mnemonic != "":
		return fmt.Sprintf("mnemonic (****), account %d", c.Key.AccountIndex)
	default:
		return "none"
	}
}
