package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Chains      []ChainConfig     `yaml:"chains"`
	Sources     []SourceConfig    `yaml:"sources"`
	Historical  HistoricalConfig  `yaml:"historical"`
	Realtime    RealtimeConfig    `yaml:"realtime"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ChainConfig declares one chain's RPC connection and syncer tuning.
type ChainConfig struct {
	Name                 string        `yaml:"name"`
	ChainID              uint64        `yaml:"chain_id"`
	RPCURL               string        `yaml:"rpc_url"`
	WSURL                string        `yaml:"ws_url"` // optional; enables the newHeads nudge subscriber
	PollingInterval      time.Duration `yaml:"polling_interval"`
	FinalityBlockCount   uint64        `yaml:"finality_block_count"`
	MaxRequestsPerSecond float64       `yaml:"max_requests_per_second"`
	DisableCache         bool          `yaml:"disable_cache"`
}

// SourceConfig declares one registered filter, scoped to a chain by name.
// Exactly the fields relevant to Kind are honored; the rest are ignored.
type SourceConfig struct {
	Chain  string `yaml:"chain"`
	Kind   string `yaml:"kind"` // log|trace|transfer|transaction|block|log_factory

	// Address-bearing positions. An empty Address/FromFactory/ToFactory
	// means unconstrained; a non-empty Addresses list means a literal
	// match against any of them; a non-empty *Factory means scoped to a
	// LogFactory source's discovered child addresses.
	Addresses   []string `yaml:"addresses"`
	FromAddress []string `yaml:"from_address"`
	ToAddress   []string `yaml:"to_address"`
	FromFactory string   `yaml:"from_factory"`
	ToFactory   string   `yaml:"to_factory"`
	// FactoryID is not read by cmd/syncer. A *Factory field is used as the
	// factory id exactly as written, and a log_factory source's children
	// are recorded under that source's fragment id, so a *Factory field
	// matches them only when it holds that fragment id.
	FactoryID string `yaml:"factory_id"`

	Topics [4][]string `yaml:"topics"`

	EventSelector        string `yaml:"event_selector"`
	ChildAddressLocation string `yaml:"child_address_location"` // topic1|topic2|topic3|offsetN

	FunctionSelector string `yaml:"function_selector"`
	CallType         string `yaml:"call_type"`
	IncludeReverted  bool   `yaml:"include_reverted"`
	IncludeReceipts  bool   `yaml:"include_receipts"`

	Interval uint64 `yaml:"interval"`
	Offset   uint64 `yaml:"offset"`

	FromBlock uint64 `yaml:"from_block"`
	ToBlock   uint64 `yaml:"to_block"` // 0 means open-ended, tracking the chain tip indefinitely
}

// HistoricalConfig tunes internal/historical.Syncer.
type HistoricalConfig struct {
	Concurrency    int64  `yaml:"concurrency"`
	MaxBlockRange  uint64 `yaml:"max_block_range"`
	EventChunkSize int    `yaml:"event_chunk_size"`
}

// RealtimeConfig tunes internal/realtime.Syncer.
type RealtimeConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	SafeDepth      uint64        `yaml:"safe_depth"`
	FinalizedDepth uint64        `yaml:"finalized_depth"`
	MaxUnfinalized int           `yaml:"max_unfinalized"`
}

// PersistenceConfig holds database settings.
type PersistenceConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	cfg.setDefaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if len(data) > 0 {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options.
func (c *Config) setDefaults() {
	c.Historical = HistoricalConfig{
		Concurrency:    8,
		MaxBlockRange:  2000,
		EventChunkSize: 93,
	}
	c.Realtime = RealtimeConfig{
		PollInterval:   4 * time.Second,
		SafeDepth:      5,
		FinalizedDepth: 64,
		MaxUnfinalized: 256,
	}
	c.Persistence = PersistenceConfig{
		SQLitePath: "./data/syncer.db",
	}
	c.Metrics = MetricsConfig{
		Enabled: true,
		Port:    8080,
		Path:    "/metrics",
	}
	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
	}
}

// applyEnvOverrides applies environment variable overrides to configuration.
// Per-chain RPC/WS URLs are overridden by CHAINSYNC_RPC_URL_<chain name,
// uppercased> / CHAINSYNC_WS_URL_<chain name> so secrets can be kept out of
// the committed YAML entirely.
func (c *Config) applyEnvOverrides() {
	for i := range c.Chains {
		name := strings.ToUpper(c.Chains[i].Name)
		if v := os.Getenv("CHAINSYNC_RPC_URL_" + name); v != "" {
			c.Chains[i].RPCURL = v
		}
		if v := os.Getenv("CHAINSYNC_WS_URL_" + name); v != "" {
			c.Chains[i].WSURL = v
		}
	}

	if v := os.Getenv("METRICS_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Metrics.Port = port
		}
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Persistence.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// validate checks that all required configuration values are present and valid.
func (c *Config) validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one entry in chains is required")
	}
	seen := make(map[string]bool, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.Name == "" {
			return fmt.Errorf("chains: name is required")
		}
		if seen[ch.Name] {
			return fmt.Errorf("chains: duplicate chain name %q", ch.Name)
		}
		seen[ch.Name] = true
		if ch.ChainID == 0 {
			return fmt.Errorf("chains[%s]: chain_id is required", ch.Name)
		}
		if ch.RPCURL == "" {
			return fmt.Errorf("chains[%s]: rpc_url is required (set CHAINSYNC_RPC_URL_%s)", ch.Name, strings.ToUpper(ch.Name))
		}
	}

	for i, src := range c.Sources {
		if src.Chain == "" {
			return fmt.Errorf("sources[%d]: chain is required", i)
		}
		if !seen[src.Chain] {
			return fmt.Errorf("sources[%d]: chain %q is not declared in chains", i, src.Chain)
		}
		switch src.Kind {
		case "log", "trace", "transfer", "transaction", "block", "log_factory":
		default:
			return fmt.Errorf("sources[%d]: unrecognized kind %q", i, src.Kind)
		}
		if src.Kind == "block" && src.Interval == 0 {
			return fmt.Errorf("sources[%d]: block source requires a positive interval", i)
		}
		if src.Kind == "log_factory" && src.EventSelector == "" {
			return fmt.Errorf("sources[%d]: log_factory source requires event_selector", i)
		}
	}

	if c.Historical.Concurrency <= 0 {
		return fmt.Errorf("historical.concurrency must be positive")
	}
	if c.Historical.EventChunkSize <= 0 {
		return fmt.Errorf("historical.event_chunk_size must be positive")
	}
	if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be a valid port number")
	}
	return nil
}
