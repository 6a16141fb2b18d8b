// Package config loads the service configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Cache backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Chains    []ChainConfig   `yaml:"chains"`
	RPC       RPCConfig       `yaml:"rpc"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Cache     CacheConfig     `yaml:"cache"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// Watch enables the contract log watcher for chains with a ws_url.
	Watch bool `yaml:"watch"`
}

// ChainConfig describes one served chain.
type ChainConfig struct {
	ChainID            int64  `yaml:"chain_id"`
	RPCURL             string `yaml:"rpc_url"`
	WSURL              string `yaml:"ws_url"`
	TokenAddress       string `yaml:"token_address"`
	MarketplaceAddress string `yaml:"marketplace_address"`
	// SignerKeyEnv names the environment variable holding the hex private
	// key used for mutations. Empty makes the chain read-only.
	SignerKeyEnv string `yaml:"signer_key_env"`
}

// SignerKey returns the private key from the configured environment variable.
func (c ChainConfig) SignerKey() string {
	if c.SignerKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.SignerKeyEnv)
}

type RPCConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

type MetadataConfig struct {
	IPFSGateway string        `yaml:"ipfs_gateway"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

type CacheConfig struct {
	Backend     string        `yaml:"backend"`
	TTL         time.Duration `yaml:"ttl"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisDB     int           `yaml:"redis_db"`
	RedisPass   string        `yaml:"redis_password"`
}

type AnalyticsConfig struct {
	// ClickhouseDSN enables refresh-run history in ClickHouse. Empty keeps it in memory.
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 3 * time.Minute,
		},
		RPC: RPCConfig{
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			RetryDelay:     500 * time.Millisecond,
			MaxDelay:       10 * time.Second,
			MaxConcurrency: 16,
		},
		Metadata: MetadataConfig{
			IPFSGateway: "https://ipfs.io",
			Timeout:     10 * time.Second,
			MaxRetries:  3,
		},
		Cache: CacheConfig{
			Backend: BackendMemory,
			TTL:     24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides scalar settings from NFTSYNC_* variables. A single chain
// can be configured entirely from the environment with NFTSYNC_CHAIN_ID.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("NFTSYNC_SERVER_ADDR", &c.Server.Addr)
	str("NFTSYNC_CACHE_BACKEND", &c.Cache.Backend)
	dur("NFTSYNC_CACHE_TTL", &c.Cache.TTL)
	str("NFTSYNC_POSTGRES_DSN", &c.Cache.PostgresDSN)
	str("NFTSYNC_REDIS_ADDR", &c.Cache.RedisAddr)
	str("NFTSYNC_CLICKHOUSE_DSN", &c.Analytics.ClickhouseDSN)
	str("NFTSYNC_IPFS_GATEWAY", &c.Metadata.IPFSGateway)
	num("NFTSYNC_RPC_MAX_CONCURRENCY", &c.RPC.MaxConcurrency)
	dur("NFTSYNC_RPC_TIMEOUT", &c.RPC.Timeout)
	str("NFTSYNC_LOG_LEVEL", &c.Log.Level)
	str("NFTSYNC_LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("NFTSYNC_CHAIN_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("NFTSYNC_CHAIN_ID: %w", err))
		} else {
			chain := ChainConfig{ChainID: id, SignerKeyEnv: "NFTSYNC_SIGNER_KEY"}
			str("NFTSYNC_RPC_URL", &chain.RPCURL)
			str("NFTSYNC_WS_URL", &chain.WSURL)
			str("NFTSYNC_TOKEN_ADDRESS", &chain.TokenAddress)
			str("NFTSYNC_MARKETPLACE_ADDRESS", &chain.MarketplaceAddress)
			c.upsertChain(chain)
		}
	}

	return errors.Join(errs...)
}

func (c *Config) upsertChain(chain ChainConfig) {
	for i := range c.Chains {
		if c.Chains[i].ChainID == chain.ChainID {
			existing := &c.Chains[i]
			if chain.RPCURL != "" {
				existing.RPCURL = chain.RPCURL
			}
			if chain.WSURL != "" {
				existing.WSURL = chain.WSURL
			}
			if chain.TokenAddress != "" {
				existing.TokenAddress = chain.TokenAddress
			}
			if chain.MarketplaceAddress != "" {
				existing.MarketplaceAddress = chain.MarketplaceAddress
			}
			if existing.SignerKeyEnv == "" {
				existing.SignerKeyEnv = chain.SignerKeyEnv
			}
			return
		}
	}
	c.Chains = append(c.Chains, chain)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Chains) == 0 {
		errs = append(errs, errors.New("at least one chain is required"))
	}
	seen := make(map[int64]bool)
	for i, ch := range c.Chains {
		prefix := fmt.Sprintf("chains[%d]", i)
		if ch.ChainID <= 0 {
			errs = append(errs, fmt.Errorf("%s: chain_id must be positive", prefix))
		}
		if seen[ch.ChainID] {
			errs = append(errs, fmt.Errorf("%s: duplicate chain_id %d", prefix, ch.ChainID))
		}
		seen[ch.ChainID] = true
		if ch.RPCURL == "" {
			errs = append(errs, fmt.Errorf("%s: rpc_url is required", prefix))
		}
		if ch.WSURL != "" && !strings.HasPrefix(ch.WSURL, "ws://") && !strings.HasPrefix(ch.WSURL, "wss://") {
			errs = append(errs, fmt.Errorf("%s: ws_url must use ws:// or wss://", prefix))
		}
		if !common.IsHexAddress(ch.TokenAddress) {
			errs = append(errs, fmt.Errorf("%s: invalid token_address %q", prefix, ch.TokenAddress))
		}
		if !common.IsHexAddress(ch.MarketplaceAddress) {
			errs = append(errs, fmt.Errorf("%s: invalid marketplace_address %q", prefix, ch.MarketplaceAddress))
		}
	}

	if c.RPC.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("rpc.max_concurrency must be positive"))
	}
	if c.RPC.MaxRetries < 0 {
		errs = append(errs, errors.New("rpc.max_retries must not be negative"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Cache.PostgresDSN == "" {
			errs = append(errs, errors.New("cache.postgres_dsn is required for the postgres backend"))
		}
	case BackendRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// LoadEnvFile sets variables from a dotenv file without overriding ones
// already present. A missing file is not an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return nil
}
