// Package config loads the txcart command line configuration from a yaml
// file, TXCART_ environment variables and bound flags, in viper's order.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/tranvictor/txcart"
	"github.com/tranvictor/txcart/store"
)

const (
	EnvPrefix = "TXCART"

	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

var (
	ErrUnknownBackend = fmt.Errorf("unknown store backend")
	ErrMissingRPCURL  = fmt.Errorf("rpc_url is required")
)

type Config struct {
	RPCURL     string `mapstructure:"rpc_url"`
	ChainID    uint64 `mapstructure:"chain_id"`
	PrivateKey string `mapstructure:"private_key"`
	// MultiSend is the MultiSend contract used to batch multisig proposals
	MultiSend string `mapstructure:"multisend"`
	// PollInterval is how often receipts are polled
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
	Store         StoreConfig   `mapstructure:"store"`
}

type StoreConfig struct {
	Backend       string `mapstructure:"backend"`
	Dir           string `mapstructure:"dir"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	// Prefix namespaces the snapshot keys, one cart per prefix
	Prefix string `mapstructure:"prefix"`
}

// SetDefaults registers the default values on v. Every key gets one so that
// Unmarshal sees keys only set through the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("rpc_url", "")
	v.SetDefault("chain_id", 0)
	v.SetDefault("private_key", "")
	v.SetDefault("multisend", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("poll_interval", txcart.DefaultPollInterval)
	v.SetDefault("retry_interval", txcart.DefaultRetryInterval)
	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.dir", ".txcart")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.prefix", txcart.DefaultSnapshotKeyPrefix)
}

// Load reads the configuration. An empty path searches ./txcart.yaml and
// $HOME/.txcart.yaml; a missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("txcart")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("couldn't read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("couldn't decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendRedis:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Store.Backend)
	}
	if c.MultiSend != "" && !common.IsHexAddress(c.MultiSend) {
		return fmt.Errorf("multisend is not an address: %q", c.MultiSend)
	}
	return nil
}

// RequireRPC reports whether an RPC url is configured
func (c *Config) RequireRPC() error {
	if c.RPCURL == "" {
		return ErrMissingRPCURL
	}
	return nil
}

// MultiSendAddress returns the configured MultiSend contract, zero when unset
func (c *Config) MultiSendAddress() common.Address {
	if c.MultiSend == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.MultiSend)
}

// OpenStore opens the configured key value backend and the function releasing it
func (c *Config) OpenStore(ctx context.Context) (store.KV, func() error, error) {
	noop := func() error { return nil }
	switch c.Store.Backend {
	case BackendMemory:
		return store.NewMemoryKV(), noop, nil
	case BackendFile:
		f, err := store.NewFileKV(c.Store.Dir)
		if err != nil {
			return nil, nil, err
		}
		return f, noop, nil
	case BackendRedis:
		r, err := store.DialRedis(ctx, c.Store.RedisAddr, c.Store.RedisPassword, c.Store.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, c.Store.Backend)
}

// SnapshotStore opens the backend and wraps it as the cart snapshot store
func (c *Config) SnapshotStore(ctx context.Context) (*txcart.KVSnapshotStore, func() error, error) {
	kv, closeFn, err := c.OpenStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return txcart.NewKVSnapshotStore(kv, c.Store.Prefix), closeFn, nil
}
