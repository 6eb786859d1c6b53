// Package config loads the node's configuration file (YAML, JSON accepted)
// via spf13/viper, overlaying an optional .env file and ORACLENET_-prefixed
// environment variables (viper upper-cases the "OracleNet" prefix), and
// resolves it into the typed Config snapshot the
// rest of the process is built from. Config is assembled once at startup
// from several validated sub-configs and passed down by explicit
// construction; nothing outside this package reads viper directly.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "OracleNet"

// rawConfig mirrors the on-disk YAML/JSON shape; hex strings are decoded
// into Config's []byte fields after Unmarshal. PeerTimeoutMs is a pointer
// so resolve can tell "key absent" (pick the default) apart from an
// explicit 0 (zero tolerance for peer latency).
type rawConfig struct {
	ID      string `mapstructure:"id"`
	Port    int    `mapstructure:"port"`
	APIPort int    `mapstructure:"apiPort"`
	MetricsPort int `mapstructure:"metricsPort"`

	PrivateKey       string `mapstructure:"privateKey"`
	PublicKey        string `mapstructure:"publicKey"`
	PrimaryPublicKey string `mapstructure:"primaryPublicKey"`

	Primary bool         `mapstructure:"primary"`
	Peers   []rawPeer    `mapstructure:"peers"`

	PeerTimeoutMs         *int `mapstructure:"peerTimeoutMs"`
	MinSignaturesRequired int  `mapstructure:"minSignaturesRequired"`

	RPC              map[string][]RPCProviderConfig    `mapstructure:"rpc"`
	AbstractionChain AbstractionChainConfig            `mapstructure:"abstractionChain"`
	Plugins          map[string]map[string]any         `mapstructure:"plugins"`
	Listeners        map[string]ListenerConfig         `mapstructure:"listeners"`
	Auth             AuthConfig                        `mapstructure:"auth"`
	Webhooks         WebhooksConfig                    `mapstructure:"webhooks"`

	Cache       CacheConfig       `mapstructure:"cache"`
	RateLimiter RateLimiterConfig `mapstructure:"rateLimiter"`
	EventBus    EventBusConfig    `mapstructure:"eventBus"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Log         LogConfig         `mapstructure:"log"`
}

type rawPeer struct {
	ID        string `mapstructure:"id"`
	PublicKey string `mapstructure:"publicKey"`
	Address   string `mapstructure:"address"`
}

// Load reads path (YAML or JSON, by extension) and resolves it into a
// Config. A sibling ".env" in the working directory, if present, is loaded
// before viper binds environment variables, so an operator can override
// any config key without editing the checked-in file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	return resolve(raw)
}

func resolve(raw rawConfig) (*Config, error) {
	if raw.ID == "" {
		return nil, fmt.Errorf("config: id is required")
	}

	privateKey, err := decodeHexField("privateKey", raw.PrivateKey, false)
	if err != nil {
		return nil, err
	}
	publicKey, err := decodeHexField("publicKey", raw.PublicKey, false)
	if err != nil {
		return nil, err
	}
	primaryPublicKey, err := decodeHexField("primaryPublicKey", raw.PrimaryPublicKey, true)
	if err != nil {
		return nil, err
	}

	peers := make([]PeerConfig, 0, len(raw.Peers))
	for _, p := range raw.Peers {
		peerKey, err := decodeHexField(fmt.Sprintf("peers[%s].publicKey", p.ID), p.PublicKey, false)
		if err != nil {
			return nil, err
		}
		peers = append(peers, PeerConfig{ID: p.ID, PublicKey: peerKey, Address: p.Address})
	}

	// An absent peerTimeoutMs key picks the default; an explicit 0 means
	// the operator wants zero tolerance for peer latency and must be
	// preserved as 0, not silently promoted to the default.
	peerTimeoutMs := int(defaultPeerTimeout().Milliseconds())
	if raw.PeerTimeoutMs != nil {
		peerTimeoutMs = *raw.PeerTimeoutMs
	}

	minSignatures := raw.MinSignaturesRequired
	if minSignatures <= 0 {
		minSignatures = len(peers) + 1
	}
	if minSignatures > len(peers)+1 {
		return nil, fmt.Errorf("config: minSignaturesRequired %d exceeds cluster size %d", minSignatures, len(peers)+1)
	}

	cfg := &Config{
		ID:                    raw.ID,
		Port:                  raw.Port,
		APIPort:               raw.APIPort,
		MetricsPort:           raw.MetricsPort,
		PrivateKey:            privateKey,
		PublicKey:             publicKey,
		PrimaryPublicKey:      primaryPublicKey,
		Primary:               raw.Primary,
		Peers:                 peers,
		PeerTimeoutMs:         peerTimeoutMs,
		MinSignaturesRequired: minSignatures,
		RPC:                   raw.RPC,
		AbstractionChain:      raw.AbstractionChain,
		Plugins:               raw.Plugins,
		Listeners:             raw.Listeners,
		Auth:                  raw.Auth,
		Webhooks:              raw.Webhooks,
		Cache:                 raw.Cache,
		RateLimiter:           raw.RateLimiter,
		EventBus:              raw.EventBus,
		Audit:                 raw.Audit,
		Log:                   raw.Log,
	}

	if !cfg.Primary {
		if len(cfg.PrimaryPublicKey) == 0 {
			return nil, fmt.Errorf("config: primaryPublicKey is required on a secondary node")
		}
	}

	return cfg, nil
}

func decodeHexField(name, value string, optional bool) ([]byte, error) {
	if value == "" {
		if optional {
			return nil, nil
		}
		return nil, fmt.Errorf("config: %s is required", name)
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return nil, fmt.Errorf("config: %s: invalid hex: %w", name, err)
	}
	return decoded, nil
}
