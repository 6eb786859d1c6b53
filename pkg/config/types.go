package config

import "time"

// Config is the fully-resolved, typed configuration snapshot passed down
// from cmd/oraclenode/main.go. Every other package receives the pieces it
// needs by explicit constructor argument; nothing reads viper outside this
// package.
type Config struct {
	ID      string
	Port    int
	APIPort int
	// MetricsPort serves Prometheus text exposition on its own listener,
	// separate from the peer and external API listeners.
	MetricsPort int

	PrivateKey []byte
	PublicKey  []byte
	// PrimaryPublicKey lets a secondary node verify the signature it
	// receives back from its own /task/validate handler's caller context —
	// the wire protocol carries no such field, so every node is statically
	// told which public key signs prepares (see DESIGN.md's Open Question
	// resolution for pkg/peer).
	PrimaryPublicKey []byte

	Primary bool
	Peers   []PeerConfig

	// PeerTimeoutMs is always a concrete, resolved value by the time
	// config.Load returns: a missing config key picks the 30s default, and
	// an explicit 0 is preserved as 0 rather than defaulted — it tells the
	// coordinator to accept no peer contributions at all.
	PeerTimeoutMs         int
	MinSignaturesRequired int

	RPC              map[string][]RPCProviderConfig
	AbstractionChain AbstractionChainConfig
	Plugins          map[string]map[string]any
	Listeners        map[string]ListenerConfig
	Auth             AuthConfig
	Webhooks         WebhooksConfig

	Cache       CacheConfig
	RateLimiter RateLimiterConfig
	EventBus    EventBusConfig
	Audit       AuditConfig
	Log         LogConfig
}

// PeerConfig mirrors the Peer shape as read from config; Address is
// host:port for the peer protocol server.
type PeerConfig struct {
	ID        string
	PublicKey []byte
	Address   string
}

// RPCProviderConfig is one entry of `rpc[sourceName]`.
type RPCProviderConfig struct {
	Type   string // alchemy | infura | quicknode | ankr | json
	Chain  string
	APIKey string
	URL    string
	// RateLimitPerSecond bounds calls per second into this provider's RPC
	// endpoint. <= 0 picks DefaultRateLimitPerSecond.
	RateLimitPerSecond int
}

// AbstractionChainConfig configures the downstream chain the primary
// submits signed descriptions to.
type AbstractionChainConfig struct {
	DirectoryNodeURLPool []string
	BlockchainRID        string
}

// ListenerConfig is the per-listener polling/throttling tuning block.
type ListenerConfig struct {
	BlockHeightIncrement int
	ThrottleOnSuccessMs  int
	BatchSize            int
	CacheTTLMs           int
}

// AuthConfig configures the signed-auth-envelope freshness window.
type AuthConfig struct {
	SignatureMaxAgeMs int
}

// WebhooksConfig holds third-party webhook credentials.
type WebhooksConfig struct {
	Helius HeliusWebhookConfig
}

type HeliusWebhookConfig struct {
	APIKey    string
	WebhookID string
	URL       string
	// SharedSecret authenticates inbound webhook calls (the Authorization
	// header checked by POST /helius/webhook).
	SharedSecret string
	// TrackedMints is the allow-list of token mints the webhook handler
	// dispatches Tasks for; deltas on any other mint are dropped.
	TrackedMints []string
	// PluginID is the plugin a dispatched balance-delta Task targets.
	PluginID string
}

// CacheConfig selects the shared TTL cache backend.
type CacheConfig struct {
	Backend   string // memory | bbolt
	BboltPath string
}

// RateLimiterConfig selects the rate limiter's coordinator backend.
type RateLimiterConfig struct {
	Backend string // local | redis
	Redis   RedisConfig
}

type RedisConfig struct {
	Addr     string
	DB       int
	Username string
	Password string
	KeyPrefix string
}

// EventBusConfig configures the internal Kafka webhook dispatch decoupling.
// Kafka is optional: when Brokers is empty, webhook dispatch falls back to
// synchronous Task execution.
type EventBusConfig struct {
	Kafka KafkaConfig
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	TLS     bool
	SASL    SASLConfig
}

type SASLConfig struct {
	Mechanism string
	Username  string
	Password  string
}

// AuditConfig configures the optional Postgres task-audit sink.
type AuditConfig struct {
	PostgresDSN string
}

// LogConfig configures zap + lumberjack log output.
type LogConfig struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func defaultPeerTimeout() time.Duration { return 30 * time.Second }

// DefaultRateLimitPerSecond is the per-source RPC call budget used when an
// RPCProviderConfig entry leaves RateLimitPerSecond unset.
const DefaultRateLimitPerSecond = 10
