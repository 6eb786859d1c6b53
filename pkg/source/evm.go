package source

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/megayours/megaforwarder/pkg/config"
	"github.com/megayours/megaforwarder/pkg/ratelimit"
)

// evmSource is the one illustrative concrete Source this repo ships:
// it scans an EVM chain's logs for a configured set of contract addresses
// via go-ethereum's ethclient. Provider selection (alchemy, infura,
// quicknode, ankr) is config-driven, but resolving each provider's own URL
// format is out of scope, so NewEVMSource accepts an already-resolved
// endpoint URL. Every call into the provider's RPC endpoint goes through the
// shared rate limiter, keyed by source name, so one misbehaving listener
// can't exhaust a provider's quota for the others.
type evmSource struct {
	client    *ethclient.Client
	addresses []common.Address
	limiter   *ratelimit.Limiter
	key       string
	limit     int
}

// NewEVMSource dials url (the RPC endpoint resolved from a
// config.RPCProviderConfig entry by the process's composition root) and
// watches addresses for log events. limiter may be nil, in which case Head
// and Scan call the provider directly with no throttling — useful for tests
// that don't construct a full Limiter.
func NewEVMSource(url string, addresses []common.Address, limiter *ratelimit.Limiter, key string, limit int) (Source, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("evm source: dial: %w", err)
	}
	if limit <= 0 {
		limit = config.DefaultRateLimitPerSecond
	}
	return &evmSource{client: client, addresses: addresses, limiter: limiter, key: key, limit: limit}, nil
}

func (s *evmSource) Head(ctx context.Context) (uint64, error) {
	if s.limiter == nil {
		return s.client.BlockNumber(ctx)
	}
	return ratelimit.ExecuteThrottled(ctx, s.limiter, s.key, s.limit, func(ctx context.Context) (uint64, error) {
		return s.client.BlockNumber(ctx)
	})
}

func (s *evmSource) Scan(ctx context.Context, start, end uint64) ([]Event, error) {
	filter := func(ctx context.Context) ([]Event, error) {
		logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: s.addresses,
		})
		if err != nil {
			return nil, fmt.Errorf("evm source: filter logs: %w", err)
		}

		events := make([]Event, 0, len(logs))
		for _, l := range logs {
			events = append(events, Event{
				ID:          fmt.Sprintf("%s-%d", l.TxHash.Hex(), l.Index),
				BlockNumber: l.BlockNumber,
				LogIndex:    uint32(l.Index),
				Payload:     l.Data,
			})
		}
		return events, nil
	}
	if s.limiter == nil {
		return filter(ctx)
	}
	return ratelimit.ExecuteThrottled(ctx, s.limiter, s.key, s.limit, filter)
}

// ResolveRPCURL applies a minimal provider-URL convention
// (`type: alchemy|infura|quicknode|ankr|json`), leaving anything beyond URL
// templating (auth schemes, rate-limit tiers) to the provider's own docs.
func ResolveRPCURL(provider config.RPCProviderConfig) (string, error) {
	switch provider.Type {
	case "json":
		if provider.URL == "" {
			return "", fmt.Errorf("evm source: json provider requires url")
		}
		return provider.URL, nil
	case "alchemy":
		return fmt.Sprintf("https://%s.g.alchemy.com/v2/%s", provider.Chain, provider.APIKey), nil
	case "infura":
		return fmt.Sprintf("https://%s.infura.io/v3/%s", provider.Chain, provider.APIKey), nil
	case "quicknode":
		if provider.URL == "" {
			return "", fmt.Errorf("evm source: quicknode provider requires url")
		}
		return provider.URL, nil
	case "ankr":
		return fmt.Sprintf("https://rpc.ankr.com/%s/%s", provider.Chain, provider.APIKey), nil
	default:
		return "", fmt.Errorf("evm source: unsupported rpc provider type %q", provider.Type)
	}
}
