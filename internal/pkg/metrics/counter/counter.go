package counter

import (
	"context"
	"strconv"

	"github.com/kassaflow/kassaflow/internal/pkg/cache"
)

const (
	processedKey    = "reconcile:counters:processed"
	matchedKey      = "reconcile:counters:matched"
	matchFailureKey = "reconcile:counters:match_failures"
	parkedKey       = "reconcile:counters:parked"
)

// AddProcessed increments the processed-event counter for a provider in Redis
func AddProcessed(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, processedKey, provider, 1).Err()
}

// AddMatched increments the matched-event counter for a provider in Redis
func AddMatched(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, matchedKey, provider, 1).Err()
}

// AddMatchFailure increments the match-failure counter for a provider in Redis
func AddMatchFailure(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, matchFailureKey, provider, 1).Err()
}

// AddParked increments the parked-for-review counter for a provider in Redis
func AddParked(provider string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, parkedKey, provider, 1).Err()
}

// ProviderStats holds the per-provider counter snapshot served to the admin
// monitoring endpoint.
type ProviderStats struct {
	Processed     int64 `json:"processed"`
	Matched       int64 `json:"matched"`
	MatchFailures int64 `json:"match_failures"`
	Parked        int64 `json:"parked"`
}

// Snapshot reads all per-provider counters from Redis.
func Snapshot() (map[string]ProviderStats, error) {
	ctx := context.Background()
	rdb := cache.GetClient()
	result := make(map[string]ProviderStats)

	for key, assign := range map[string]func(*ProviderStats, int64){
		processedKey:    func(s *ProviderStats, v int64) { s.Processed = v },
		matchedKey:      func(s *ProviderStats, v int64) { s.Matched = v },
		matchFailureKey: func(s *ProviderStats, v int64) { s.MatchFailures = v },
		parkedKey:       func(s *ProviderStats, v int64) { s.Parked = v },
	} {
		data, err := rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		for provider, raw := range data {
			value, perr := strconv.ParseInt(raw, 10, 64)
			if perr != nil {
				continue
			}
			stats := result[provider]
			assign(&stats, value)
			result[provider] = stats
		}
	}
	return result, nil
}
