package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	u "botwave-web/internal/utils"
)

const (
	OutcomeServed   = "served"
	OutcomeFallback = "fallback"

	statsKeyPrefix = "botwave:stats:"
)

// Endpoints lists every proxied endpoint reported by the stats handler.
var Endpoints = []string{EndpointVersion, EndpointUninstall}

// Counts is the per-endpoint tally of proxied responses.
type Counts struct {
	Served   int64 `json:"served"`
	Fallback int64 `json:"fallback"`
}

// StatsRecorder counts proxied responses. Record must not block the response
// on storage failures.
type StatsRecorder interface {
	Record(ctx context.Context, endpoint, outcome string)
	Snapshot(ctx context.Context) (map[string]Counts, error)
	Enabled() bool
}

// NopStats discards everything.
type NopStats struct{}

func (NopStats) Record(context.Context, string, string) {}

func (NopStats) Snapshot(context.Context) (map[string]Counts, error) {
	out := make(map[string]Counts, len(Endpoints))
	for _, ep := range Endpoints {
		out[ep] = Counts{}
	}
	return out, nil
}

func (NopStats) Enabled() bool { return false }

// RedisStats keeps counters in Redis so every instance behind a load balancer
// shares them.
type RedisStats struct {
	Redis *redis.Client
}

func NewRedisStats(rdb *redis.Client) *RedisStats {
	return &RedisStats{Redis: rdb}
}

func statsKey(endpoint, outcome string) string {
	return statsKeyPrefix + endpoint + ":" + outcome
}

func (s *RedisStats) Record(ctx context.Context, endpoint, outcome string) {
	ctxRedis, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := s.Redis.Incr(ctxRedis, statsKey(endpoint, outcome)).Err(); err != nil {
		u.Warn("Redis stats write failed", "endpoint", endpoint, "outcome", outcome, "error", err)
	}
}

func (s *RedisStats) Snapshot(ctx context.Context) (map[string]Counts, error) {
	ctxRedis, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	keys := make([]string, 0, 2*len(Endpoints))
	for _, ep := range Endpoints {
		keys = append(keys, statsKey(ep, OutcomeServed), statsKey(ep, OutcomeFallback))
	}

	vals, err := s.Redis.MGet(ctxRedis, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]Counts, len(Endpoints))
	for i, ep := range Endpoints {
		out[ep] = Counts{
			Served:   parseCount(vals[2*i]),
			Fallback: parseCount(vals[2*i+1]),
		}
	}
	return out, nil
}

func (s *RedisStats) Enabled() bool { return true }

// parseCount reads an MGET value; missing keys come back as nil.
func parseCount(v any) int64 {
	str, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// HandleStats reports served/fallback counters for each proxied endpoint.
func (svc *ProxyService) HandleStats(c *fiber.Ctx) error {
	counts, err := svc.Stats.Snapshot(c.Context())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fiber.NewError(fiber.StatusGatewayTimeout, "Stats backend timed out")
		}
		u.Error("Stats read failed", "error", err)
		return fiber.NewError(fiber.StatusServiceUnavailable, "Stats backend unavailable")
	}

	return c.JSON(fiber.Map{
		"enabled":   svc.Stats.Enabled(),
		"endpoints": counts,
	})
}
