package app

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/rs/xid"

	u "botwave-web/internal/utils"
)

const apiKeyLocal = "api_key"

var (
	tokenLimiterCache struct {
		sync.RWMutex
		handlers map[int]fiber.Handler
	}
	rateLimitStore fiber.Storage
)

func tooManyRequests(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    fiber.StatusTooManyRequests,
			"message": "Too Many Requests",
		},
	})
}

// clientKey identifies an anonymous client by address and user agent.
func clientKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return hex.EncodeToString(sum[:])
}

// getTokenLimiter returns the shared limiter for a token limit, building it on
// first use.
func getTokenLimiter(limit int, interval time.Duration) fiber.Handler {
	tokenLimiterCache.RLock()
	h, ok := tokenLimiterCache.handlers[limit]
	tokenLimiterCache.RUnlock()
	if ok {
		return h
	}

	tokenLimiterCache.Lock()
	defer tokenLimiterCache.Unlock()
	if h, ok := tokenLimiterCache.handlers[limit]; ok {
		return h
	}

	h = limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           rateLimitStore,
		KeyGenerator: func(c *fiber.Ctx) string {
			token, _ := c.Locals(apiKeyLocal).(string)
			return "token:" + token
		},
		LimitReached: func(c *fiber.Ctx) error {
			u.Warn("Token rate limit exceeded", "path", c.Path())
			return tooManyRequests(c)
		},
	})
	if tokenLimiterCache.handlers == nil {
		tokenLimiterCache.handlers = make(map[int]fiber.Handler)
	}
	tokenLimiterCache.handlers[limit] = h
	return h
}

// tokenRateLimitMiddleware applies the per-token limit to requests that
// authenticated with X-API-Key.
func tokenRateLimitMiddleware(interval time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals(apiKeyLocal).(string)
		if !ok || token == "" {
			return c.Next()
		}
		limit := u.GetRateLimit(token)
		if limit <= 0 {
			return c.Next()
		}
		return getTokenLimiter(limit, interval)(c)
	}
}

// userRateLimitMiddleware limits anonymous clients. Authenticated requests
// skip it; their token limit already applied.
func userRateLimitMiddleware(cfg u.Config) fiber.Handler {
	if cfg.RateLimiter.UserLimit <= 0 {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	userLimiter := limiter.New(limiter.Config{
		Max:               cfg.RateLimiter.UserLimit,
		Expiration:        cfg.RateLimiter.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           rateLimitStore,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "user:" + clientKey(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			u.Warn("Client rate limit exceeded", "client", clientKey(c), "path", c.Path())
			return tooManyRequests(c)
		},
	})
	return func(c *fiber.Ctx) error {
		if token, ok := c.Locals(apiKeyLocal).(string); ok && token != "" {
			return c.Next()
		}
		return userLimiter(c)
	}
}

// newRateLimitStore prefers Redis so limits hold across instances, falling
// back to memory when Redis is not configured or unreachable.
func newRateLimitStore(cfg u.Config) (store fiber.Storage) {
	if cfg.Cache.RedisHost == "" {
		return memoryStorage.New()
	}

	defer func() {
		if r := recover(); r != nil {
			u.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
			store = memoryStorage.New()
		}
	}()
	store = redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.Cache.RedisHost},
		Database: cfg.Cache.RateLimitDB,
	})
	u.Info("Using Redis for rate limiting", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.RateLimitDB)
	return store
}

func apiKeyError(c *fiber.Ctx, err error) error {
	status := fiber.StatusUnauthorized
	if err == nil {
		err = fiber.ErrUnauthorized
	}
	if errors.Is(err, u.ErrTokenStoreNotReady) {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    status,
			"message": err.Error(),
		},
	})
}

// RegisterMiddleware attaches global middleware to the app.
func RegisterMiddleware(app *fiber.App, cfg u.Config) {
	rateLimitStore = newRateLimitStore(cfg)
	tokenLimiterCache.Lock()
	tokenLimiterCache.handlers = nil
	tokenLimiterCache.Unlock()

	// The install/uninstall one-liners are fetched cross-origin from the site.
	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New())

	app.Use(keyauth.New(keyauth.Config{
		KeyLookup:  "header:X-API-Key",
		ContextKey: apiKeyLocal,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if !u.TokensReady() {
				return false, u.ErrTokenStoreNotReady
			}
			if !u.ValidateToken(key) {
				return false, u.ErrInvalidAPIKey
			}
			return true, nil
		},
		// API keys are optional; anonymous requests go to the user limiter.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Get("X-API-Key") == ""
		},
		ErrorHandler: apiKeyError,
	}))

	app.Use(tokenRateLimitMiddleware(cfg.RateLimiter.Interval))

	if cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0 {
		app.Use(userRateLimitMiddleware(cfg))
	}

	app.Use(func(c *fiber.Ctx) error {
		u.Info("Incoming request",
			"method", c.Method(),
			"path", c.Path(),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID))
		return c.Next()
	})
}
