package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// API tokens let trusted clients (mirrors, CI jobs polling the latest version)
// bypass the anonymous per-client limiter and use their own limit instead.
var tokens struct {
	sync.RWMutex
	limits map[string]int
}

var tokenDB struct {
	sync.Mutex
	dsn string
	db  *sql.DB
}

var (
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that tokens have not been loaded yet.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)

const tokensSchema = `CREATE TABLE IF NOT EXISTS api_tokens (
	token      TEXT PRIMARY KEY,
	rate_limit INTEGER NOT NULL DEFAULT 120,
	label      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

func postgresDSN(cfg PostgresConfig) (string, error) {
	if strings.HasPrefix(cfg.Host, "postgres://") || strings.HasPrefix(cfg.Host, "postgresql://") {
		return cfg.Host, nil
	}
	switch {
	case cfg.Host == "":
		return "", errors.New("postgres host is empty")
	case cfg.Database == "":
		return "", errors.New("postgres database is empty")
	case cfg.User == "":
		return "", errors.New("postgres user is empty")
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	host := strings.Trim(cfg.Host, "[]")
	if h, p, err := net.SplitHostPort(cfg.Host); err == nil {
		host = h
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String(), nil
}

// openTokenDB returns a pooled connection for cfg, replacing the previous one
// when the DSN changed.
func openTokenDB(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	dsn, err := postgresDSN(cfg)
	if err != nil {
		return nil, err
	}

	tokenDB.Lock()
	defer tokenDB.Unlock()

	if tokenDB.db != nil && tokenDB.dsn == dsn {
		return tokenDB.db, nil
	}
	if tokenDB.db != nil {
		_ = tokenDB.db.Close()
		tokenDB.db, tokenDB.dsn = nil, ""
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open token db: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping token db: %w", err)
	}

	tokenDB.db, tokenDB.dsn = db, dsn
	return db, nil
}

// LoadTokensFromPostgres creates the api_tokens table if needed and replaces
// the in-memory token cache with its contents.
func LoadTokensFromPostgres(ctx context.Context, cfg PostgresConfig) error {
	db, err := openTokenDB(ctx, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, tokensSchema); err != nil {
		return fmt.Errorf("ensure api_tokens: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT token, rate_limit FROM api_tokens`)
	if err != nil {
		return fmt.Errorf("query api_tokens: %w", err)
	}
	defer rows.Close()

	limits := make(map[string]int)
	for rows.Next() {
		var token string
		var limit int
		if err := rows.Scan(&token, &limit); err != nil {
			return fmt.Errorf("scan api_tokens: %w", err)
		}
		limits[token] = limit
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate api_tokens: %w", err)
	}

	LoadTokensFromMap(limits)
	return nil
}

// LoadTokensFromMap replaces the token cache with a copy of m.
func LoadTokensFromMap(m map[string]int) {
	limits := make(map[string]int, len(m))
	for k, v := range m {
		limits[k] = v
	}
	tokens.Lock()
	tokens.limits = limits
	tokens.Unlock()
}

// TokensReady reports whether the cache was loaded at least once.
func TokensReady() bool {
	tokens.RLock()
	defer tokens.RUnlock()
	return tokens.limits != nil
}

func ValidateToken(token string) bool {
	tokens.RLock()
	defer tokens.RUnlock()
	_, ok := tokens.limits[token]
	return ok
}

// GetRateLimit returns the limit for token, or 0 (unlimited) if it is unknown.
func GetRateLimit(token string) int {
	tokens.RLock()
	defer tokens.RUnlock()
	return tokens.limits[token]
}

// RefreshTokensPeriodically reloads tokens every interval until ctx is done.
// Failed reloads keep the previous cache.
func RefreshTokensPeriodically(ctx context.Context, cfg PostgresConfig, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := LoadTokensFromPostgres(ctx, cfg); err != nil {
				Warn("Failed to reload API tokens", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// CloseTokenDB releases the token database connection, if any.
func CloseTokenDB() error {
	tokenDB.Lock()
	defer tokenDB.Unlock()
	if tokenDB.db == nil {
		return nil
	}
	err := tokenDB.db.Close()
	tokenDB.db, tokenDB.dsn = nil, ""
	return err
}
