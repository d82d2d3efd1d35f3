package utils

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetTokensCache() {
	tokens.Lock()
	tokens.limits = nil
	tokens.Unlock()
}

func TestLoadTokensAndValidation(t *testing.T) {
	defer resetTokensCache()

	assert.False(t, TokensReady())
	LoadTokensFromMap(map[string]int{"mirror": 5, "ci": 10})

	assert.True(t, TokensReady())
	assert.True(t, ValidateToken("mirror"))
	assert.Equal(t, 5, GetRateLimit("mirror"))
	assert.True(t, ValidateToken("ci"))
	assert.Equal(t, 10, GetRateLimit("ci"))
	assert.False(t, ValidateToken("stranger"))
	assert.Equal(t, 0, GetRateLimit("stranger"))
}

func TestLoadTokensReplacesCache(t *testing.T) {
	defer resetTokensCache()

	src := map[string]int{"a": 5, "b": 10}
	LoadTokensFromMap(src)
	src["a"] = 99
	assert.Equal(t, 5, GetRateLimit("a"), "cache must not alias the caller's map")

	LoadTokensFromMap(map[string]int{"a": 7, "c": 12})
	assert.Equal(t, 7, GetRateLimit("a"))
	assert.False(t, ValidateToken("b"))
	assert.Equal(t, 12, GetRateLimit("c"))
}

func TestEmptyMapMarksReady(t *testing.T) {
	defer resetTokensCache()

	LoadTokensFromMap(nil)
	assert.True(t, TokensReady())
	assert.False(t, ValidateToken(""))
}

func TestPostgresDSN_BuildsURL(t *testing.T) {
	dsn, err := postgresDSN(PostgresConfig{
		Host:     "localhost",
		Database: "botwave",
		User:     "user",
		Password: "p@ss word",
		SSLMode:  "disable",
	})
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "localhost:5432", u.Host)
	assert.Equal(t, "/botwave", u.Path)
	assert.Equal(t, "user", u.User.Username())
	pw, ok := u.User.Password()
	assert.True(t, ok)
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}

func TestPostgresDSN_HostForms(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{host: "db", port: 6543, want: "db:6543"},
		{host: "db:7000", want: "db:7000"},
		{host: "::1", want: "[::1]:5432"},
		{host: "[::1]:6000", want: "[::1]:6000"},
	}
	for _, tc := range tests {
		t.Run(tc.host, func(t *testing.T) {
			dsn, err := postgresDSN(PostgresConfig{Host: tc.host, Port: tc.port, Database: "d", User: "u"})
			require.NoError(t, err)
			u, err := url.Parse(dsn)
			require.NoError(t, err)
			assert.Equal(t, tc.want, u.Host)
			assert.Empty(t, u.RawQuery)
		})
	}
}

func TestPostgresDSN_Passthrough(t *testing.T) {
	raw := "postgres://u:p@localhost:5432/db?sslmode=disable"
	dsn, err := postgresDSN(PostgresConfig{Host: raw})
	assert.NoError(t, err)
	assert.Equal(t, raw, dsn)
}

func TestPostgresDSN_MissingFields(t *testing.T) {
	for _, cfg := range []PostgresConfig{
		{},
		{Host: "db"},
		{Host: "db", Database: "d"},
	} {
		_, err := postgresDSN(cfg)
		assert.Error(t, err)
	}
}

func TestLoadTokensFromPostgres_KeepsCacheOnError(t *testing.T) {
	defer resetTokensCache()
	LoadTokensFromMap(map[string]int{"keep": 3})

	err := LoadTokensFromPostgres(context.Background(), PostgresConfig{})
	assert.Error(t, err)
	assert.Equal(t, 3, GetRateLimit("keep"))
}

func TestRefreshTokensPeriodically_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RefreshTokensPeriodically(ctx, PostgresConfig{}, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop after cancel")
	}
}
