package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"botwave-web/internal/app"
	"botwave-web/internal/upstream"
	u "botwave-web/internal/utils"
	"botwave-web/internal/version"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		u.Error("botwave-web failed", "error", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "botwave-web",
		Usage: "BotWave website backend: latest version and uninstall script proxy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to the YAML config file",
				EnvVars: []string{"CONFIG_PATH"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the web server",
				Action: runServe,
			},
			{
				Name:  "latest",
				Usage: "Fetch the latest published version once and compare it with --current",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "current",
						Usage: "Locally installed version, e.g. 1.0.0",
					},
				},
				Action: runLatest,
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg := u.LoadConfigFrom(c.String("config"))
	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	var rdb *redis.Client
	if cfg.Cache.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.StatsDB,
		})
		defer rdb.Close()
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	if cfg.Auth.Postgres.Host == "" {
		// No token store: every request is anonymous.
		u.LoadTokensFromMap(nil)
	} else {
		if err := u.LoadTokensFromPostgres(ctx, cfg.Auth.Postgres); err != nil {
			u.Error("Failed to load API tokens", "error", err)
		}
		go u.RefreshTokensPeriodically(ctx, cfg.Auth.Postgres, cfg.Auth.RefreshInterval)
		defer u.CloseTokenDB()
	}

	idleConnsClosed := make(chan struct{})
	srv := app.SetupApp(cfg, rdb, nil)

	startServer(srv, cfg, idleConnsClosed)
	<-idleConnsClosed
	return nil
}

// startServer starts the Fiber app and blocks until a termination signal has
// been handled.
func startServer(srv *fiber.App, cfg u.Config, idleConnsClosed chan struct{}) {
	addr := cfg.Server.Host + cfg.Server.Port
	go func() {
		u.Info("Listening", "addr", addr)
		if err := srv.Listen(addr); err != nil {
			u.Error("Server error", "error", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)
	<-sigint

	u.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	u.Info("Server stopped cleanly")
}

func runLatest(c *cli.Context) error {
	cfg := u.LoadConfigFrom(c.String("config"))
	u.SetLogLevel(cfg.Logger.Level)

	fetcher := upstream.NewHTTPFetcher(nil, cfg.Upstream.UserAgent, cfg.Upstream.Timeout)
	body, err := fetcher.Fetch(c.Context, cfg.Upstream.VersionURL)
	if err != nil {
		return fmt.Errorf("fetch latest version: %w", err)
	}

	remote := strings.TrimSpace(string(body))
	fmt.Fprintln(c.App.Writer, remote)

	current := c.String("current")
	if current == "" {
		return nil
	}
	if version.Newer(remote, current) {
		fmt.Fprintf(c.App.Writer, "update available: %s -> %s\n", current, remote)
	} else {
		fmt.Fprintf(c.App.Writer, "up to date (%s)\n", current)
	}
	if !version.Compatible(remote, current) {
		fmt.Fprintln(c.App.Writer, "protocol mismatch: clients and servers must share major.minor")
	}
	return nil
}
