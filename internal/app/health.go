package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/mediatrends/internal/cli"
	"horse.fit/mediatrends/internal/semantic"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Second, "Database and cache ping timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rt, err := openRuntime(envLoader, "health", *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := rt.pool.Ping(ctx); err != nil {
		rt.logger.Error().Err(err).Msg("database ping failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	fmt.Println("ok: database ping successful")

	if redisURL := strings.TrimSpace(rt.cfg.RedisURL); redisURL != "" {
		client, err := semantic.NewRedisClient(redisURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
			return 1
		}
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			// the similarity cache is optional; matching falls through to postgres
			rt.logger.Warn().Err(err).Msg("redis ping failed")
			fmt.Printf("warn: redis ping failed: %v\n", err)
		} else {
			fmt.Println("ok: redis ping successful")
		}
	}

	rt.logger.Info().
		Dur("timeout", *timeout).
		Msg("health check passed")
	return 0
}
