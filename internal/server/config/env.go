package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
	"github.com/joho/godotenv"
)

const defaultEnvFile = ".env"

// parseEnv overlays values from environment variables. A dotenv file named
// by -env (or ./.env when present) is loaded first; variables already set in
// the process environment are never overwritten by it.
//
//	GRPC_ADDRESS, HTTP_ADDRESS, DATABASE_DSN
//	REDIS_ADDR, REDIS_PASSWORD, REDIS_DB
//	SECRET_KEY, TOKEN_ISSUER, TOKEN_AUDIENCE
//	ACCESS_TOKEN_TTL   minutes
//	REFRESH_TOKEN_TTL  days
//	CACHE_TTL, CACHE_SLIDING_TTL, SWEEP_INTERVAL  Go durations
//	EVENTS_CHANNEL
func parseEnv(config *Config, args []string) {
	envFile := flagx.EnvFile(args)
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			panic(err)
		}
	} else if err := godotenv.Load(defaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	setString(&config.EndpointAddrGRPC, "GRPC_ADDRESS")
	setString(&config.EndpointAddrHTTP, "HTTP_ADDRESS")
	setString(&config.DatabaseDSN, "DATABASE_DSN")
	setString(&config.RedisAddr, "REDIS_ADDR")
	setString(&config.RedisPassword, "REDIS_PASSWORD")
	setInt(&config.RedisDB, "REDIS_DB")
	setString(&config.SecretKey, "SECRET_KEY")
	setString(&config.Issuer, "TOKEN_ISSUER")
	setString(&config.Audience, "TOKEN_AUDIENCE")
	setScaled(&config.AccessTokenLifetime, "ACCESS_TOKEN_TTL", time.Minute)
	setScaled(&config.RefreshTokenLifetime, "REFRESH_TOKEN_TTL", 24*time.Hour)
	setDuration(&config.CacheTTL, "CACHE_TTL")
	setDuration(&config.CacheSlidingTTL, "CACHE_SLIDING_TTL")
	setDuration(&config.SweepInterval, "SWEEP_INTERVAL")
	setString(&config.EventsChannel, "EVENTS_CHANNEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Errorf("%s: %w", key, err))
	}
	*dst = n
}

func setScaled(dst *time.Duration, key string, unit time.Duration) {
	var n int
	if _, ok := os.LookupEnv(key); !ok {
		return
	}
	setInt(&n, key)
	*dst = time.Duration(n) * unit
}

func setDuration(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Errorf("%s: %w", key, err))
	}
	*dst = d
}
