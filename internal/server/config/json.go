package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the JSON config file. Durations accept
// strings such as "15m" or integer nanoseconds. Absent keys leave the
// corresponding Config field untouched.
type JsonConfig struct {
	EndpointAddrGRPC     *string         `json:"endpoint_addr_grpc"`
	EndpointAddrHTTP     *string         `json:"endpoint_addr_http"`
	DatabaseDSN          *string         `json:"database_dsn"`
	RedisAddr            *string         `json:"redis_addr"`
	RedisPassword        *string         `json:"redis_password"`
	RedisDB              *int            `json:"redis_db"`
	SecretKey            *string         `json:"secret_key"`
	Issuer               *string         `json:"issuer"`
	Audience             *string         `json:"audience"`
	AccessTokenLifetime  *timex.Duration `json:"access_token_lifetime"`
	RefreshTokenLifetime *timex.Duration `json:"refresh_token_lifetime"`
	CacheTTL             *timex.Duration `json:"cache_ttl"`
	CacheSlidingTTL      *timex.Duration `json:"cache_sliding_ttl"`
	SweepInterval        *timex.Duration `json:"sweep_interval"`
	EventsChannel        *string         `json:"events_channel"`
}

// parseJson overlays values from the file named by -c/-config. Without the
// flag nothing is loaded. Unreadable or invalid files panic.
func parseJson(config *Config, args []string) {
	jsonConfigFile := flagx.ConfigFile(args)
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	copyIf(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	copyIf(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	copyIf(&config.DatabaseDSN, c.DatabaseDSN)
	copyIf(&config.RedisAddr, c.RedisAddr)
	copyIf(&config.RedisPassword, c.RedisPassword)
	copyIf(&config.RedisDB, c.RedisDB)
	copyIf(&config.SecretKey, c.SecretKey)
	copyIf(&config.Issuer, c.Issuer)
	copyIf(&config.Audience, c.Audience)
	copyIf(&config.EventsChannel, c.EventsChannel)

	copyDuration(&config.AccessTokenLifetime, c.AccessTokenLifetime)
	copyDuration(&config.RefreshTokenLifetime, c.RefreshTokenLifetime)
	copyDuration(&config.CacheTTL, c.CacheTTL)
	copyDuration(&config.CacheSlidingTTL, c.CacheSlidingTTL)
	copyDuration(&config.SweepInterval, c.SweepInterval)
}

func copyIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func copyDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
