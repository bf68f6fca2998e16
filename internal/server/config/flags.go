package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
)

// parseFlags overlays selected fields from command-line flags.
//
//	-a string    gRPC bind address (e.g. ":50051")
//	-l string    ops HTTP bind address (e.g. ":8080")
//	-d string    PostgreSQL DSN
//	-m string    Redis address
//	-s string    JWT HMAC secret key
//	-i string    token issuer
//	-u string    token audience
//	-t int       access token lifetime, minutes
//	-r int       refresh token lifetime, days
//	-w duration  sweep interval, 0 disables the periodic sweep
//
// Only these flags are looked at, so -c and -env may share the command line.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-a", "-l", "-d", "-m", "-s", "-i", "-u", "-t", "-r", "-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run gRPC server")
	fs.StringVar(&config.EndpointAddrHTTP, "l", config.EndpointAddrHTTP, "address and port to run ops HTTP server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisAddr, "m", config.RedisAddr, "redis address")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.Issuer, "i", config.Issuer, "token issuer")
	fs.StringVar(&config.Audience, "u", config.Audience, "token audience")

	accessMinutes := fs.Int("t", int(config.AccessTokenLifetime/time.Minute), "access token lifetime (in minutes)")
	refreshDays := fs.Int("r", int(config.RefreshTokenLifetime/(24*time.Hour)), "refresh token lifetime (in days)")

	fs.DurationVar(&config.SweepInterval, "w", config.SweepInterval, "sweep interval")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// only touch lifetimes that were given, so sub-unit values from other layers survive
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenLifetime = time.Duration(*accessMinutes) * time.Minute
		case "r":
			config.RefreshTokenLifetime = time.Duration(*refreshDays) * 24 * time.Hour
		}
	})
}
