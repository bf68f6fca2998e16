package config

import (
	"os"
	"time"
)

// Config holds runtime settings for the AuthKeeper CLI.
type Config struct {
	ServerEndpointAddr string
	OpsEndpointURL     string
	RequestTimeout     time.Duration
}

func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.OpsEndpointURL = "http://127.0.0.1:8080"
	c.RequestTimeout = 10 * time.Second
}

// Load builds a Config from defaults, the JSON file named in args and the
// flags in args. It panics on unreadable or malformed input.
func Load(args []string) *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg, args)
	parseFlags(cfg, args)
	return cfg
}

// LoadConfig is Load over the process arguments.
func LoadConfig() *Config {
	return Load(os.Args[1:])
}
