// Package config loads runtime configuration for the AuthKeeper CLI.
//
// Sources, in order of increasing precedence:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. Command-line flags.
//
// Supported flags
//
//	-a string   address:port of the AuthKeeper gRPC endpoint
//	-o string   base URL of the ops HTTP endpoint (admin sweep)
//	-t int      per-request timeout (seconds)
//
// # JSON schema
//
// Durations are strings like "10s" or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "ops_endpoint_url": "http://127.0.0.1:8080",
//	  "request_timeout": "10s"
//	}
package config
