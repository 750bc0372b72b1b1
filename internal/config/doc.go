// Package config loads tether configuration from JSON or TOML files, locally
// or from S3.
//
// Unset fields keep their defaults. Durations are strings such as "600ms"
// or "15s".
//
// # Configuration File Structure
//
//	[server]
//	address = ":8080"
//	max_connections = 1024
//	shutdown_timeout = "3s"
//	trusted_proxies = ["10.0.0.0/8"]
//	metrics = true
//
//	[session]
//	ping_interval = "5s"
//	pong_timeout = "15s"
//	termination_grace_period = "1.5s"
//
//	[client]
//	url = "ws://localhost:8080/ws"
//	initial_backoff = "600ms"
//	backoff_multiplier = 1.2
//
//	[storage]
//	database_url = "postgres://tether@localhost/tether"
//	reserved_usernames = ["admin", "support"]
//
//	[log]
//	level = "info"
//	format = "json"
//
// The same keys in camelCase work in JSON files.
//
// # Usage
//
//	cfg, err := config.LoadURI(ctx, "s3://my-bucket/tether.toml", nil)
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	sc, _ := cfg.ServerConfig()
package config
