// Package config loads inbox configuration files.
//
// The server reads YAML (Load), the terminal client reads TOML (LoadClient).
// Both expand ${VAR_NAME} references from the environment before parsing, so
// secrets can stay out of the file:
//
//	auth:
//	  jwt_secret: "${INBOX_JWT_SECRET}"
//
// Durations are written as Go duration strings ("10s", "2m") and parsed after
// decoding. Missing optional values get defaults; Validate reports the first
// required field that is missing or malformed.
//
// # Server example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  shutdown_timeout: "10s"
//	database:
//	  path: "./data/inbox.db"
//	auth:
//	  jwt_secret: "${INBOX_JWT_SECRET}"
//	presence:
//	  redis:
//	    enabled: true
//	    addr: "localhost:6379"
//	    ttl: "2m"
//	relay:
//	  node_id: "relay-1"
//	  nats:
//	    enabled: true
//	    url: "nats://localhost:4222"
//	logging:
//	  level: "info"
//	  format: "text"
//
// # Client example
//
//	[principal]
//	id = "buyer-1"
//	role = "user"
//	token = "${INBOX_TOKEN}"
//
//	[server]
//	url = "http://localhost:8080"
//	socket_url = "ws://localhost:8080/socket"
//	request_timeout = "10s"
package config
