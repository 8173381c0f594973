package config

// Default ports of paramforge services and their dependencies
const (
	// APIServerPort is the port for the REST API server.
	APIServerPort = 8080

	// MetricsPort is the port of the Prometheus metrics endpoint.
	MetricsPort = 9100

	// PostgresPort is the default port for PostgreSQL.
	PostgresPort = 5432

	// RedisPort is the default port for Redis.
	RedisPort = 6379

	// NATSPort is the default port for NATS messaging.
	NATSPort = 4222
)
