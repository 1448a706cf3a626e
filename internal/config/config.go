// Package config loads worker configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every external collaborator's connection settings, loaded
// once at process startup.
type Config struct {
	PostgresURI string

	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageRegion    string

	OpenSearchEndpoint string
	OpenSearchUser     string
	OpenSearchPassword string
	OpenSearchCACert   string

	RabbitMQHost     string
	RabbitMQUser     string
	RabbitMQPassword string
	RabbitMQSSL      bool

	Queue string

	OpenAIAPIKey   string
	EmbeddingModel string

	MetricsPort int
}

// required env vars with no sensible default; missing any one is a fatal
// programmer/operator error at startup.
var requiredVars = []string{
	"POSTGRES_URI",
	"STORAGE_ENDPOINT",
	"STORAGE_ACCESS_KEY",
	"STORAGE_SECRET_KEY",
	"STORAGE_BUCKET",
	"OPENSEARCH_ENDPOINT",
	"RABBITMQ_HOST",
	"QUEUE",
	"OPENAI_API_KEY",
}

// Load reads Config from the environment, returning an error naming every
// missing required variable.
func Load() (Config, error) {
	var missing []string
	for _, name := range requiredVars {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return Config{
		PostgresURI: os.Getenv("POSTGRES_URI"),

		StorageEndpoint:  os.Getenv("STORAGE_ENDPOINT"),
		StorageAccessKey: os.Getenv("STORAGE_ACCESS_KEY"),
		StorageSecretKey: os.Getenv("STORAGE_SECRET_KEY"),
		StorageBucket:    os.Getenv("STORAGE_BUCKET"),
		StorageRegion:    envOr("STORAGE_REGION", "us-east-1"),

		OpenSearchEndpoint: os.Getenv("OPENSEARCH_ENDPOINT"),
		OpenSearchUser:     os.Getenv("OPENSEARCH_USER"),
		OpenSearchPassword: os.Getenv("OPENSEARCH_PASSWORD"),
		OpenSearchCACert:   os.Getenv("OPENSEARCH_CA_CERT"),

		RabbitMQHost:     os.Getenv("RABBITMQ_HOST"),
		RabbitMQUser:     envOr("RABBITMQ_USER", "guest"),
		RabbitMQPassword: envOr("RABBITMQ_PASSWORD", "guest"),
		RabbitMQSSL:      envOrBool("RABBITMQ_SSL", false),

		Queue: os.Getenv("QUEUE"),

		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		EmbeddingModel: envOr("EMBEDDING_MODEL", "text-embedding-3-small"),

		MetricsPort: envOrInt("METRICS_PORT", 9090),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envOrBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
