// internal/config/config.go

package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries every environment-driven setting. Values are read once at
// startup; a .env file in the working directory overrides nothing already set
// in the environment.
type Config struct {
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	OllamaBaseURL      string
	EmbeddingModel     string
	EmbeddingDimension int

	DataDir string

	// Live Oracle introspection. Optional; only the introspect command
	// needs these.
	OracleUser     string
	OraclePassword string
	OracleDSN      string

	// Postgres embedding mirror. Empty disables mirroring.
	PostgresDSN string

	// VectorBackend selects where similarity ranking runs: "neo4j" or
	// "postgres" (requires the mirror).
	VectorBackend string

	LogLevel string
}

// Load reads configuration from the environment, after loading .env when
// present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Neo4jURI:      envOr("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:     envOr("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: envOr("NEO4J_PASSWORD", "password"),

		OllamaBaseURL:      envOr("OLLAMA_BASE_URL", "http://localhost:11434"),
		EmbeddingModel:     envOr("EMBEDDING_MODEL", "nomic-embed-text"),
		EmbeddingDimension: envIntOr("EMBEDDING_DIMENSION", 768),

		DataDir: envOr("DATA_DIR", "data"),

		OracleUser:     os.Getenv("ORACLE_USER"),
		OraclePassword: os.Getenv("ORACLE_PASSWORD"),
		OracleDSN:      os.Getenv("ORACLE_DSN"),

		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		VectorBackend: envOr("VECTOR_BACKEND", "neo4j"),

		LogLevel: envOr("LOG_LEVEL", "info"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
