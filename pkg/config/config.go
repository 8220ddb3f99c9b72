// Copyright 2025 Certen Protocol

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for a PrivaDEX worker process.
type Config struct {
	// Server Configuration
	ListenAddr  string
	MetricsAddr string
	HealthAddr  string

	// Coordinator store backend: "firestore" or "memory". "memory" is only
	// safe for a single worker process (local development, tests).
	CoordinatorBackend  string
	FirestoreProjectID  string
	FirestoreCollection string
	GoogleCredentialsFile string

	// Operator snapshot store (pkg/opstore), PostgreSQL-backed.
	DatabaseURL         string
	DatabaseRequired    bool
	DBMaxOpenConns      int
	DBMaxIdleConns      int
	DBConnMaxLifetime   time.Duration

	// Static chain registry (pkg/registry): a JSON file describing every
	// chain this worker can submit to. See registry.LoadStaticRegistryFile.
	RegistryPath string

	// Per-chain operational policy (gas ceilings, confirmation depth, poll
	// cadence): a YAML file, see LoadPolicyConfig. Optional. cmd/worker
	// loads and validates it at startup; the chain adapters do not read its
	// values and always use their own built-in settings.
	PolicyPath string

	// Signing keys. One worker process signs on behalf of one account per
	// chain family, the same account on every chain of that family.
	EVMSignerKeyHex     string
	SubstrateSignerSeed string

	// Driver Loop tuning
	WorkerID           string
	LeaseDuration      time.Duration
	RetryBudget        int
	StepsPerIteration  int
	PollInterval       time.Duration

	LogLevel string
}

// Load reads configuration from environment variables. Call Validate() or
// ValidateForDevelopment() afterward before starting the worker.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		HealthAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("HEALTH_CHECK_PORT", "8081"),

		CoordinatorBackend:    getEnv("COORDINATOR_BACKEND", "firestore"),
		FirestoreProjectID:    getEnv("FIREBASE_PROJECT_ID", ""),
		FirestoreCollection:   getEnv("FIRESTORE_COLLECTION", "privadex"),
		GoogleCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DatabaseRequired:  getEnvBool("DATABASE_REQUIRED", false),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),

		RegistryPath: getEnv("CHAIN_REGISTRY_PATH", ""),
		PolicyPath:   getEnv("CHAIN_POLICY_PATH", ""),

		EVMSignerKeyHex:     getEnv("EVM_SIGNER_KEY", ""),
		SubstrateSignerSeed: getEnv("SUBSTRATE_SIGNER_SEED", ""),

		WorkerID:          getEnv("WORKER_ID", "worker-default"),
		LeaseDuration:     getEnvDuration("LEASE_DURATION", 60*time.Second),
		RetryBudget:       getEnvInt("STEP_RETRY_BUDGET", 3),
		StepsPerIteration: getEnvInt("STEPS_PER_ITERATION", 4),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 2*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and secure.
// This must be called after Load() before starting the service.
func (c *Config) Validate() error {
	var errs []string

	switch c.CoordinatorBackend {
	case "firestore":
		if c.FirestoreProjectID == "" {
			errs = append(errs, "FIREBASE_PROJECT_ID is required when COORDINATOR_BACKEND=firestore")
		}
	case "memory":
		// fine for local/dev, never for a multi-process deployment
	default:
		errs = append(errs, fmt.Sprintf("COORDINATOR_BACKEND must be \"firestore\" or \"memory\", got %q", c.CoordinatorBackend))
	}

	if c.RegistryPath == "" {
		errs = append(errs, "CHAIN_REGISTRY_PATH is required but not set")
	}

	if c.EVMSignerKeyHex == "" && c.SubstrateSignerSeed == "" {
		errs = append(errs, "at least one of EVM_SIGNER_KEY or SUBSTRATE_SIGNER_SEED is required")
	}

	if c.DatabaseRequired && c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	}
	if c.DatabaseURL != "" && strings.Contains(c.DatabaseURL, "sslmode=disable") {
		errs = append(errs, "DATABASE_URL must use sslmode=require for production security")
	}

	if c.LeaseDuration <= 0 {
		errs = append(errs, "LEASE_DURATION must be positive")
	}
	if c.RetryBudget <= 0 {
		errs = append(errs, "STEP_RETRY_BUDGET must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for local
// development against coordinator.MemoryStore. Do not use in production.
func (c *Config) ValidateForDevelopment() error {
	if c.RegistryPath == "" {
		return fmt.Errorf("development configuration validation failed:\n  - CHAIN_REGISTRY_PATH is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
