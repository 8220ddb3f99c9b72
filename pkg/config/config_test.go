// Copyright 2025 Certen Protocol

package config

import (
	"os"
	"testing"
	"time"
)

// clearEnv removes every env var Load/LoadPolicyConfig read so tests don't
// leak state from the host environment or from each other.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"API_HOST", "API_PORT", "METRICS_PORT", "HEALTH_CHECK_PORT",
		"COORDINATOR_BACKEND", "FIREBASE_PROJECT_ID", "FIRESTORE_COLLECTION",
		"GOOGLE_APPLICATION_CREDENTIALS",
		"DATABASE_URL", "DATABASE_REQUIRED", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
		"DB_CONN_MAX_LIFETIME",
		"CHAIN_REGISTRY_PATH", "CHAIN_POLICY_PATH",
		"EVM_SIGNER_KEY", "SUBSTRATE_SIGNER_SEED",
		"WORKER_ID", "LEASE_DURATION", "STEP_RETRY_BUDGET", "STEPS_PER_ITERATION",
		"POLL_INTERVAL", "LOG_LEVEL",
	}
	for _, k := range keys {
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unsetenv %s: %v", k, err)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:8080" {
		t.Errorf("ListenAddr default = %q, want 0.0.0.0:8080", cfg.ListenAddr)
	}
	if cfg.CoordinatorBackend != "firestore" {
		t.Errorf("CoordinatorBackend default = %q, want firestore", cfg.CoordinatorBackend)
	}
	if cfg.RetryBudget != 3 {
		t.Errorf("RetryBudget default = %d, want 3", cfg.RetryBudget)
	}
	if cfg.StepsPerIteration != 4 {
		t.Errorf("StepsPerIteration default = %d, want 4", cfg.StepsPerIteration)
	}
	if cfg.LeaseDuration != 60*time.Second {
		t.Errorf("LeaseDuration default = %v, want 60s", cfg.LeaseDuration)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval default = %v, want 2s", cfg.PollInterval)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("COORDINATOR_BACKEND", "memory")
	t.Setenv("CHAIN_REGISTRY_PATH", "/etc/privadex/registry.json")
	t.Setenv("EVM_SIGNER_KEY", "0xdeadbeef")
	t.Setenv("STEP_RETRY_BUDGET", "7")
	t.Setenv("LEASE_DURATION", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.CoordinatorBackend != "memory" {
		t.Errorf("CoordinatorBackend = %q, want memory", cfg.CoordinatorBackend)
	}
	if cfg.RegistryPath != "/etc/privadex/registry.json" {
		t.Errorf("RegistryPath = %q", cfg.RegistryPath)
	}
	if cfg.RetryBudget != 7 {
		t.Errorf("RetryBudget = %d, want 7", cfg.RetryBudget)
	}
	if cfg.LeaseDuration != 90*time.Second {
		t.Errorf("LeaseDuration = %v, want 90s", cfg.LeaseDuration)
	}
}

func TestLoad_MalformedEnvFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("STEP_RETRY_BUDGET", "not-a-number")
	t.Setenv("LEASE_DURATION", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RetryBudget != 3 {
		t.Errorf("RetryBudget with malformed env = %d, want default 3", cfg.RetryBudget)
	}
	if cfg.LeaseDuration != 60*time.Second {
		t.Errorf("LeaseDuration with malformed env = %v, want default 60s", cfg.LeaseDuration)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			CoordinatorBackend: "memory",
			RegistryPath:       "/etc/privadex/registry.json",
			EVMSignerKeyHex:    "0xdeadbeef",
			LeaseDuration:      60 * time.Second,
			RetryBudget:        3,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid memory backend", func(c *Config) {}, false},
		{"firestore without project id", func(c *Config) {
			c.CoordinatorBackend = "firestore"
		}, true},
		{"firestore with project id", func(c *Config) {
			c.CoordinatorBackend = "firestore"
			c.FirestoreProjectID = "privadex-prod"
		}, false},
		{"unknown backend", func(c *Config) {
			c.CoordinatorBackend = "sqlite"
		}, true},
		{"missing registry path", func(c *Config) {
			c.RegistryPath = ""
		}, true},
		{"no signer configured", func(c *Config) {
			c.EVMSignerKeyHex = ""
			c.SubstrateSignerSeed = ""
		}, true},
		{"substrate signer only is sufficient", func(c *Config) {
			c.EVMSignerKeyHex = ""
			c.SubstrateSignerSeed = "//Alice"
		}, false},
		{"database required but unset", func(c *Config) {
			c.DatabaseRequired = true
		}, true},
		{"database url with sslmode disable", func(c *Config) {
			c.DatabaseURL = "postgres://localhost/privadex?sslmode=disable"
		}, true},
		{"zero lease duration", func(c *Config) {
			c.LeaseDuration = 0
		}, true},
		{"zero retry budget", func(c *Config) {
			c.RetryBudget = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateForDevelopment(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateForDevelopment(); err == nil {
		t.Errorf("expected error with no RegistryPath set")
	}

	cfg.RegistryPath = "./testdata/registry.json"
	if err := cfg.ValidateForDevelopment(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadPolicyConfig(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/policy.yaml"
	content := `
environment: testnet
chains:
  ethereum-sepolia:
    max_gas_price_gwei: 50
    gas_limit: 300000
    eip1559_enabled: true
  moonbase-alpha:
    max_gas_price_gwei: 10
    gas_limit: 200000
batch:
  steps_per_iteration: 8
monitoring:
  log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	cfg, err := LoadPolicyConfig(path)
	if err != nil {
		t.Fatalf("LoadPolicyConfig: %v", err)
	}

	if cfg.Environment != "testnet" {
		t.Errorf("Environment = %q, want testnet", cfg.Environment)
	}
	eth, ok := cfg.ChainPolicyFor("ethereum-sepolia")
	if !ok {
		t.Fatalf("expected ethereum-sepolia policy to be present")
	}
	if eth.MaxGasPriceGwei != 50 {
		t.Errorf("ethereum-sepolia MaxGasPriceGwei = %d, want 50", eth.MaxGasPriceGwei)
	}
	if eth.GasPriceMultiplier != 1.1 {
		t.Errorf("ethereum-sepolia GasPriceMultiplier default = %v, want 1.1", eth.GasPriceMultiplier)
	}
	if eth.ConfirmationBlocks != 12 {
		t.Errorf("ethereum-sepolia ConfirmationBlocks default = %d, want 12", eth.ConfirmationBlocks)
	}
	if cfg.Batch.StepsPerIteration != 8 {
		t.Errorf("Batch.StepsPerIteration = %d, want 8", cfg.Batch.StepsPerIteration)
	}
	if cfg.Batch.MaxPlansPerPass != 200 {
		t.Errorf("Batch.MaxPlansPerPass default = %d, want 200", cfg.Batch.MaxPlansPerPass)
	}
	if cfg.Monitoring.LogLevel != "debug" {
		t.Errorf("Monitoring.LogLevel = %q, want debug", cfg.Monitoring.LogLevel)
	}
	if cfg.Monitoring.LogFormat != "json" {
		t.Errorf("Monitoring.LogFormat default = %q, want json", cfg.Monitoring.LogFormat)
	}

	if _, ok := cfg.ChainPolicyFor("unknown-chain"); ok {
		t.Errorf("expected unknown-chain policy to be absent")
	}
}

func TestLoadPolicyConfig_EnvSubstitution(t *testing.T) {
	t.Setenv("MAX_GAS_GWEI", "75")

	dir := t.TempDir()
	path := dir + "/policy.yaml"
	content := `
chains:
  ethereum-sepolia:
    max_gas_price_gwei: ${MAX_GAS_GWEI}
    gas_limit: ${GAS_LIMIT:-250000}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	cfg, err := LoadPolicyConfig(path)
	if err != nil {
		t.Fatalf("LoadPolicyConfig: %v", err)
	}
	eth, ok := cfg.ChainPolicyFor("ethereum-sepolia")
	if !ok {
		t.Fatalf("expected ethereum-sepolia policy to be present")
	}
	if eth.MaxGasPriceGwei != 75 {
		t.Errorf("MaxGasPriceGwei = %d, want 75 (from env)", eth.MaxGasPriceGwei)
	}
	if eth.GasLimit != 250000 {
		t.Errorf("GasLimit = %d, want 250000 (from default)", eth.GasLimit)
	}
}

func TestPolicyConfig_Validate(t *testing.T) {
	valid := &PolicyConfig{
		Chains: map[string]ChainPolicy{
			"ethereum-sepolia": {MaxGasPriceGwei: 50, GasLimit: 300000},
		},
		Batch: BatchPolicy{StepsPerIteration: 4},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	invalid := &PolicyConfig{
		Chains: map[string]ChainPolicy{
			"ethereum-sepolia": {MaxGasPriceGwei: 0, GasLimit: 300000},
		},
		Batch: BatchPolicy{StepsPerIteration: 0},
	}
	if err := invalid.Validate(); err == nil {
		t.Errorf("expected error for zero gas price and zero steps_per_iteration")
	}
}
