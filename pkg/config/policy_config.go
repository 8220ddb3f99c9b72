// Copyright 2025 Certen Protocol
//
// Policy Configuration Loader
//
// Per-chain operational policy (gas ceilings, confirmation depth, poll
// cadence) is tuned far more often than the identity-level chain registry
// (pkg/registry) and varies per deployment, so it lives in its own YAML
// file with environment variable substitution rather than in the
// registry's JSON or in process env vars directly.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ==============================================================================
// Policy Configuration Structures
// ==============================================================================

// PolicyConfig holds per-chain submission policy and batch/monitoring
// tuning for a worker process. Loaded from a YAML file referenced by
// Config.PolicyPath; distinct from the static chain registry (identity,
// escrow addresses, decimals) because policy changes far more often and
// is reasonably deployment-specific (a testnet wants looser gas ceilings
// than mainnet against the same registry).
type PolicyConfig struct {
	Environment string `yaml:"environment"`

	Chains     map[string]ChainPolicy `yaml:"chains"`
	Batch      BatchPolicy            `yaml:"batch"`
	Monitoring MonitoringPolicy       `yaml:"monitoring"`
}

// ChainPolicy contains submission tuning for one chain, keyed by the
// chain's registry name in PolicyConfig.Chains.
type ChainPolicy struct {
	MaxGasPriceGwei    int64    `yaml:"max_gas_price_gwei"`
	GasLimit           int64    `yaml:"gas_limit"`
	EIP1559Enabled     bool     `yaml:"eip1559_enabled"`
	MaxPriorityFeeGwei int64    `yaml:"max_priority_fee_gwei"`
	GasPriceMultiplier float64  `yaml:"gas_price_multiplier"`
	ConfirmationBlocks int      `yaml:"confirmation_blocks"`
	PollInterval       Duration `yaml:"poll_interval"`
	RPCTimeout         Duration `yaml:"rpc_timeout"`
}

// BatchPolicy bounds how much Driver Loop work happens per pass, mirroring
// the step-budget knobs in Config but expressed as policy that can be
// retuned without restarting with new env vars.
type BatchPolicy struct {
	StepsPerIteration int      `yaml:"steps_per_iteration"`
	MaxPlansPerPass   int      `yaml:"max_plans_per_pass"`
	LeaseDuration     Duration `yaml:"lease_duration"`
}

// MonitoringPolicy contains logging and metrics tuning.
type MonitoringPolicy struct {
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	IncludeCaller bool   `yaml:"include_caller"`
}

// ==============================================================================
// Duration Type for YAML Parsing
// ==============================================================================

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ==============================================================================
// Configuration Loading
// ==============================================================================

// LoadPolicyConfig loads policy configuration from a YAML file.
// Environment variables in the form ${VAR_NAME} or ${VAR_NAME:-default}
// are substituted before parsing.
func LoadPolicyConfig(path string) (*PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy config %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg PolicyConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *PolicyConfig) applyDefaults() {
	if c.Batch.StepsPerIteration == 0 {
		c.Batch.StepsPerIteration = DefaultStepsPerIteration
	}
	if c.Batch.MaxPlansPerPass == 0 {
		c.Batch.MaxPlansPerPass = 200
	}
	if c.Batch.LeaseDuration == 0 {
		c.Batch.LeaseDuration = Duration(60 * time.Second)
	}
	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = "info"
	}
	if c.Monitoring.LogFormat == "" {
		c.Monitoring.LogFormat = "json"
	}

	for name, policy := range c.Chains {
		if policy.GasPriceMultiplier == 0 {
			policy.GasPriceMultiplier = 1.1
		}
		if policy.ConfirmationBlocks == 0 {
			policy.ConfirmationBlocks = 12
		}
		if policy.PollInterval == 0 {
			policy.PollInterval = Duration(2 * time.Second)
		}
		if policy.RPCTimeout == 0 {
			policy.RPCTimeout = Duration(30 * time.Second)
		}
		c.Chains[name] = policy
	}
}

// DefaultStepsPerIteration mirrors driver.DefaultStepsPerPlanPerIteration;
// kept as a config-local constant to avoid an import cycle with pkg/driver.
const DefaultStepsPerIteration = 4

// ==============================================================================
// Environment Variable Substitution
// ==============================================================================

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}

		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// ==============================================================================
// Validation
// ==============================================================================

// Validate checks that every chain policy referenced by name is sane.
// It does not check the chain names against the registry; callers should
// cross-check PolicyConfig.Chains keys against registry.ChainRegistry
// after loading both.
func (c *PolicyConfig) Validate() error {
	var errs []string

	for name, policy := range c.Chains {
		if policy.MaxGasPriceGwei <= 0 {
			errs = append(errs, fmt.Sprintf("chains.%s.max_gas_price_gwei must be positive", name))
		}
		if policy.GasLimit <= 0 {
			errs = append(errs, fmt.Sprintf("chains.%s.gas_limit must be positive", name))
		}
	}

	if c.Batch.StepsPerIteration <= 0 {
		errs = append(errs, "batch.steps_per_iteration must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("policy configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ChainPolicyFor returns the policy for a chain name, or the zero value
// and false if no entry exists.
func (c *PolicyConfig) ChainPolicyFor(name string) (ChainPolicy, bool) {
	p, ok := c.Chains[name]
	return p, ok
}
