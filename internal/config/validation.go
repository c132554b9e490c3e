package config

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	nodeNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)
	// Classic addresses are base58 (ripple alphabet), start with 'r',
	// 25-35 characters.
	addressPattern = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)
)

// Validate checks the configuration for internal consistency.
func Validate(cfg *Config) error {
	if cfg.NodeName == "" {
		return fmt.Errorf("node_name is required")
	}
	if !nodeNamePattern.MatchString(cfg.NodeName) {
		return fmt.Errorf("node_name %q must be lowercase alphanumeric/underscore", cfg.NodeName)
	}
	if err := ValidateAddress(cfg.NodeAddress); err != nil {
		return fmt.Errorf("node_address: %w", err)
	}

	// Remembrancer is optional but must be fully specified when present.
	hasName := cfg.RemembrancerName != ""
	hasAddr := cfg.RemembrancerAddress != ""
	if hasName != hasAddr {
		return fmt.Errorf("remembrancer_name and remembrancer_address must be set together")
	}
	if hasAddr {
		if err := ValidateAddress(cfg.RemembrancerAddress); err != nil {
			return fmt.Errorf("remembrancer_address: %w", err)
		}
		if !nodeNamePattern.MatchString(cfg.RemembrancerName) {
			return fmt.Errorf("remembrancer_name %q must be lowercase alphanumeric/underscore", cfg.RemembrancerName)
		}
	}

	for _, addr := range cfg.AutoHandshakeAddresses {
		if err := ValidateAddress(addr); err != nil {
			return fmt.Errorf("auto_handshake_addresses: %w", err)
		}
	}

	for _, ext := range cfg.SchemaExtensions {
		if strings.TrimSpace(ext) == "" {
			return fmt.Errorf("schema_extensions must not contain empty entries")
		}
	}

	if err := validateEngine(&cfg.Engine); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := validateLLM(&cfg.LLM); err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	return nil
}

// ValidateAddress checks that addr looks like a classic ledger address.
// It validates shape only; checksum verification happens when the
// address is actually used.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	if !addressPattern.MatchString(addr) {
		return fmt.Errorf("invalid address format: %q", addr)
	}
	return nil
}

func validateEngine(e *EngineConfig) error {
	if e.QueueCycleInterval <= 0 {
		return fmt.Errorf("queue_cycle_interval must be positive")
	}
	if e.VerifyAttempts < 1 {
		return fmt.Errorf("verify_attempts must be at least 1")
	}
	if e.VerifyInterval <= 0 {
		return fmt.Errorf("verify_interval must be positive")
	}
	if e.MinReward < 1 {
		return fmt.Errorf("min_reward must be at least 1")
	}
	if e.MaxReward < e.MinReward {
		return fmt.Errorf("max_reward %d must be >= min_reward %d", e.MaxReward, e.MinReward)
	}
	if e.RewardWindowDays < 1 {
		return fmt.Errorf("reward_window_days must be at least 1")
	}
	if e.TrackingPFTThreshold < 0 {
		return fmt.Errorf("tracking_pft_threshold must not be negative")
	}
	return nil
}

func validateLLM(l *LLMConfig) error {
	if l.Model == "" {
		return fmt.Errorf("model is required")
	}
	if l.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}
	if l.RequestsPerMinute < 1 {
		return fmt.Errorf("requests_per_minute must be at least 1")
	}
	if l.ProposalCandidates < 1 {
		return fmt.Errorf("proposal_candidates must be at least 1")
	}
	return nil
}
