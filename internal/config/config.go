// Package config loads and validates the node configuration.
//
// Configuration is resolved in priority order: built-in defaults, then the
// JSON config file (pft_node_{mainnet|testnet}_config.json), then
// environment variables with the PFTNODE_ prefix.
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config is the complete node configuration.
type Config struct {
	// Node identity
	NodeName               string   `json:"node_name" mapstructure:"node_name"`
	NodeAddress            string   `json:"node_address" mapstructure:"node_address"`
	RemembrancerName       string   `json:"remembrancer_name" mapstructure:"remembrancer_name"`
	RemembrancerAddress    string   `json:"remembrancer_address" mapstructure:"remembrancer_address"`
	AutoHandshakeAddresses []string `json:"auto_handshake_addresses" mapstructure:"auto_handshake_addresses"`
	SchemaExtensions       []string `json:"schema_extensions" mapstructure:"schema_extensions"`

	// Runtime flags
	UseTestnet          bool `json:"use_testnet" mapstructure:"use_testnet"`
	HasLocalNode        bool `json:"has_local_node" mapstructure:"has_local_node"`
	EnableReinitiations bool `json:"enable_reinitiations" mapstructure:"enable_reinitiations"`
	UseAutorouter       bool `json:"use_openrouter_autorouter" mapstructure:"use_openrouter_autorouter"`

	Engine EngineConfig `json:"engine" mapstructure:"engine"`
	LLM    LLMConfig    `json:"llm" mapstructure:"llm"`

	// Network holds the per-network constants, selected by UseTestnet.
	Network NetworkConfig `json:"-" mapstructure:"-"`

	configPath string
}

// EngineConfig tunes the queue orchestrator and its background workers.
type EngineConfig struct {
	// QueueCycleInterval is the sleep between full runs of the five queues.
	QueueCycleInterval time.Duration `json:"queue_cycle_interval" mapstructure:"queue_cycle_interval"`

	// VerifyAttempts / VerifyInterval bound the on-ledger confirmation poll
	// after a queue submits a response.
	VerifyAttempts int           `json:"verify_attempts" mapstructure:"verify_attempts"`
	VerifyInterval time.Duration `json:"verify_interval" mapstructure:"verify_interval"`

	// BackfillInterval is the period of the full account-history refresh.
	BackfillInterval time.Duration `json:"backfill_interval" mapstructure:"backfill_interval"`

	// DeltaPollInterval is the fast poll against a local node.
	DeltaPollInterval time.Duration `json:"delta_poll_interval" mapstructure:"delta_poll_interval"`

	// Reward policy. MinReward/MaxReward clamp every reward the node sends;
	// DailyRewardLimit is the per-user ceiling over a rolling day.
	MinReward        int `json:"min_reward" mapstructure:"min_reward"`
	MaxReward        int `json:"max_reward" mapstructure:"max_reward"`
	DailyRewardLimit int `json:"daily_reward_limit" mapstructure:"daily_reward_limit"`
	RewardWindowDays int `json:"reward_window_days" mapstructure:"reward_window_days"`

	// TrackingPFTThreshold is the minimum PFT balance for the monitor to
	// track an account it does not otherwise know about.
	TrackingPFTThreshold float64 `json:"tracking_pft_threshold" mapstructure:"tracking_pft_threshold"`

	// Prompt context bounds (§size limits on assembled user context).
	ContextTaskLimit int `json:"context_task_limit" mapstructure:"context_task_limit"`
	ContextMemoLimit int `json:"context_memo_limit" mapstructure:"context_memo_limit"`
}

// LLMConfig tunes the gateway to the language-model provider.
type LLMConfig struct {
	Model              string `json:"model" mapstructure:"model"`
	MaxConcurrent      int    `json:"max_concurrent" mapstructure:"max_concurrent"`
	RequestsPerMinute  int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	ProposalCandidates int    `json:"proposal_candidates" mapstructure:"proposal_candidates"`
}

// ConfigFileName returns the config file name for the selected network.
func ConfigFileName(useTestnet bool) string {
	if useTestnet {
		return "pft_node_testnet_config.json"
	}
	return "pft_node_mainnet_config.json"
}

// ConfigPath returns the full path of the config file under configDir.
func ConfigPath(configDir string, useTestnet bool) string {
	return filepath.Join(configDir, ConfigFileName(useTestnet))
}

// GetConfigPath returns the path the configuration was loaded from.
func (c *Config) GetConfigPath() string {
	return c.configPath
}

// HasRemembrancer reports whether a secondary node account is configured.
func (c *Config) HasRemembrancer() bool {
	return c.RemembrancerAddress != ""
}

// AutoHandshakeSet returns every address the node auto-responds to
// handshakes for: its own, the remembrancer's, and any extras.
func (c *Config) AutoHandshakeSet() []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(c.AutoHandshakeAddresses)+2)
	add := func(addr string) {
		if addr != "" && !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	add(c.NodeAddress)
	add(c.RemembrancerAddress)
	for _, addr := range c.AutoHandshakeAddresses {
		add(addr)
	}
	return out
}

// WalletCredentialKey returns the credential-store key holding the wallet
// seed for the given account name.
func WalletCredentialKey(name string) string {
	return name + "__v1xrpsecret"
}

// PostgresCredentialKey returns the credential-store key holding the
// database connection string.
func PostgresCredentialKey(nodeName string) string {
	return nodeName + "_postgresconnstring"
}

// OpenRouterCredentialKey is the credential-store key for the LLM API key.
const OpenRouterCredentialKey = "openrouter"

// RemembrancerCredentialName derives the remembrancer wallet credential name.
func (c *Config) RemembrancerCredentialName() string {
	return fmt.Sprintf("%s_remembrancer", c.NodeName)
}
