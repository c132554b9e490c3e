package config

import "github.com/spf13/viper"

// setDefaults installs the built-in defaults. Operators override any of
// these in the config file or through PFTNODE_ environment variables.
func setDefaults(v *viper.Viper) {
	v.SetDefault("use_testnet", false)
	v.SetDefault("has_local_node", false)
	v.SetDefault("enable_reinitiations", false)
	v.SetDefault("use_openrouter_autorouter", false)
	v.SetDefault("auto_handshake_addresses", []string{})
	v.SetDefault("schema_extensions", []string{})

	// Queue orchestrator
	v.SetDefault("engine.queue_cycle_interval", "15s")
	v.SetDefault("engine.verify_attempts", 6)
	v.SetDefault("engine.verify_interval", "10s")
	v.SetDefault("engine.backfill_interval", "60m")
	v.SetDefault("engine.delta_poll_interval", "30s")

	// Reward policy
	v.SetDefault("engine.min_reward", 1)
	v.SetDefault("engine.max_reward", 1200)
	v.SetDefault("engine.daily_reward_limit", 1200)
	v.SetDefault("engine.reward_window_days", 35)

	// Monitor and context assembly
	v.SetDefault("engine.tracking_pft_threshold", 2000.0)
	v.SetDefault("engine.context_task_limit", 6)
	v.SetDefault("engine.context_memo_limit", 20)

	// LLM gateway
	v.SetDefault("llm.model", "anthropic/claude-3.5-sonnet")
	v.SetDefault("llm.max_concurrent", 10)
	v.SetDefault("llm.requests_per_minute", 30)
	v.SetDefault("llm.proposal_candidates", 3)
}
