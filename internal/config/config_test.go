package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testNodeAddress = "rnQUEEg8yyjrwk9FhyXpKavHyCRJM9BDMW"
	testUserAddress = "rLX2tgumpiUE6kjr757Ao8HWiJzC8uuBSN"
)

func writeConfigFile(t *testing.T, dir string, useTestnet bool, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(ConfigPath(dir, useTestnet), []byte(body), 0o600))
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, true, `{
		"node_name": "mynode",
		"node_address": "`+testNodeAddress+`"
	}`)

	cfg, err := Load(dir, true)
	require.NoError(t, err)

	assert.Equal(t, "mynode", cfg.NodeName)
	assert.Equal(t, testNodeAddress, cfg.NodeAddress)
	assert.True(t, cfg.UseTestnet)
	assert.Equal(t, "testnet", cfg.Network.Name)

	assert.Equal(t, 15*time.Second, cfg.Engine.QueueCycleInterval)
	assert.Equal(t, 6, cfg.Engine.VerifyAttempts)
	assert.Equal(t, 10*time.Second, cfg.Engine.VerifyInterval)
	assert.Equal(t, 1, cfg.Engine.MinReward)
	assert.Equal(t, 1200, cfg.Engine.MaxReward)
	assert.Equal(t, 35, cfg.Engine.RewardWindowDays)
	assert.InDelta(t, 2000.0, cfg.Engine.TrackingPFTThreshold, 0.001)

	assert.Equal(t, 10, cfg.LLM.MaxConcurrent)
	assert.Equal(t, 30, cfg.LLM.RequestsPerMinute)
	assert.NotEmpty(t, cfg.LLM.Model)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, true, `{
		"node_name": "mynode",
		"node_address": "`+testNodeAddress+`",
		"engine": {
			"queue_cycle_interval": "30s",
			"max_reward": 900
		},
		"llm": {
			"model": "openai/gpt-4o"
		}
	}`)

	cfg, err := Load(dir, true)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Engine.QueueCycleInterval)
	assert.Equal(t, 900, cfg.Engine.MaxReward)
	assert.Equal(t, "openai/gpt-4o", cfg.LLM.Model)
	// Untouched keys keep their defaults.
	assert.Equal(t, 6, cfg.Engine.VerifyAttempts)
	assert.Equal(t, 1, cfg.Engine.MinReward)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestLoadMainnetForcesTestnetOnlyFlagsOff(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, false, `{
		"node_name": "mynode",
		"node_address": "`+testNodeAddress+`",
		"enable_reinitiations": true,
		"use_openrouter_autorouter": true
	}`)

	cfg, err := Load(dir, false)
	require.NoError(t, err)

	assert.Equal(t, "mainnet", cfg.Network.Name)
	assert.False(t, cfg.EnableReinitiations)
	assert.False(t, cfg.UseAutorouter)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, true, `{
		"node_name": "mynode",
		"node_address": "not-an-address"
	}`)

	_, err := Load(dir, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node_address")
}

func validConfig() *Config {
	cfg := &Config{
		NodeName:    "mynode",
		NodeAddress: testNodeAddress,
	}
	cfg.Engine = EngineConfig{
		QueueCycleInterval:   15 * time.Second,
		VerifyAttempts:       6,
		VerifyInterval:       10 * time.Second,
		MinReward:            1,
		MaxReward:            1200,
		DailyRewardLimit:     1200,
		RewardWindowDays:     35,
		TrackingPFTThreshold: 2000,
		ContextTaskLimit:     6,
		ContextMemoLimit:     20,
	}
	cfg.LLM = LLMConfig{
		Model:              "anthropic/claude-3.5-sonnet",
		MaxConcurrent:      10,
		RequestsPerMinute:  30,
		ProposalCandidates: 3,
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing node name",
			mutate:  func(c *Config) { c.NodeName = "" },
			wantErr: "node_name",
		},
		{
			name:    "uppercase node name",
			mutate:  func(c *Config) { c.NodeName = "MyNode" },
			wantErr: "node_name",
		},
		{
			name:    "missing node address",
			mutate:  func(c *Config) { c.NodeAddress = "" },
			wantErr: "node_address",
		},
		{
			name:    "remembrancer name without address",
			mutate:  func(c *Config) { c.RemembrancerName = "mynode_remembrancer" },
			wantErr: "remembrancer",
		},
		{
			name: "remembrancer fully specified",
			mutate: func(c *Config) {
				c.RemembrancerName = "mynode_remembrancer"
				c.RemembrancerAddress = testUserAddress
			},
		},
		{
			name:    "bad auto handshake address",
			mutate:  func(c *Config) { c.AutoHandshakeAddresses = []string{"bogus"} },
			wantErr: "auto_handshake_addresses",
		},
		{
			name:    "max reward below min",
			mutate:  func(c *Config) { c.Engine.MaxReward = 0 },
			wantErr: "max_reward",
		},
		{
			name:    "zero verify attempts",
			mutate:  func(c *Config) { c.Engine.VerifyAttempts = 0 },
			wantErr: "verify_attempts",
		},
		{
			name:    "missing model",
			mutate:  func(c *Config) { c.LLM.Model = "" },
			wantErr: "model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(testNodeAddress))
	assert.NoError(t, ValidateAddress(testUserAddress))
	assert.Error(t, ValidateAddress(""))
	assert.Error(t, ValidateAddress("xNotAnAddress"))
	assert.Error(t, ValidateAddress("r0containsZero00000000000000000000"))
	assert.Error(t, ValidateAddress("rTooShort"))
}

func TestAutoHandshakeSet(t *testing.T) {
	cfg := validConfig()
	cfg.RemembrancerAddress = testUserAddress
	cfg.AutoHandshakeAddresses = []string{
		testNodeAddress, // duplicate of the node address
		"rJgpSBfzUiLp3rMfaZorvvDBkvhGUPBayz",
	}

	set := cfg.AutoHandshakeSet()
	assert.Equal(t, []string{
		testNodeAddress,
		testUserAddress,
		"rJgpSBfzUiLp3rMfaZorvvDBkvhGUPBayz",
	}, set)
}

func TestCredentialKeys(t *testing.T) {
	assert.Equal(t, "mynode__v1xrpsecret", WalletCredentialKey("mynode"))
	assert.Equal(t, "mynode_postgresconnstring", PostgresCredentialKey("mynode"))
	assert.Equal(t, "openrouter", OpenRouterCredentialKey)

	cfg := validConfig()
	assert.Equal(t, "mynode_remembrancer", cfg.RemembrancerCredentialName())
}

func TestConfigFileName(t *testing.T) {
	assert.Equal(t, "pft_node_mainnet_config.json", ConfigFileName(false))
	assert.Equal(t, "pft_node_testnet_config.json", ConfigFileName(true))
}
