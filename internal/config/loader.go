package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration in priority order:
//  1. built-in defaults
//  2. <configDir>/pft_node_{mainnet|testnet}_config.json
//  3. environment variables (PFTNODE_ prefix, e.g. PFTNODE_ENGINE_MAX_REWARD)
//
// useTestnet selects the file; the file itself may not flip the network.
func Load(configDir string, useTestnet bool) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	path := ConfigPath(configDir, useTestnet)
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	v.SetEnvPrefix("PFTNODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.UseTestnet = useTestnet
	if useTestnet {
		cfg.Network = Testnet()
	} else {
		cfg.Network = Mainnet()
		// These two are allowed on testnet only.
		cfg.EnableReinitiations = false
		cfg.UseAutorouter = false
	}
	cfg.configPath = path

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// WriteExample writes a starter config file an operator can edit.
func WriteExample(path string) error {
	v := viper.New()
	v.Set("node_name", "mynode")
	v.Set("node_address", "r...")
	v.Set("remembrancer_name", "")
	v.Set("remembrancer_address", "")
	v.Set("auto_handshake_addresses", []string{})
	v.Set("schema_extensions", []string{})

	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write example config: %w", err)
	}
	return nil
}
