package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/postfiatorg/pftnoded/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Long: `Create the config directory and write a starter config file for the
selected network. Edit the node identity fields before serving.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(configDir, 0o700); err != nil {
			return err
		}
		path := config.ConfigPath(configDir, useTestnet)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
		if err := config.WriteExample(path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
