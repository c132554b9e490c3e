package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/postfiatorg/pftnoded/internal/credstore"
)

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Manage the encrypted credential store",
	Long: `Read and write the encrypted credential store under the config directory.
The store password is read from PFTNODE_PASSWORD; the first write creates
the store.

The serve command expects these keys:
  <node_name>__v1xrpsecret                    node wallet seed
  <node_name>_postgresconnstring              database connection string
  openrouter                                  model API key
  <node_name>_remembrancer__v1xrpsecret       remembrancer seed (optional)`,
}

var credsSetCmd = &cobra.Command{
	Use:   "set <key>",
	Short: "Store a credential, value read from stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := readSecret()
		if err != nil {
			return err
		}
		creds, err := openCreds()
		if err != nil {
			return err
		}
		defer creds.Close()

		if err := creds.Set(args[0], value); err != nil {
			return err
		}
		fmt.Printf("stored %s\n", args[0])
		return nil
	},
}

var credsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a credential value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := openCreds()
		if err != nil {
			return err
		}
		defer creds.Close()

		value, err := creds.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

var credsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credential keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := openCreds()
		if err != nil {
			return err
		}
		defer creds.Close()

		keys, err := creds.Keys()
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	},
}

var credsDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := openCreds()
		if err != nil {
			return err
		}
		defer creds.Close()

		if err := creds.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

func init() {
	credsCmd.AddCommand(credsSetCmd)
	credsCmd.AddCommand(credsGetCmd)
	credsCmd.AddCommand(credsListCmd)
	credsCmd.AddCommand(credsDeleteCmd)
	rootCmd.AddCommand(credsCmd)
}

func openCreds() (*credstore.Store, error) {
	password, err := storePassword()
	if err != nil {
		return nil, err
	}
	return credstore.Open(credstorePath(), password, credstore.WithLogger(newLogger("credstore")))
}

// readSecret reads the credential value from stdin so secrets stay out of
// shell history. Trailing newlines are trimmed for piped input.
func readSecret() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read value from stdin: %w", err)
	}
	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		return "", fmt.Errorf("empty credential value on stdin")
	}
	return value, nil
}
