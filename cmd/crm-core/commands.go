package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"catalyzed-crm/internal/bootstrap"
	"catalyzed-crm/internal/domain/session"
)

func newRootCmd() *cobra.Command {
	var opts bootstrap.Options

	root := &cobra.Command{
		Use:           "crm-core",
		Short:         "Catalyzed CRM session and preferences service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] [INFO] [Bootstrap] starting catalyzed-crm...\n", time.Now().Format("2006-01-02 15:04:05.000"))
			return bootstrap.Run(cmd.Context(), opts)
		},
	}
	root.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default is ./config.yaml)")
	root.Flags().BoolVar(&opts.DisableDotEnv, "no-dotenv", false, "do not load variables from .env")

	root.AddCommand(newHashSecretCmd(), newMigrateCmd())
	return root
}

// newHashSecretCmd prints a bcrypt hash suitable for session.accounts[].secret_hash.
func newHashSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Hash an account secret for the config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := ""
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret from stdin: %w", err)
				}
				secret = strings.TrimRight(line, "\r\n")
			}
			if secret == "" {
				return fmt.Errorf("secret must not be empty")
			}

			hash, err := session.HashSecret(secret)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
