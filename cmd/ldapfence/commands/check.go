package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isometry/ldapfence/internal/config"
)

func newCheckCmd(configFile func() string) *cobra.Command {
	var (
		username      string
		password      string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Authenticate one username and password",
		Long: `Run the configured provider chain once and report the decision.

Prints "accepted (<source>)" and exits 0, or prints "rejected" and exits 1.

Examples:
  ldapfence check --username alice --password wonderland
  echo -n wonderland | ldapfence check --username alice --password-stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read password from stdin: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			cfg, err := config.Load(configFile())
			if err != nil {
				return err
			}

			e, err := newEngine(cfg, newLogger(cfg, cmd.ErrOrStderr()), true)
			if err != nil {
				return err
			}
			defer e.Close()

			cred := e.gateway.AuthenticateBasic(cmd.Context(), username, password)
			if cred == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "rejected")
				return ErrRejected
			}

			fmt.Fprintf(cmd.OutOrStdout(), "accepted (%s)\n", cred.Source)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "username to authenticate")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password to authenticate")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("username")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")

	return cmd
}
