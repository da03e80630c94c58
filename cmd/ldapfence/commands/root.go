// Package commands implements the ldapfence CLI.
package commands

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// ErrRejected is returned by check when the credentials are not accepted.
var ErrRejected = errors.New("credentials rejected")

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "ldapfence",
		Short: "Basic authentication gateway backed by a static root user and LDAP",
		Long: `ldapfence guards an HTTP upstream with Basic authentication.

Credentials are checked against a static root user and cached directory
credentials first, then verified against an LDAP directory with optional
group membership restrictions.

Use "ldapfence [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/ldapfence/ldapfence.yaml)")
	configFile := func() string { return cfgFile }

	root.AddCommand(
		newServeCmd(configFile),
		newCheckCmd(configFile),
		newConfigCmd(configFile),
		newVersionCmd(),
	)
	root.CompletionOptions.DisableDefaultCmd = true

	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}
