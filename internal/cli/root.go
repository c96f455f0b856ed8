// Package cli implements the hub's cobra command surface: a root command
// with persistent --debug/--config flags (bound through viper) and a serve
// subcommand that wires configuration, the session registry, and the
// gateway into a running HTTP server.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is stamped at build time via -ldflags; "dev" otherwise.
var Version = "dev"

// NewRootCmd builds the apiumhubd root command.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "apiumhubd",
		Short: "Session-aware reverse-proxy hub for Appium backends",
		Long: "apiumhubd allocates a dedicated Appium backend process per test " +
			"session, routes traffic for that session to its backend, and " +
			"reclaims the port and process on session end or idle timeout.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().Bool("debug", false, "enable debug logging")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
		} else {
			v.SetConfigName("apiumhub")
			v.SetConfigType("yaml")
			v.AddConfigPath(".")
		}
		if err := v.BindPFlag("debug", root.PersistentFlags().Lookup("debug")); err != nil {
			return fmt.Errorf("binding debug flag: %w", err)
		}
		return nil
	}

	root.AddCommand(newServeCmd(v))
	root.AddCommand(newVersionCmd())

	return root
}
