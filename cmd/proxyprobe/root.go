package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	applog "github.com/nao1215/proxyprobe/internal/log"
)

// NewRootCmd creates the root command for proxyprobe.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxyprobe",
		Short: "Concurrent proxy list validator",
		Long: `proxyprobe validates large lists of public proxies.

Every candidate (ip:port, one per line) is asked to fetch a target URL.
Candidates that answer 200 within the timeout are kept; everything else is
dropped. Runs are stored locally so later runs can be compared.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getBoolFlag reads a local or inherited persistent bool flag.
func getBoolFlag(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetBool(name)
		if err != nil {
			return false
		}
	}
	return v
}

// setupLogger creates the secure logger selected by the persistent flags.
// Logs go to w (stderr) so stdout carries only results.
func setupLogger(cmd *cobra.Command, w io.Writer) *slog.Logger {
	verbose := getBoolFlag(cmd, "verbose")
	if getBoolFlag(cmd, "log-json") {
		return applog.NewSecureJSONLogger(w, verbose)
	}
	return applog.NewSecureLogger(w, verbose)
}
