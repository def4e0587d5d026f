// Package cli implements escrowctl, the operator command line for the
// escrow service.
package cli

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/apiclient"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	APIURL  string
	Token   string
	Format  string // "json" | "text"
	Timeout time.Duration
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for escrowctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "escrowctl",
		Short: "Operate XRPL token escrows",
		Long: `escrowctl drives the escrow service: open a session, create, inspect,
finish and cancel token escrows, submit claim decisions and read balances.

The condition commands work offline and never contact the service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.APIURL, "api", envOr("BLOCKSMITH_API_URL", "http://localhost:8080"), "escrow service base URL")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("BLOCKSMITH_TOKEN"), "session token (default $BLOCKSMITH_TOKEN)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "request timeout")

	cmd.AddCommand(NewConditionCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewEscrowCommand(opts))
	cmd.AddCommand(NewDecideCommand(opts))
	cmd.AddCommand(NewBalanceCommand(opts))

	return cmd
}

// client builds an API client. When requireSession is set a token must be present.
func (o *RootOptions) client(requireSession bool) (*apiclient.Client, error) {
	if requireSession && o.Token == "" {
		return nil, NewExitError(ExitCommandError,
			"no session token: run 'escrowctl login' and pass --token or set BLOCKSMITH_TOKEN")
	}
	return apiclient.New(apiclient.Config{
		BaseURL:    o.APIURL,
		Token:      o.Token,
		HTTPClient: &http.Client{Timeout: o.Timeout},
	}), nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
