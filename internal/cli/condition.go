package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/condition"
)

// ConditionResult is the output of the condition commands. Secret and
// Fulfillment are only filled when the operator asks for them.
type ConditionResult struct {
	Condition   string `json:"condition"`
	Secret      string `json:"secret,omitempty"`
	Fulfillment string `json:"fulfillment,omitempty"`
}

// NewConditionCommand groups the offline crypto-condition tools.
func NewConditionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "condition",
		Short: "Generate, derive and verify PREIMAGE-SHA-256 conditions",
	}
	cmd.AddCommand(newConditionGenerateCommand(rootOpts))
	cmd.AddCommand(newConditionDeriveCommand(rootOpts))
	cmd.AddCommand(newConditionVerifyCommand(rootOpts))
	return cmd
}

func newConditionGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Draw a fresh secret and print its condition",
		Long: `Draw a fresh 32-byte secret and print its condition.

The secret and fulfillment are printed only with --reveal. Anyone holding
either can finish an escrow locked with the condition.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := condition.Generate()
			if err != nil {
				return WrapExitError(ExitFailure, "generate condition", err)
			}
			return printCondition(rootOpts, cmd.OutOrStdout(), t, reveal, reveal)
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "also print the secret and fulfillment")
	return cmd
}

func newConditionDeriveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "derive <secret-hex>",
		Short: "Re-derive the condition and fulfillment of a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := condition.DeriveHex(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "derive condition", err)
			}
			return printCondition(rootOpts, cmd.OutOrStdout(), t, false, true)
		},
	}
}

func newConditionVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <condition-hex> <fulfillment-hex>",
		Short: "Check that a fulfillment satisfies a condition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := condition.Verify(args[0], args[1])
			switch {
			case errors.Is(err, condition.ErrMismatch):
				return NewExitError(ExitFailure, "fulfillment does not satisfy condition")
			case err != nil:
				return WrapExitError(ExitCommandError, "verify condition", err)
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(map[string]bool{"valid": true}, func(w io.Writer) {
				fmt.Fprintln(w, "Fulfillment satisfies condition.")
			})
		},
	}
}

func printCondition(rootOpts *RootOptions, w io.Writer, t condition.Triple, secret, fulfillment bool) error {
	res := ConditionResult{Condition: t.Condition}
	if secret {
		res.Secret = t.Secret
	}
	if fulfillment {
		res.Fulfillment = t.Fulfillment
	}
	out := &OutputFormatter{Format: rootOpts.Format, Writer: w}
	return out.Emit(res, func(w io.Writer) {
		fmt.Fprintf(w, "Condition:   %s\n", res.Condition)
		if res.Secret != "" {
			fmt.Fprintf(w, "Secret:      %s\n", res.Secret)
		}
		if res.Fulfillment != "" {
			fmt.Fprintf(w, "Fulfillment: %s\n", res.Fulfillment)
		}
	})
}
