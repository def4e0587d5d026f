package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var decisionTokens = []string{"Accepted", "Declined", "Escalate to human"}

// NewDecideCommand submits a claim verdict for the session's client.
func NewDecideCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decide <decision>",
		Short: "Submit a claim decision",
		Long: `Submit a claim decision: one of "Accepted", "Declined" or "Escalate to human".
Only Accepted pays out, finishing the client's most recent open escrow.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Unquoted multi-word tokens arrive split.
			decision := strings.Join(args, " ")

			c, err := rootOpts.client(true)
			if err != nil {
				return err
			}
			resp, err := c.SubmitDecision(cmd.Context(), decision)
			if err != nil {
				return apiError("submit decision", err)
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(resp, func(w io.Writer) {
				fmt.Fprintf(w, "Decision:     %s\n", resp.Decision)
				fmt.Fprintln(w, resp.Message)
				if resp.EscrowID != "" {
					fmt.Fprintf(w, "Escrow:       %s\n", resp.EscrowID)
				}
				if resp.TxHash != "" {
					fmt.Fprintf(w, "Transaction:  %s\n", resp.TxHash)
				}
			})
		},
		ValidArgs: decisionTokens,
	}
}
