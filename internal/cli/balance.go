package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/apiclient"
)

// NewBalanceCommand reads validated ledger balances.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	var owner bool
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show XRP and token balances of the session account or the owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rootOpts.client(!owner)
			if err != nil {
				return err
			}
			var bal *apiclient.Balance
			if owner {
				bal, err = c.OwnerBalance(cmd.Context())
			} else {
				bal, err = c.MyBalance(cmd.Context())
			}
			if err != nil {
				return apiError("read balance", err)
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(bal, func(w io.Writer) {
				fmt.Fprintf(w, "Address:  %s\n", bal.Address)
				fmt.Fprintf(w, "XRP:      %s\n", bal.XRP)
				fmt.Fprintf(w, "%-9s %s (issuer %s)\n", bal.Currency+":", bal.Token, bal.Issuer)
			})
		},
	}
	cmd.Flags().BoolVar(&owner, "owner", false, "read the owner's balances instead (no session needed)")
	return cmd
}
