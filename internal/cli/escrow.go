package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/apiclient"
)

// NewEscrowCommand groups the escrow lifecycle commands.
func NewEscrowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escrow",
		Short: "Create, inspect, finish and cancel escrows",
	}
	cmd.AddCommand(newEscrowCreateCommand(rootOpts))
	cmd.AddCommand(newEscrowGetCommand(rootOpts))
	cmd.AddCommand(newEscrowFinishCommand(rootOpts))
	cmd.AddCommand(newEscrowCancelCommand(rootOpts))
	cmd.AddCommand(newEscrowListCommand(rootOpts))
	return cmd
}

func newEscrowCreateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <amount>",
		Short: "Lock an amount of the token for the session's client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rootOpts.client(true)
			if err != nil {
				return err
			}
			resp, err := c.CreateEscrow(cmd.Context(), args[0])
			if err != nil {
				return apiError("create escrow", err)
			}
			return emitAction(rootOpts, cmd.OutOrStdout(), resp)
		},
	}
}

func newEscrowGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <escrow-id>",
		Short: "Show one escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rootOpts.client(true)
			if err != nil {
				return err
			}
			e, err := c.GetEscrow(cmd.Context(), args[0])
			if err != nil {
				return apiError("get escrow", err)
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(e, func(w io.Writer) { writeEscrow(w, e) })
		},
	}
}

func newEscrowFinishCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "finish <escrow-id>",
		Short: "Pay an escrow out to its destination",
		Long: `Pay an escrow out to its destination. Rerunning after a timeout resolves
the earlier submission instead of sending a second one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rootOpts.client(true)
			if err != nil {
				return err
			}
			resp, err := c.FinishEscrow(cmd.Context(), args[0])
			if err != nil {
				return apiError("finish escrow", err)
			}
			return emitAction(rootOpts, cmd.OutOrStdout(), resp)
		},
	}
}

func newEscrowCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <escrow-id>",
		Short: "Return an expired escrow to its owner (owner session)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rootOpts.client(true)
			if err != nil {
				return err
			}
			resp, err := c.CancelEscrow(cmd.Context(), args[0])
			if err != nil {
				return apiError("cancel escrow", err)
			}
			return emitAction(rootOpts, cmd.OutOrStdout(), resp)
		},
	}
}

func newEscrowListCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the session's escrows, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rootOpts.client(true)
			if err != nil {
				return err
			}
			escrows, err := c.ListEscrows(cmd.Context(), limit)
			if err != nil {
				return apiError("list escrows", err)
			}
			if escrows == nil {
				escrows = []apiclient.Escrow{}
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(escrows, func(w io.Writer) {
				if len(escrows) == 0 {
					fmt.Fprintln(w, "No escrows found.")
					return
				}
				fmt.Fprintf(w, "%-36s  %-9s  %s\n", "ID", "STATE", "AMOUNT")
				for _, e := range escrows {
					fmt.Fprintf(w, "%-36s  %-9s  %s %s\n", e.ID, e.State, e.Amount, e.Currency)
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of escrows")
	return cmd
}

func emitAction(rootOpts *RootOptions, w io.Writer, resp *apiclient.ActionResponse) error {
	out := &OutputFormatter{Format: rootOpts.Format, Writer: w}
	return out.Emit(resp, func(w io.Writer) { writeAction(w, resp) })
}
