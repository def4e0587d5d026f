package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewLoginCommand opens a session and prints its token.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open a session as the client or the owner",
		Long: `Open a session and print its token. Pass the token to later commands
with --token or export it as BLOCKSMITH_TOKEN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rootOpts.client(false)
			if err != nil {
				return err
			}
			resp, err := c.Login(cmd.Context(), role)
			if err != nil {
				return apiError("login", err)
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(resp, func(w io.Writer) {
				fmt.Fprintf(w, "Token:     %s\n", resp.Token)
				fmt.Fprintf(w, "Principal: %s\n", resp.Principal)
				fmt.Fprintf(w, "Role:      %s\n", resp.Role)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "client", "session role (client|owner)")
	return cmd
}

// NewLogoutCommand revokes the current session.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rootOpts.client(true)
			if err != nil {
				return err
			}
			if err := c.Logout(cmd.Context()); err != nil {
				return apiError("logout", err)
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(map[string]bool{"revoked": true}, func(w io.Writer) {
				fmt.Fprintln(w, "Session revoked.")
			})
		},
	}
}
