package cli

import (
	"github.com/spf13/cobra"
)

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Merge the guest cart into the account cart",
		Long: `Merge the cart stored on this device into the account identified by
the access token. The guest copy is deleted once the merge is pushed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(rootOpts); err != nil {
				return err
			}
			return withSession(cmd.Context(), rootOpts, open, false, func(app *App) error {
				out, err := app.Session.Login(cmd.Context(), rootOpts.Token)
				if err != nil {
					return err
				}
				p := newPrinter(rootOpts, cmd)
				p.note("reconcile: %s", out.Label())
				return p.cart(app.Session)
			})
		},
	}
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Load the account cart without merging",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(rootOpts); err != nil {
				return err
			}
			return withSession(cmd.Context(), rootOpts, open, true, func(app *App) error {
				return newPrinter(rootOpts, cmd).cart(app.Session)
			})
		},
	}
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and start an empty guest cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(rootOpts); err != nil {
				return err
			}
			return withSession(cmd.Context(), rootOpts, open, true, func(app *App) error {
				if err := app.Session.Logout(cmd.Context()); err != nil {
					return err
				}
				return newPrinter(rootOpts, cmd).cart(app.Session)
			})
		},
	}
}
