package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// TokenEnv names the environment variable read when --token is not given.
const TokenEnv = "STOREFRONT_CART_TOKEN"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Token  string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the cartctl root command. open is called once per
// invocation to build the session the command acts on.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cartctl",
		Short: "cartctl drives a storefront cart from the shell",
		Long: `cartctl keeps a guest cart on this device and merges it into the
account cart on login. While signed in, every change is pushed to the
cart mirror.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Token == "" {
				opts.Token = os.Getenv(TokenEnv)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "access token; signs the session in (default $"+TokenEnv+")")

	cmd.AddCommand(NewAddCommand(opts, open))
	cmd.AddCommand(NewRemoveCommand(opts, open))
	cmd.AddCommand(NewUpdateCommand(opts, open))
	cmd.AddCommand(NewClearCommand(opts, open))
	cmd.AddCommand(NewShowCommand(opts, open))
	cmd.AddCommand(NewLoginCommand(opts, open))
	cmd.AddCommand(NewResumeCommand(opts, open))
	cmd.AddCommand(NewLogoutCommand(opts, open))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// withSession opens an App, resumes the signed-in session when a token is
// set, runs fn and closes the App so queued pushes are attempted before exit.
func withSession(ctx context.Context, opts *RootOptions, open Opener, resume bool, fn func(app *App) error) (err error) {
	app, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); err == nil {
			err = closeErr
		}
	}()
	if resume && opts.Token != "" {
		if err := app.Session.Resume(ctx, opts.Token); err != nil {
			return err
		}
	}
	return fn(app)
}

func requireToken(opts *RootOptions) error {
	if opts.Token == "" {
		return fmt.Errorf("an access token is required (--token or $%s)", TokenEnv)
	}
	return nil
}
