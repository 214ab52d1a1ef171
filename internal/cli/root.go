// Package cli implements rollcallctl, the operator and attendee command line.
package cli

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/rollcall/internal/client"
	"github.com/okian/rollcall/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	Token   string
	Format  string // "json" | "text"
	Timeout time.Duration
	Verbose bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

const defaultServer = "http://localhost:8080"

// NewRootCommand creates the rollcallctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rollcallctl",
		Short: "Event registration and check-in from the terminal",
		Long: `rollcallctl talks to a rollcall server to register for events, fetch
check-in tokens and scan them at the door. The distance, rank, token and
login commands work offline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", envOr("ROLLCALL_SERVER", defaultServer), "rollcall server base URL")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("ROLLCALL_TOKEN"), "bearer token (see login)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log requests to stderr")

	cmd.AddCommand(NewDistanceCommand(opts))
	cmd.AddCommand(NewRankCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLocateCommand(opts))
	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewCheckInCommand(opts))
	cmd.AddCommand(NewMineCommand(opts))
	cmd.AddCommand(NewLoadTestCommand(opts))

	return cmd
}

func (o *RootOptions) client() *client.Client {
	return client.New(o.Server, client.WithBearer(o.Token), client.WithTimeout(o.Timeout))
}

func (o *RootOptions) logger(cmd *cobra.Command) logger.Logger {
	if !o.Verbose {
		return logger.NewNop()
	}
	return logger.New(cmd.ErrOrStderr()).Named("rollcallctl")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
