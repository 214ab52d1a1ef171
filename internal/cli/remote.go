package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/domain/registration"
	"github.com/okian/rollcall/pkg/logger"
)

// NewLocateCommand creates the locate command.
func NewLocateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "locate <lat> <lon>",
		Short: "Record your current position on the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coords, err := parseFloats(args)
			if err != nil {
				return err
			}
			rootOpts.logger(cmd).Info(cmd.Context(), "set location", logger.String("server", rootOpts.Server))
			loc, err := rootOpts.client().SetLocation(cmd.Context(), coords[0], coords[1])
			if err != nil {
				return remoteError("set location", err)
			}
			return printer{rootOpts.Format, cmd.OutOrStdout()}.print(loc, func(w io.Writer) {
				fmt.Fprintf(w, "location set to %.5f, %.5f\n", loc.Lat, loc.Lon)
			})
		},
	}
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <event-id>",
		Short: "Register for an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rootOpts.logger(cmd).Info(cmd.Context(), "register", logger.String("event_id", args[0]))
			reg, err := rootOpts.client().Register(cmd.Context(), args[0])
			if err != nil {
				return remoteError("register", err)
			}
			return printRegistration(cmd, rootOpts, reg)
		},
	}
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <event-id>",
		Short: "Cancel your registration for an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rootOpts.logger(cmd).Info(cmd.Context(), "cancel", logger.String("event_id", args[0]))
			reg, err := rootOpts.client().Cancel(cmd.Context(), args[0])
			if err != nil {
				return remoteError("cancel", err)
			}
			return printRegistration(cmd, rootOpts, reg)
		},
	}
}

// NewCheckInCommand creates the checkin command. With --event it fetches
// the caller's own token first; otherwise the argument is a scanned token.
func NewCheckInCommand(rootOpts *RootOptions) *cobra.Command {
	var eventID string

	cmd := &cobra.Command{
		Use:   "checkin [token]",
		Short: "Redeem a check-in token",
		Args: func(cmd *cobra.Command, args []string) error {
			if eventID != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := rootOpts.client()
			log := rootOpts.logger(cmd)

			var raw string
			if eventID != "" {
				tok, err := c.Token(cmd.Context(), eventID)
				if err != nil {
					return remoteError("fetch token", err)
				}
				raw = tok
			} else {
				raw = args[0]
			}

			log.Info(cmd.Context(), "check in", logger.String("token", raw))
			reg, err := c.CheckIn(cmd.Context(), raw)
			if err != nil {
				return remoteError("check in", err)
			}
			return printRegistration(cmd, rootOpts, reg)
		},
	}

	cmd.Flags().StringVar(&eventID, "event", "", "check yourself in to this event")
	return cmd
}

// NewMineCommand creates the mine command.
func NewMineCommand(rootOpts *RootOptions) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "mine",
		Short: "List your registrations",
		Long: `List your registrations, newest first. With --follow the list is
printed again whenever it changes until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow {
				return followMine(cmd.Context(), cmd, rootOpts)
			}
			regs, err := rootOpts.client().Mine(cmd.Context())
			if err != nil {
				return remoteError("list registrations", err)
			}
			return printRegistrations(cmd.OutOrStdout(), rootOpts, regs)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing updates")
	return cmd
}

func followMine(ctx context.Context, cmd *cobra.Command, rootOpts *RootOptions) error {
	log := rootOpts.logger(cmd)
	stream, err := rootOpts.client().Follow(ctx)
	if err != nil {
		return remoteError("follow registrations", err)
	}

	cache := registration.NewCache()
	out := cmd.OutOrStdout()
	cache.Follow(ctx, stream, func(regs []model.Registration) {
		log.Debug(ctx, "registrations updated", logger.Int("count", len(regs)))
		if err := printRegistrations(out, rootOpts, cache.All()); err != nil {
			log.Warn(ctx, "print failed", logger.Error(err))
		}
	})
	log.Info(ctx, "stream closed", logger.Int("updates", int(cache.Version())))
	return nil
}

func printRegistration(cmd *cobra.Command, rootOpts *RootOptions, reg model.Registration) error {
	return printer{rootOpts.Format, cmd.OutOrStdout()}.print(reg, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s (%s)\n", reg.Status, reg.EventID, reg.EventTitle)
	})
}

func printRegistrations(w io.Writer, rootOpts *RootOptions, regs []model.Registration) error {
	if regs == nil {
		regs = []model.Registration{}
	}
	return printer{rootOpts.Format, w}.print(regs, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "EVENT\tTITLE\tSTATUS\tREGISTERED")
		for _, r := range regs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.EventID, r.EventTitle, r.Status,
				time.UnixMilli(r.RegisteredAt).UTC().Format(time.RFC3339))
		}
		_ = tw.Flush()
	})
}
