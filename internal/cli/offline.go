package cli

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/rollcall/internal/adapters/catalog"
	"github.com/okian/rollcall/internal/adapters/identity"
	"github.com/okian/rollcall/internal/domain/geo"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/domain/ranking"
	"github.com/okian/rollcall/internal/domain/token"
	"github.com/okian/rollcall/internal/domain/types"
)

type distanceResult struct {
	Km    float64 `json:"km"`
	Label string  `json:"label"`
}

// NewDistanceCommand creates the distance command.
func NewDistanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "distance <lat1> <lon1> <lat2> <lon2>",
		Short: "Great-circle distance between two points",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			coords, err := parseFloats(args)
			if err != nil {
				return err
			}
			km := geo.HaversineKm(coords[0], coords[1], coords[2], coords[3])
			res := distanceResult{Km: km, Label: geo.FormatDistance(km)}
			return printer{rootOpts.Format, cmd.OutOrStdout()}.print(res, func(w io.Writer) {
				fmt.Fprintf(w, "%s (%.3f km)\n", res.Label, res.Km)
			})
		},
	}
}

type rankOptions struct {
	catalogFile string
	category    string
	lat, lon    float64
	nearby      bool
	radiusKm    float64
}

// NewRankCommand creates the rank command. It ranks a catalog file locally
// without contacting a server.
func NewRankCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &rankOptions{}

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank catalog events by distance from a position",
		Long: `Rank events from a YAML catalog (or the built-in one) by distance from
--lat/--lon. Without a position every event is listed as unavailable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRank(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.catalogFile, "catalog", "", "catalog YAML file (default: built-in)")
	cmd.Flags().StringVar(&opts.category, "category", "", "only rank this category")
	cmd.Flags().Float64Var(&opts.lat, "lat", math.NaN(), "latitude of the user")
	cmd.Flags().Float64Var(&opts.lon, "lon", math.NaN(), "longitude of the user")
	cmd.Flags().BoolVar(&opts.nearby, "nearby", false, "only events inside --radius")
	cmd.Flags().Float64Var(&opts.radiusKm, "radius", ranking.DefaultNearbyRadiusKm, "nearby radius in km")

	return cmd
}

func runRank(cmd *cobra.Command, rootOpts *RootOptions, opts *rankOptions) error {
	cat, err := catalog.Load(opts.catalogFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "load catalog", err)
	}

	var events []model.EventRecord
	if opts.category != "" {
		events, err = cat.ByCategory(cmd.Context(), opts.category)
	} else {
		events, err = cat.All(cmd.Context())
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "read catalog", err)
	}

	var user *model.Location
	if !math.IsNaN(opts.lat) && !math.IsNaN(opts.lon) {
		user = &model.Location{Lat: opts.lat, Lon: opts.lon}
	}

	ranked := ranking.Rank(user, events)
	if opts.nearby {
		ranked = ranking.Nearby(ranked, opts.radiusKm)
	}
	view := types.FromRanked(ranked)

	return printer{rootOpts.Format, cmd.OutOrStdout()}.print(view, func(w io.Writer) {
		printRanked(w, view)
	})
}

func printRanked(w io.Writer, events []types.RankedEvent) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tEVENT\tTITLE\tDISTANCE")
	for _, e := range events {
		rank := "-"
		if e.Rank > 0 {
			rank = strconv.Itoa(e.Rank)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rank, e.Event.ID, e.Event.Title, e.DistanceLabel)
	}
	_ = tw.Flush()
}

type tokenResult struct {
	Token   string `json:"token"`
	UserID  string `json:"user_id"`
	EventID string `json:"event_id"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var parse bool

	cmd := &cobra.Command{
		Use:   "token <user-id> <event-id> | token --parse <token>",
		Short: "Build or decode a check-in token",
		Args: func(cmd *cobra.Command, args []string) error {
			if parse {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var res tokenResult
			if parse {
				t, err := token.Parse(args[0])
				if err != nil {
					return WrapExitError(ExitFailure, "parse token", err)
				}
				res = tokenResult{Token: t.String(), UserID: t.UserID, EventID: t.EventID}
			} else {
				raw, err := token.Format(args[0], args[1])
				if err != nil {
					return WrapExitError(ExitFailure, "format token", err)
				}
				res = tokenResult{Token: raw, UserID: args[0], EventID: args[1]}
			}
			return printer{rootOpts.Format, cmd.OutOrStdout()}.print(res, func(w io.Writer) {
				if parse {
					fmt.Fprintf(w, "user:  %s\nevent: %s\n", res.UserID, res.EventID)
					return
				}
				fmt.Fprintln(w, res.Token)
			})
		},
	}

	cmd.Flags().BoolVar(&parse, "parse", false, "decode a token instead of building one")
	return cmd
}

type loginOptions struct {
	secret string
	issuer string
	user   string
	email  string
	name   string
	ttl    time.Duration
}

// NewLoginCommand creates the login command. It mints a development bearer
// token signed with the server's secret.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &loginOptions{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Mint a bearer token for a user",
		Long: `Mint an HS256 bearer token with the same secret and issuer the server
verifies. Pass the printed token with --token or ROLLCALL_TOKEN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := newIssuer(opts)
			if err != nil {
				return WrapExitError(ExitCommandError, "login", err)
			}
			signed, err := issuer.Issue(model.Identity{UserID: opts.user, Email: opts.email, Name: opts.name}, opts.ttl)
			if err != nil {
				return WrapExitError(ExitCommandError, "login", err)
			}
			res := map[string]string{"token": signed, "user_id": opts.user}
			return printer{rootOpts.Format, cmd.OutOrStdout()}.print(res, func(w io.Writer) {
				fmt.Fprintln(w, signed)
			})
		},
	}

	cmd.Flags().StringVar(&opts.secret, "secret", envOr("ROLLCALL_JWT_SECRET", ""), "HS256 signing secret")
	cmd.Flags().StringVar(&opts.issuer, "issuer", envOr("ROLLCALL_JWT_ISSUER", "rollcall"), "token issuer")
	cmd.Flags().StringVar(&opts.user, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&opts.email, "email", "", "user email")
	cmd.Flags().StringVar(&opts.name, "name", "", "display name")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newIssuer(opts *loginOptions) (identity.Issuer, error) {
	return identity.NewJWT(opts.secret, opts.issuer)
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid coordinate %q", a))
		}
		out[i] = v
	}
	return out, nil
}
