package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/okian/rollcall/internal/adapters/identity"
	"github.com/okian/rollcall/internal/client"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/pkg/logger"
)

const (
	defaultLoadUsers     = 1000
	workerMultiplier     = 2
	progressInterval     = time.Second
	percentageMultiplier = 100
)

type loadOptions struct {
	eventID  string
	users    int
	workers  int
	checkIn  bool
	secret   string
	issuer   string
	tokenTTL time.Duration
}

// LoadStats summarises a load test run.
type LoadStats struct {
	EventID       string        `json:"event_id"`
	Users         int           `json:"users"`
	Registered    int64         `json:"registered"`
	Duplicate     int64         `json:"duplicate"`
	CheckedIn     int64         `json:"checked_in"`
	Failed        int64         `json:"failed"`
	CountBefore   int           `json:"count_before"`
	CountAfter    int           `json:"count_after"`
	Duration      time.Duration `json:"duration_ns"`
	RequestsPerS  float64       `json:"requests_per_second"`
	SuccessRate   float64       `json:"success_rate"`
	CountVerified bool          `json:"count_verified"`
}

// NewLoadTestCommand creates the loadtest command. It registers many
// synthetic users for one event concurrently and verifies the server's
// registration count afterwards.
func NewLoadTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &loadOptions{}

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Register many synthetic users for an event concurrently",
		Long: `Mint a token per synthetic user with the server's secret, register every
user for --event through a worker pool, optionally check each one in, then
verify that the event's registration count moved by the expected amount.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, runErr := runLoadTest(cmd.Context(), rootOpts, opts, rootOpts.logger(cmd))
			if stats == nil {
				return runErr
			}
			if err := (printer{rootOpts.Format, cmd.OutOrStdout()}).print(stats, func(w io.Writer) {
				printLoadStats(w, stats)
			}); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&opts.eventID, "event", "", "event to register for")
	cmd.Flags().IntVar(&opts.users, "users", defaultLoadUsers, "number of synthetic users")
	cmd.Flags().IntVar(&opts.workers, "workers", runtime.NumCPU()*workerMultiplier, "concurrent workers")
	cmd.Flags().BoolVar(&opts.checkIn, "checkin", false, "also check every user in")
	cmd.Flags().StringVar(&opts.secret, "secret", envOr("ROLLCALL_JWT_SECRET", ""), "HS256 signing secret of the server")
	cmd.Flags().StringVar(&opts.issuer, "issuer", envOr("ROLLCALL_JWT_ISSUER", "rollcall"), "token issuer")
	cmd.Flags().DurationVar(&opts.tokenTTL, "token-ttl", time.Hour, "lifetime of minted tokens")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

func runLoadTest(ctx context.Context, rootOpts *RootOptions, opts *loadOptions, log logger.Logger) (*LoadStats, error) {
	if opts.users <= 0 || opts.workers <= 0 {
		return nil, NewExitError(ExitCommandError, "users and workers must be positive")
	}
	issuer, err := newIssuer(&loginOptions{secret: opts.secret, issuer: opts.issuer})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loadtest", err)
	}

	shared := &http.Client{Timeout: rootOpts.Timeout}
	counter := client.New(rootOpts.Server, client.WithHTTPClient(shared))

	log.Info(ctx, "starting load test",
		logger.String("server", rootOpts.Server),
		logger.String("event_id", opts.eventID),
		logger.Int("users", opts.users),
		logger.Int("workers", opts.workers),
		logger.Bool("checkin", opts.checkIn))

	if err := counter.Health(ctx); err != nil {
		return nil, remoteError("service health check failed", err)
	}
	before, err := counter.Count(ctx, opts.eventID)
	if err != nil {
		return nil, remoteError("count registrations", err)
	}

	stats := &LoadStats{EventID: opts.eventID, Users: opts.users, CountBefore: before}
	start := time.Now()

	users := make(chan model.Identity, opts.workers*workerMultiplier)
	var wg sync.WaitGroup
	var done atomic.Int64
	lastReport := time.Now()
	var reportMu sync.Mutex

	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range users {
				loadOne(ctx, rootOpts.Server, shared, issuer, opts, id, stats, log)
				n := done.Add(1)

				reportMu.Lock()
				if time.Since(lastReport) >= progressInterval {
					lastReport = time.Now()
					log.Info(ctx, "progress",
						logger.Int("done", int(n)),
						logger.Int("users", opts.users),
						logger.Int("failed", int(atomic.LoadInt64(&stats.Failed))))
				}
				reportMu.Unlock()
			}
		}()
	}

	go func() {
		defer close(users)
		for i := 0; i < opts.users; i++ {
			id := model.Identity{UserID: "load-" + uuid.NewString(), Name: fmt.Sprintf("Load User %d", i+1)}
			select {
			case <-ctx.Done():
				return
			case users <- id:
			}
		}
	}()

	wg.Wait()
	stats.Duration = time.Since(start)

	after, err := counter.Count(ctx, opts.eventID)
	if err != nil {
		return nil, remoteError("count registrations", err)
	}
	stats.CountAfter = after
	finishStats(stats, opts.checkIn)

	log.Info(ctx, "load test finished",
		logger.Int("registered", int(stats.Registered)),
		logger.Int("checked_in", int(stats.CheckedIn)),
		logger.Int("failed", int(stats.Failed)),
		logger.Duration("duration", stats.Duration),
		logger.Float64("success_rate", stats.SuccessRate),
		logger.Bool("count_verified", stats.CountVerified))

	if !stats.CountVerified {
		return stats, NewExitError(ExitFailure, fmt.Sprintf(
			"registration count moved from %d to %d; expected %d",
			stats.CountBefore, stats.CountAfter, expectedCount(stats, opts.checkIn)))
	}
	if stats.Failed > 0 {
		return stats, NewExitError(ExitFailure, fmt.Sprintf("%d of %d users failed", stats.Failed, stats.Users))
	}
	return stats, nil
}

func loadOne(ctx context.Context, server string, shared *http.Client, issuer identity.Issuer, opts *loadOptions, id model.Identity, stats *LoadStats, log logger.Logger) {
	bearer, err := issuer.Issue(id, opts.tokenTTL)
	if err != nil {
		atomic.AddInt64(&stats.Failed, 1)
		return
	}
	c := client.New(server, client.WithBearer(bearer), client.WithHTTPClient(shared))

	_, err = c.Register(ctx, opts.eventID)
	switch {
	case errors.Is(err, model.ErrAlreadyRegistered):
		atomic.AddInt64(&stats.Duplicate, 1)
		return
	case err != nil:
		atomic.AddInt64(&stats.Failed, 1)
		log.Debug(ctx, "register failed", logger.String("user_id", id.UserID), logger.Error(err))
		return
	}
	atomic.AddInt64(&stats.Registered, 1)

	if !opts.checkIn {
		return
	}
	tok, err := c.Token(ctx, opts.eventID)
	if err == nil {
		_, err = c.CheckIn(ctx, tok)
	}
	if err != nil {
		atomic.AddInt64(&stats.Failed, 1)
		log.Debug(ctx, "check-in failed", logger.String("user_id", id.UserID), logger.Error(err))
		return
	}
	atomic.AddInt64(&stats.CheckedIn, 1)
}

func expectedCount(stats *LoadStats, checkIn bool) int {
	want := stats.CountBefore + int(stats.Registered)
	if checkIn {
		want -= int(stats.CheckedIn)
	}
	return want
}

func finishStats(stats *LoadStats, checkIn bool) {
	if stats.Users > 0 {
		stats.SuccessRate = float64(stats.Registered) / float64(stats.Users) * percentageMultiplier
	}
	if secs := stats.Duration.Seconds(); secs > 0 {
		requests := stats.Registered + stats.Duplicate + stats.Failed
		if checkIn {
			requests += 2 * stats.CheckedIn
		}
		stats.RequestsPerS = float64(requests) / secs
	}
	stats.CountVerified = stats.CountAfter == expectedCount(stats, checkIn)
}

func printLoadStats(w io.Writer, s *LoadStats) {
	fmt.Fprintf(w, "event:        %s\n", s.EventID)
	fmt.Fprintf(w, "users:        %d\n", s.Users)
	fmt.Fprintf(w, "registered:   %d\n", s.Registered)
	fmt.Fprintf(w, "duplicate:    %d\n", s.Duplicate)
	fmt.Fprintf(w, "checked in:   %d\n", s.CheckedIn)
	fmt.Fprintf(w, "failed:       %d\n", s.Failed)
	fmt.Fprintf(w, "count:        %d -> %d\n", s.CountBefore, s.CountAfter)
	fmt.Fprintf(w, "duration:     %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "success rate: %.1f%%\n", s.SuccessRate)
	fmt.Fprintf(w, "requests/s:   %.1f\n", s.RequestsPerS)
}
