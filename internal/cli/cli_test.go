package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/rollcall/internal/adapters/http/api"
	"github.com/okian/rollcall/internal/adapters/identity"
	service "github.com/okian/rollcall/internal/app"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/domain/types"
	"github.com/okian/rollcall/pkg/logger"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := service.New(service.WithLogger(logger.NewNop()))
	ids := identity.Static{
		"ada-token": {UserID: "ada", Name: "Ada"},
		"bob-token": {UserID: "bob", Name: "Bob"},
	}
	srv := httptest.NewServer(api.NewServer(svc, svc, ids,
		api.WithLogger(logger.NewNop()),
		api.WithHeartbeat(20*time.Millisecond),
	).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "rollcallctl", cmd.Use)

	for _, name := range []string{"distance", "rank", "token", "login", "locate", "register", "cancel", "checkin", "mine"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "distance", "0", "0", "0", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDistanceCommand(t *testing.T) {
	out, err := execute(t, "distance", "-7.98", "112.63", "-7.97", "112.63")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "1.1 km"), out)

	out, err = execute(t, "--format", "json", "distance", "0", "0", "0", "0.001")
	require.NoError(t, err)
	var res distanceResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "111 m", res.Label)

	_, err = execute(t, "distance", "north", "0", "0", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRankCommand(t *testing.T) {
	out, err := execute(t, "--format", "json", "rank", "--lat", "-7.98", "--lon", "112.63")
	require.NoError(t, err)
	var ranked []types.RankedEvent
	require.NoError(t, json.Unmarshal([]byte(out), &ranked))
	require.NotEmpty(t, ranked)
	assert.Equal(t, "ev_alun_alun_jazz", ranked[0].Event.ID)
	assert.Equal(t, 1, ranked[0].Rank)
	last := ranked[len(ranked)-1]
	assert.Equal(t, "ev_online_workshop", last.Event.ID)
	assert.Equal(t, 0, last.Rank)
	assert.Nil(t, last.DistanceKm)

	out, err = execute(t, "rank")
	require.NoError(t, err)
	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, "location unavailable")

	out, err = execute(t, "--format", "json", "rank", "--lat", "-7.98", "--lon", "112.63", "--nearby", "--radius", "5")
	require.NoError(t, err)
	ranked = nil
	require.NoError(t, json.Unmarshal([]byte(out), &ranked))
	for _, e := range ranked {
		require.NotNil(t, e.DistanceKm)
		assert.Less(t, *e.DistanceKm, 5.0)
	}
}

func TestRankCommandCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
events:
  - id: ev_a
    title: A
    latitude: 1
    longitude: 1
    category: music
  - id: ev_b
    title: B
    latitude: 2
    longitude: 2
    category: food
`), 0o600))

	out, err := execute(t, "--format", "json", "rank", "--catalog", path, "--category", "FOOD", "--lat", "0", "--lon", "0")
	require.NoError(t, err)
	var ranked []types.RankedEvent
	require.NoError(t, json.Unmarshal([]byte(out), &ranked))
	require.Len(t, ranked, 1)
	assert.Equal(t, "ev_b", ranked[0].Event.ID)

	_, err = execute(t, "rank", "--catalog", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTokenCommand(t *testing.T) {
	out, err := execute(t, "token", "ada", "ev_alun_alun_jazz")
	require.NoError(t, err)
	assert.Equal(t, "ada_ev_alun_alun_jazz\n", out)

	out, err = execute(t, "--format", "json", "token", "--parse", "ada_ev_alun_alun_jazz")
	require.NoError(t, err)
	var res tokenResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "ada", res.UserID)
	assert.Equal(t, "ev_alun_alun_jazz", res.EventID)

	_, err = execute(t, "token", "ada_lovelace", "ev_x")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrMalformedToken)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = execute(t, "token", "--parse", "nounderscore")
	assert.ErrorIs(t, err, model.ErrMalformedToken)
}

func TestLoginCommand(t *testing.T) {
	out, err := execute(t, "login", "--secret", "s3cret", "--issuer", "rollcall", "--user", "ada", "--name", "Ada", "--ttl", "1h")
	require.NoError(t, err)

	verifier, err := identity.NewJWT("s3cret", "rollcall")
	require.NoError(t, err)
	id, err := verifier.Identify(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ada", id.UserID)
	assert.Equal(t, "Ada", id.Name)

	_, err = execute(t, "login", "--secret", "", "--user", "ada")
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrMissingSecret)

	_, err = execute(t, "login", "--secret", "s3cret")
	require.Error(t, err)
}

func TestRemoteCommands(t *testing.T) {
	srv := newServer(t)
	ada := []string{"--server", srv.URL, "--token", "ada-token"}

	out, err := execute(t, append(ada, "locate", "-7.98", "112.63")...)
	require.NoError(t, err)
	assert.Contains(t, out, "location set")

	out, err = execute(t, append(ada, "register", "ev_alun_alun_jazz")...)
	require.NoError(t, err)
	assert.Contains(t, out, "registered ev_alun_alun_jazz")

	_, err = execute(t, append(ada, "register", "ev_alun_alun_jazz")...)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAlreadyRegistered)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = execute(t, "--server", srv.URL, "--token", "bob-token", "checkin", "ada_ev_alun_alun_jazz")
	assert.ErrorIs(t, err, model.ErrTokenOwnershipMismatch)

	out, err = execute(t, append(ada, "checkin", "--event", "ev_alun_alun_jazz")...)
	require.NoError(t, err)
	assert.Contains(t, out, "completed ev_alun_alun_jazz")

	_, err = execute(t, append(ada, "checkin", "ada_ev_alun_alun_jazz")...)
	assert.ErrorIs(t, err, model.ErrAlreadyCheckedIn)

	_, err = execute(t, append(ada, "register", "ev_batu_market")...)
	require.NoError(t, err)
	out, err = execute(t, append(ada, "cancel", "ev_batu_market")...)
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled ev_batu_market")

	out, err = execute(t, append(ada, "--format", "json", "mine")...)
	require.NoError(t, err)
	var regs []model.Registration
	require.NoError(t, json.Unmarshal([]byte(out), &regs))
	assert.Len(t, regs, 2)

	out, err = execute(t, append(ada, "mine")...)
	require.NoError(t, err)
	assert.Contains(t, out, "EVENT")
	assert.Contains(t, out, "ev_batu_market")
}

func TestRemoteCommandsAnonymous(t *testing.T) {
	srv := newServer(t)

	_, err := execute(t, "--server", srv.URL, "register", "ev_ijen_run")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotAuthenticated)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestRemoteCommandsUnreachable(t *testing.T) {
	srv := newServer(t)
	url := srv.URL
	srv.Close()

	_, err := execute(t, "--server", url, "--token", "ada-token", "--timeout", "2s", "mine")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMineFollow(t *testing.T) {
	srv := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := &syncBuffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--server", srv.URL, "--token", "ada-token", "mine", "--follow"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "EVENT") }, 5*time.Second, 10*time.Millisecond)

	_, err := execute(t, "--server", srv.URL, "--token", "ada-token", "register", "ev_bromo_sunrise")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "ev_bromo_sunrise") }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not stop")
	}
}

func newJWTServer(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	provider, err := identity.NewJWT(secret, "rollcall")
	require.NoError(t, err)
	svc := service.New(service.WithLogger(logger.NewNop()))
	srv := httptest.NewServer(api.NewServer(svc, svc, provider, api.WithLogger(logger.NewNop())).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestLoadTestCommand(t *testing.T) {
	srv := newJWTServer(t, "s3cret")

	out, err := execute(t, "--server", srv.URL, "--format", "json",
		"loadtest", "--event", "ev_ijen_run", "--users", "40", "--workers", "8", "--secret", "s3cret")
	require.NoError(t, err)
	var stats LoadStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(40), stats.Registered)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, 0, stats.CountBefore)
	assert.Equal(t, 40, stats.CountAfter)
	assert.True(t, stats.CountVerified)
	assert.InDelta(t, 100.0, stats.SuccessRate, 0.001)

	out, err = execute(t, "--server", srv.URL,
		"loadtest", "--event", "ev_ijen_run", "--users", "10", "--workers", "3", "--secret", "s3cret", "--checkin")
	require.NoError(t, err)
	assert.Contains(t, out, "checked in:   10")
	assert.Contains(t, out, "count:        40 -> 40")
}

func TestLoadTestCommandFailures(t *testing.T) {
	srv := newJWTServer(t, "s3cret")

	_, err := execute(t, "--server", srv.URL, "loadtest", "--event", "ev_ijen_run", "--secret", "")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "--server", srv.URL, "loadtest", "--event", "nope", "--secret", "s3cret", "--users", "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrEventNotFound)

	out, err := execute(t, "--server", srv.URL, "--format", "json",
		"loadtest", "--event", "ev_ijen_run", "--users", "5", "--workers", "2", "--secret", "wrong")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var stats LoadStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(5), stats.Failed)

	_, err = execute(t, "--server", srv.URL, "loadtest", "--event", "ev_ijen_run", "--secret", "s3cret", "--users", "0")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
