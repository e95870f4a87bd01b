// internal/ranking/engine_test.go
package ranking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"squadlink/internal/apperr"
	"squadlink/internal/gamelink"
	"squadlink/internal/models"
	"squadlink/internal/notify"
	"squadlink/internal/session"
	"squadlink/internal/store"
)

const jailbreakURL = "https://www.roblox.com/games/606849621/Jailbreak"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock   *fakeClock
	mem     *store.Memory
	manager *session.Manager
	engine  *Engine
}

func defaultOptions() Options {
	return Options{
		SubmitCooldown: 10 * time.Second,
		MinMatchAge:    5 * time.Minute,
		AbuseWindow:    24 * time.Hour,
		AbusePairLimit: 5,
		RatingDelta:    25,
	}
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	clock := newFakeClock()
	mem := store.NewMemory()
	mem.Now = clock.Now
	hub := session.NewHub()

	manager := session.NewManager(mem, gamelink.New(time.Second, 0), notify.LogNotifier{}, hub)
	manager.SetClock(clock.Now)

	engine := NewEngine(mem, hub, opts)
	engine.SetClock(clock.Now)

	return &fixture{clock: clock, mem: mem, manager: manager, engine: engine}
}

// newRankedSession creates a public ranked session and joins the given
// members alongside the host.
func (f *fixture) newRankedSession(t *testing.T, hostID uuid.UUID, members ...uuid.UUID) uuid.UUID {
	t.Helper()
	created, err := f.manager.CreateSession(context.Background(), session.CreateParams{
		HostID:          hostID,
		GameLink:        jailbreakURL,
		Title:           "ranked showdown",
		Visibility:      models.VisibilityPublic,
		MaxParticipants: 10,
		IsRanked:        true,
	})
	require.NoError(t, err)
	for _, member := range members {
		_, err := f.manager.JoinSession(context.Background(), created.Session.ID, member, "")
		require.NoError(t, err)
	}
	return created.Session.ID
}

func TestSubmitMatchResultHappyPath(t *testing.T) {
	f := newFixture(t, defaultOptions())
	host, member := uuid.New(), uuid.New()
	sessionID := f.newRankedSession(t, host, member)
	f.clock.Advance(10 * time.Minute)

	outcome, err := f.engine.SubmitMatchResult(context.Background(), sessionID, host, host)
	require.NoError(t, err)
	require.Equal(t, 25, outcome.RatingDelta)
	require.Len(t, outcome.Standings, 2)

	// Winner first, then losers; rating moves are exactly ±delta off the
	// lazily-created default.
	winner := outcome.Standings[0]
	require.True(t, winner.Won)
	require.Equal(t, host, winner.Ranking.UserID)
	require.Equal(t, models.DefaultRating+25, winner.Ranking.Rating)
	require.Equal(t, 1, winner.Ranking.Wins)

	loser := outcome.Standings[1]
	require.False(t, loser.Won)
	require.Equal(t, models.DefaultRating-25, loser.Ranking.Rating)
	require.Equal(t, 1, loser.Ranking.Losses)

	sess, err := f.mem.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, sess.Status)
}

func TestSubmitMatchResultRatingConservation(t *testing.T) {
	f := newFixture(t, defaultOptions())
	host := uuid.New()
	members := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	sessionID := f.newRankedSession(t, host, members...)
	f.clock.Advance(10 * time.Minute)

	outcome, err := f.engine.SubmitMatchResult(context.Background(), sessionID, members[1], host)
	require.NoError(t, err)
	require.Len(t, outcome.Standings, 4)

	sum := 0
	for _, st := range outcome.Standings {
		sum += st.Ranking.Rating - models.DefaultRating
	}
	// One winner at +25, three losers at -25 each.
	require.Equal(t, -50, sum)
}

func TestSubmitMatchResultGateOrder(t *testing.T) {
	f := newFixture(t, defaultOptions())
	host, member := uuid.New(), uuid.New()

	// Session not found.
	_, err := f.engine.SubmitMatchResult(context.Background(), uuid.New(), host, host)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// Not ranked.
	created, err := f.manager.CreateSession(context.Background(), session.CreateParams{
		HostID:          host,
		GameLink:        jailbreakURL,
		Title:           "casual",
		Visibility:      models.VisibilityPublic,
		MaxParticipants: 4,
	})
	require.NoError(t, err)
	_, err = f.engine.SubmitMatchResult(context.Background(), created.Session.ID, host, host)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	require.Equal(t, "ranked_required", apperr.CodeOf(err))

	sessionID := f.newRankedSession(t, host, member)

	// Not host.
	_, err = f.engine.SubmitMatchResult(context.Background(), sessionID, member, member)
	require.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// Too early: 10 seconds after creation is inside the 5 minute floor,
	// and nothing is written.
	f.clock.Advance(10 * time.Second)
	_, err = f.engine.SubmitMatchResult(context.Background(), sessionID, host, host)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	require.Equal(t, "too_early", apperr.CodeOf(err))
	_, found := f.mem.Ranking(host)
	require.False(t, found, "no rating row may exist after a rejected submission")

	f.clock.Advance(10 * time.Minute)

	// Invalid winner.
	_, err = f.engine.SubmitMatchResult(context.Background(), sessionID, uuid.New(), host)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	require.Equal(t, "invalid_winner", apperr.CodeOf(err))
}

func TestSubmitMatchResultInsufficientParticipants(t *testing.T) {
	f := newFixture(t, defaultOptions())
	host := uuid.New()
	sessionID := f.newRankedSession(t, host) // host only
	f.clock.Advance(10 * time.Minute)

	_, err := f.engine.SubmitMatchResult(context.Background(), sessionID, host, host)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	require.Equal(t, "insufficient_participants", apperr.CodeOf(err))
}

func TestSubmitMatchResultCooldown(t *testing.T) {
	f := newFixture(t, defaultOptions())
	host, member := uuid.New(), uuid.New()
	sessionID := f.newRankedSession(t, host, member)
	f.clock.Advance(10 * time.Minute)

	_, err := f.engine.SubmitMatchResult(context.Background(), sessionID, host, host)
	require.NoError(t, err)

	// Immediate retry trips the cooldown before any other gate.
	_, err = f.engine.SubmitMatchResult(context.Background(), sessionID, host, host)
	require.Equal(t, apperr.KindRateLimit, apperr.KindOf(err))
	require.Equal(t, "submission_cooldown", apperr.CodeOf(err))
}

func TestSubmitMatchResultFailedGateDoesNotStartCooldown(t *testing.T) {
	f := newFixture(t, defaultOptions())
	host, member := uuid.New(), uuid.New()
	sessionID := f.newRankedSession(t, host, member)
	f.clock.Advance(10 * time.Minute)

	// A mistyped winner is rejected by the gate pipeline.
	_, err := f.engine.SubmitMatchResult(context.Background(), sessionID, uuid.New(), host)
	require.Equal(t, "invalid_winner", apperr.CodeOf(err))

	// The corrected retry goes through immediately; the rejection must not
	// have consumed the cooldown window.
	_, err = f.engine.SubmitMatchResult(context.Background(), sessionID, member, host)
	require.NoError(t, err)
}

func TestSubmitMatchResultDuplicateIsConflict(t *testing.T) {
	f := newFixture(t, defaultOptions())
	host, member := uuid.New(), uuid.New()
	sessionID := f.newRankedSession(t, host, member)
	f.clock.Advance(10 * time.Minute)

	first, err := f.engine.SubmitMatchResult(context.Background(), sessionID, host, host)
	require.NoError(t, err)

	// Past the cooldown, the duplicate reaches the store and surfaces as a
	// conflict from the result-uniqueness invariant.
	f.clock.Advance(time.Minute)
	_, err = f.engine.SubmitMatchResult(context.Background(), sessionID, host, host)
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// The first result's rating changes are untouched.
	winner, found := f.mem.Ranking(host)
	require.True(t, found)
	require.Equal(t, first.Standings[0].Ranking.Rating, winner.Rating)
	require.Equal(t, 1, winner.Wins)
}

func TestSubmitMatchResultOpponentAbuseCeiling(t *testing.T) {
	opts := defaultOptions()
	opts.AbusePairLimit = 1
	f := newFixture(t, opts)
	host, member := uuid.New(), uuid.New()

	first := f.newRankedSession(t, host, member)
	f.clock.Advance(10 * time.Minute)
	_, err := f.engine.SubmitMatchResult(context.Background(), first, host, host)
	require.NoError(t, err)

	// Same pair again inside the window: ceiling reached.
	second := f.newRankedSession(t, host, member)
	f.clock.Advance(10 * time.Minute)
	_, err = f.engine.SubmitMatchResult(context.Background(), second, host, host)
	require.Equal(t, apperr.KindRateLimit, apperr.KindOf(err))
	require.Equal(t, "opponent_abuse", apperr.CodeOf(err))

	// Outside the window the pair may play again.
	f.clock.Advance(25 * time.Hour)
	third := f.newRankedSession(t, host, member)
	f.clock.Advance(10 * time.Minute)
	_, err = f.engine.SubmitMatchResult(context.Background(), third, member, host)
	require.NoError(t, err)
}

func TestSubmitMatchResultConcurrentDuplicates(t *testing.T) {
	opts := defaultOptions()
	opts.SubmitCooldown = 0 // let every attempt reach the store
	f := newFixture(t, opts)
	host, member := uuid.New(), uuid.New()
	sessionID := f.newRankedSession(t, host, member)
	f.clock.Advance(10 * time.Minute)

	const attempts = 6
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.SubmitMatchResult(context.Background(), sessionID, host, host)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case apperr.KindOf(err) == apperr.KindConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, attempts-1, conflicts)

	winner, _ := f.mem.Ranking(host)
	require.Equal(t, models.DefaultRating+25, winner.Rating)
	require.Equal(t, 1, winner.Wins)
}

func TestLeaderboardOrderingAndDenseRanks(t *testing.T) {
	f := newFixture(t, defaultOptions())

	// Three decided sessions: a beats b twice, c beats d once. Ratings end
	// at a=1050, c=1025, d=975, b=950.
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	for _, match := range []struct{ host, member, winner uuid.UUID }{
		{a, b, a},
		{a, b, a},
		{c, d, c},
	} {
		id := f.newRankedSession(t, match.host, match.member)
		f.clock.Advance(10 * time.Minute)
		_, err := f.engine.SubmitMatchResult(context.Background(), id, match.winner, match.host)
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
	}

	board, err := f.engine.Leaderboard(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, board, 4)

	require.Equal(t, a, board[0].Ranking.UserID)
	require.Equal(t, c, board[1].Ranking.UserID)
	require.Equal(t, d, board[2].Ranking.UserID)
	require.Equal(t, b, board[3].Ranking.UserID)
	for i, entry := range board {
		require.Equal(t, i+1, entry.Rank)
	}
}

func TestLeaderboardTiesShareDenseRank(t *testing.T) {
	f := newFixture(t, defaultOptions())

	// Two independent pairs produce two winners at the same rating and two
	// losers at the same rating.
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	for _, match := range []struct{ host, member uuid.UUID }{{a, b}, {c, d}} {
		id := f.newRankedSession(t, match.host, match.member)
		f.clock.Advance(10 * time.Minute)
		_, err := f.engine.SubmitMatchResult(context.Background(), id, match.host, match.host)
		require.NoError(t, err)
	}

	board, err := f.engine.Leaderboard(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, board, 4)

	require.Equal(t, 1, board[0].Rank)
	require.Equal(t, 1, board[1].Rank)
	require.Equal(t, 2, board[2].Rank)
	require.Equal(t, 2, board[3].Rank)
	// Deterministic tie-break: userID ascending within a rating band.
	require.Less(t, board[0].Ranking.UserID.String(), board[1].Ranking.UserID.String())
	require.Less(t, board[2].Ranking.UserID.String(), board[3].Ranking.UserID.String())
}
