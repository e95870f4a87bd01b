// internal/ranking/engine.go

// Package ranking owns ranked match-result submission: the anti-abuse gate
// pipeline, the atomic rating commit, and the leaderboard read path.
package ranking

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"squadlink/internal/apperr"
	"squadlink/internal/models"
	"squadlink/internal/session"
	"squadlink/internal/store"
)

// Options tunes the engine's gates.
type Options struct {
	// SubmitCooldown is the per-(submitter, session) double-tap window.
	SubmitCooldown time.Duration
	// MinMatchAge rejects results submitted implausibly soon after creation.
	MinMatchAge time.Duration
	// AbuseWindow and AbusePairLimit cap how often the same two participants
	// can trade ranked results.
	AbuseWindow    time.Duration
	AbusePairLimit int
	// RatingDelta is the fixed magnitude each result moves ratings by.
	RatingDelta int
}

// Engine runs the submission pipeline. Safe for concurrent use; the only
// mutable state is the best-effort cooldown tracker.
type Engine struct {
	store    store.Store
	events   *session.Hub
	opts     Options
	cooldown *cooldownTracker
	now      func() time.Time
}

// NewEngine wires an Engine. hub may be nil-safe via session.NewHub upstream.
func NewEngine(st store.Store, hub *session.Hub, opts Options) *Engine {
	e := &Engine{
		store:  st,
		events: hub,
		opts:   opts,
		now:    time.Now,
	}
	e.cooldown = newCooldownTracker(opts.SubmitCooldown, func() time.Time { return e.now() })
	return e
}

// SetClock overrides the engine's clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Standing pairs a participant's post-update ranking with their tier.
type Standing struct {
	store.Standing
	Tier string `json:"tier"`
}

// SubmitOutcome is the result of a successful submission.
type SubmitOutcome struct {
	SessionID   uuid.UUID  `json:"session_id"`
	WinnerID    uuid.UUID  `json:"winner_id"`
	RatingDelta int        `json:"rating_delta"`
	Standings   []Standing `json:"standings"`
	// Promoted reports whether the delta moved the winner into a higher
	// tier. Informational only.
	Promoted   bool   `json:"promoted"`
	WinnerTier string `json:"winner_tier"`
}

// SubmitMatchResult runs every gate, then commits the result and rating
// updates in one atomic store operation, then locks the session to completed.
// Gate order is fixed so each failure carries the most specific error.
func (e *Engine) SubmitMatchResult(ctx context.Context, sessionID, winnerID, submittedBy uuid.UUID) (*SubmitOutcome, error) {
	// Gate 1: per-(submitter, session) cooldown. Catches UI double-taps; the
	// store's uniqueness constraint is the real duplicate guard. The window
	// only starts once a submission clears every gate, so failed validations
	// do not rate-limit the corrected retry.
	if e.cooldown.blocked(submittedBy, sessionID) {
		return nil, apperr.RateLimit("submission_cooldown", "a result for this session was just submitted; wait a few seconds")
	}

	// Gate 2: session exists, is ranked, and the submitter hosts it.
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsRanked {
		return nil, apperr.Validation("ranked_required", "session is not ranked")
	}
	if sess.HostID != submittedBy {
		return nil, apperr.Forbidden("not_host", "only the host may submit a result")
	}

	// Gate 3: minimum elapsed time since creation.
	now := e.now()
	if now.Sub(sess.CreatedAt) < e.opts.MinMatchAge {
		return nil, apperr.Validation("too_early", "match submitted too soon after creation")
	}

	// Gate 4: winner must be a joined participant and there must be an
	// actual opponent.
	participants, err := e.store.ListJoinedParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	winnerJoined := false
	for _, p := range participants {
		if p.UserID == winnerID {
			winnerJoined = true
			break
		}
	}
	if !winnerJoined {
		return nil, apperr.Validation("invalid_winner", "winner is not a joined participant")
	}
	if len(participants) < 2 {
		return nil, apperr.Validation("insufficient_participants", "a ranked result needs at least two joined participants")
	}

	// Gate 5: pairwise opponent-abuse ceiling over the rolling window.
	since := now.Add(-e.opts.AbuseWindow)
	for i := 0; i < len(participants); i++ {
		for j := i + 1; j < len(participants); j++ {
			n, err := e.store.CountRankedMatchesBetween(ctx, participants[i].UserID, participants[j].UserID, since)
			if err != nil {
				return nil, err
			}
			if n >= e.opts.AbusePairLimit {
				return nil, apperr.RateLimit("opponent_abuse",
					"these participants have played too many ranked matches together recently")
			}
		}
	}

	// Atomic step: result row + every rating update, all or nothing. A
	// duplicate submission surfaces here as a conflict.
	losers := make([]uuid.UUID, 0, len(participants)-1)
	for _, p := range participants {
		if p.UserID != winnerID {
			losers = append(losers, p.UserID)
		}
	}
	result := &models.MatchResult{
		SessionID:   sessionID,
		WinnerID:    winnerID,
		RatingDelta: e.opts.RatingDelta,
		CreatedAt:   now,
	}
	e.cooldown.record(submittedBy, sessionID)
	raw, err := e.store.RecordMatchOutcome(ctx, result, losers, e.opts.RatingDelta)
	if err != nil {
		return nil, err
	}

	// Lock the session. Idempotent: an already-completed session stays put.
	if _, err := e.store.TransitionSessionStatus(ctx, sessionID, models.StatusActive, models.StatusCompleted); err != nil {
		log.WithError(err).WithField("session_id", sessionID).Warn("failed to mark session completed after result commit")
	}
	e.events.Publish(session.Event{Type: session.EventSessionCompleted, SessionID: sessionID, At: now})

	outcome := &SubmitOutcome{
		SessionID:   sessionID,
		WinnerID:    winnerID,
		RatingDelta: e.opts.RatingDelta,
		Standings:   make([]Standing, 0, len(raw)),
	}
	for _, st := range raw {
		outcome.Standings = append(outcome.Standings, Standing{Standing: st, Tier: TierFromRating(st.Ranking.Rating)})
		if st.Won {
			outcome.WinnerTier = TierFromRating(st.Ranking.Rating)
			outcome.Promoted = TierFromRating(st.Ranking.Rating-e.opts.RatingDelta) != outcome.WinnerTier
		}
	}
	return outcome, nil
}

// LeaderboardEntry is one row of the ranked leaderboard.
type LeaderboardEntry struct {
	Rank    int                `json:"rank"`
	Tier    string             `json:"tier"`
	Ranking models.UserRanking `json:"ranking"`
}

// Leaderboard returns the top limit users. The store's ordering is not
// trusted: rows are re-sorted by rating descending with userID as the
// tie-break, and dense 1-based ranks are assigned afterwards, so rank and
// order can never disagree.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rankings, err := e.store.TopRankings(ctx, limit)
	if err != nil {
		return nil, err
	}

	sort.Slice(rankings, func(i, j int) bool {
		if rankings[i].Rating != rankings[j].Rating {
			return rankings[i].Rating > rankings[j].Rating
		}
		return rankings[i].UserID.String() < rankings[j].UserID.String()
	})

	out := make([]LeaderboardEntry, 0, len(rankings))
	rank := 0
	prevRating := 0
	for i, r := range rankings {
		if i == 0 || r.Rating != prevRating {
			rank++
			prevRating = r.Rating
		}
		out = append(out, LeaderboardEntry{Rank: rank, Tier: TierFromRating(r.Rating), Ranking: r})
	}
	return out, nil
}
