// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"squadlink/internal/apperr"
	"squadlink/internal/models"
)

// Postgres implements Store on a pgx connection pool.
//
// Optional-column capability (handoff_state, archived_at) is discovered
// lazily from the first undefined-column failure and cached for the process
// lifetime, so a fleet can run against a half-migrated schema without a
// deploy-order guarantee.
type Postgres struct {
	pool *pgxpool.Pool

	handoffMissing  atomic.Bool
	handoffWarnOnce sync.Once

	archivedMissing  atomic.Bool
	archivedWarnOnce sync.Once
}

// NewPostgres connects a pool for dsn.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying pool.
func (p *Postgres) Close() { p.pool.Close() }

// missingColumn extracts the column name from an undefined-column error
// (SQLSTATE 42703), or "" when err is something else.
func missingColumn(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "42703" {
		return ""
	}
	// message shape: column "handoff_state" of relation "..." does not exist
	msg := pgErr.Message
	start := strings.Index(msg, `"`)
	if start == -1 {
		return ""
	}
	rest := msg[start+1:]
	end := strings.Index(rest, `"`)
	if end == -1 {
		return ""
	}
	return rest[:end]
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (p *Postgres) CreateSession(ctx context.Context, s *models.Session, host *models.Participant, invite *models.InviteCode) error {
	run := func() error {
		return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `
				INSERT INTO sessions (
					id, host_id, game_ref, title, visibility, status,
					is_ranked, max_participants, scheduled_start, created_at, updated_at
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			`,
				s.ID, s.HostID, s.GameRef, s.Title, s.Visibility, s.Status,
				s.IsRanked, s.MaxParticipants, s.ScheduledStart, s.CreatedAt, s.UpdatedAt,
			)
			if err != nil {
				return err
			}
			if err := p.insertParticipantTx(ctx, tx, host); err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO invite_codes (session_id, code, created_by, created_at)
				VALUES ($1, $2, $3, $4)
			`, invite.SessionID, invite.Code, invite.CreatedBy, invite.CreatedAt)
			return err
		})
	}

	err := run()
	var missing *MissingColumnError
	if errors.As(err, &missing) && missing.Column == "handoff_state" {
		// A failed statement aborts the whole transaction, so the degraded
		// participant insert needs a fresh one.
		p.noteHandoffMissing()
		err = run()
	}
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("session_exists", "session already exists")
		}
		return apperr.Store(err)
	}
	return nil
}

func (p *Postgres) noteHandoffMissing() {
	p.handoffMissing.Store(true)
	p.handoffWarnOnce.Do(func() {
		log.Warn("schema has no handoff_state column; participant inserts will omit it for the rest of this process")
	})
}

// insertParticipantTx writes one participant row, omitting handoff_state once
// the schema is known not to carry it.
func (p *Postgres) insertParticipantTx(ctx context.Context, db execer, part *models.Participant) error {
	if !p.handoffMissing.Load() {
		_, err := db.Exec(ctx, `
			INSERT INTO session_participants (session_id, user_id, role, state, handoff_state, joined_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, part.SessionID, part.UserID, part.Role, part.State, part.HandoffState, part.JoinedAt)
		if missingColumn(err) != "handoff_state" {
			return err
		}
		return &MissingColumnError{Column: "handoff_state"}
	}
	_, err := db.Exec(ctx, `
		INSERT INTO session_participants (session_id, user_id, role, state, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`, part.SessionID, part.UserID, part.Role, part.State, part.JoinedAt)
	return err
}

func (p *Postgres) InsertParticipant(ctx context.Context, part *models.Participant) error {
	err := p.insertParticipantTx(ctx, p.pool, part)
	var missing *MissingColumnError
	if errors.As(err, &missing) {
		p.noteHandoffMissing()
		err = p.insertParticipantTx(ctx, p.pool, part)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("already_joined", "user is already a participant of this session")
		}
		return apperr.Store(err)
	}
	return nil
}

const sessionColumns = `
	id, host_id, game_ref, title, visibility, status,
	is_ranked, max_participants, scheduled_start, created_at, updated_at, archived_at
`

// sessionColumnsCompat is the pre-archival-migration column set. Read paths
// fall back to it once archived_at is known to be absent, the same way
// participant reads fall back when handoff_state is absent.
const sessionColumnsCompat = `
	id, host_id, game_ref, title, visibility, status,
	is_ranked, max_participants, scheduled_start, created_at, updated_at
`

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.HostID, &s.GameRef, &s.Title, &s.Visibility, &s.Status,
		&s.IsRanked, &s.MaxParticipants, &s.ScheduledStart, &s.CreatedAt, &s.UpdatedAt, &s.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// scanSessionCompat leaves ArchivedAt nil; the column does not exist.
func scanSessionCompat(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.HostID, &s.GameRef, &s.Title, &s.Visibility, &s.Status,
		&s.IsRanked, &s.MaxParticipants, &s.ScheduledStart, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	if !p.archivedMissing.Load() {
		s, err := scanSession(p.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
		if missingColumn(err) != "archived_at" {
			return sessionOrErr(s, err)
		}
		p.noteArchivedMissing()
	}
	s, err := scanSessionCompat(p.pool.QueryRow(ctx, `SELECT `+sessionColumnsCompat+` FROM sessions WHERE id = $1`, id))
	return sessionOrErr(s, err)
}

func sessionOrErr(s *models.Session, err error) (*models.Session, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("session_not_found", "session not found")
	}
	if err != nil {
		return nil, apperr.Store(err)
	}
	return s, nil
}

func (p *Postgres) ListSessions(ctx context.Context, f SessionFilter) ([]models.Session, error) {
	if !p.archivedMissing.Load() {
		out, err := p.listSessions(ctx, f, sessionColumns, scanSession)
		if missingColumn(err) != "archived_at" {
			return out, err
		}
		p.noteArchivedMissing()
	}
	return p.listSessions(ctx, f, sessionColumnsCompat, scanSessionCompat)
}

func (p *Postgres) listSessions(ctx context.Context, f SessionFilter, columns string, scan func(pgx.Row) (*models.Session, error)) ([]models.Session, error) {
	q := `SELECT ` + columns + ` FROM sessions WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		q += ` AND status = $` + itoa(len(args))
	}
	if f.Visibility != "" {
		args = append(args, f.Visibility)
		q += ` AND visibility = $` + itoa(len(args))
	}
	if f.HostID != uuid.Nil {
		args = append(args, f.HostID)
		q += ` AND host_id = $` + itoa(len(args))
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` LIMIT $` + itoa(len(args))
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Store(err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, apperr.Store(err)
		}
		out = append(out, *s)
	}
	if rows.Err() != nil {
		return nil, apperr.Store(rows.Err())
	}
	return out, nil
}

func itoa(n int) string { return strconv.Itoa(n) }

func (p *Postgres) TransitionSessionStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE sessions SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return false, apperr.Store(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) ListJoinedParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	if p.handoffMissing.Load() {
		return p.listJoinedNoHandoff(ctx, sessionID)
	}
	out, err := p.listJoinedWithHandoff(ctx, sessionID)
	if missingColumn(err) == "handoff_state" {
		p.noteHandoffMissing()
		return p.listJoinedNoHandoff(ctx, sessionID)
	}
	return out, err
}

func (p *Postgres) listJoinedWithHandoff(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT session_id, user_id, role, state, handoff_state, joined_at
		FROM session_participants
		WHERE session_id = $1 AND state = 'joined'
		ORDER BY joined_at
	`, sessionID)
	if err != nil {
		return nil, apperr.Store(err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var part models.Participant
		if err := rows.Scan(&part.SessionID, &part.UserID, &part.Role, &part.State, &part.HandoffState, &part.JoinedAt); err != nil {
			return nil, apperr.Store(err)
		}
		out = append(out, part)
	}
	if rows.Err() != nil {
		return nil, apperr.Store(rows.Err())
	}
	return out, nil
}

func (p *Postgres) listJoinedNoHandoff(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT session_id, user_id, role, state, joined_at
		FROM session_participants
		WHERE session_id = $1 AND state = 'joined'
		ORDER BY joined_at
	`, sessionID)
	if err != nil {
		return nil, apperr.Store(err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var part models.Participant
		if err := rows.Scan(&part.SessionID, &part.UserID, &part.Role, &part.State, &part.JoinedAt); err != nil {
			return nil, apperr.Store(err)
		}
		out = append(out, part)
	}
	if rows.Err() != nil {
		return nil, apperr.Store(rows.Err())
	}
	return out, nil
}

func (p *Postgres) CountJoinedParticipants(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM session_participants
		WHERE session_id = $1 AND state = 'joined'
	`, sessionID).Scan(&n)
	if err != nil {
		return 0, apperr.Store(err)
	}
	return n, nil
}

func (p *Postgres) UpdateHandoffState(ctx context.Context, sessionID, userID uuid.UUID, state string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE session_participants SET handoff_state = $1
		WHERE session_id = $2 AND user_id = $3
	`, state, sessionID, userID)
	if err != nil {
		if missingColumn(err) == "handoff_state" {
			p.noteHandoffMissing()
			// Nothing to record on the old schema; the row's existence is
			// still the caller's contract.
			return p.participantExists(ctx, sessionID, userID)
		}
		return apperr.Store(err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("participant_not_found", "participant not found")
	}
	return nil
}

func (p *Postgres) SetParticipantState(ctx context.Context, sessionID, userID uuid.UUID, from, to string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE session_participants SET state = $1
		WHERE session_id = $2 AND user_id = $3 AND state = $4
	`, to, sessionID, userID, from)
	if err != nil {
		return false, apperr.Store(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) participantExists(ctx context.Context, sessionID, userID uuid.UUID) error {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM session_participants WHERE session_id = $1 AND user_id = $2
	`, sessionID, userID).Scan(&n)
	if err != nil {
		return apperr.Store(err)
	}
	if n == 0 {
		return apperr.NotFound("participant_not_found", "participant not found")
	}
	return nil
}

func (p *Postgres) GetInviteByCode(ctx context.Context, code string) (*models.InviteCode, error) {
	var inv models.InviteCode
	err := p.pool.QueryRow(ctx, `
		SELECT session_id, code, created_by, created_at FROM invite_codes WHERE code = $1
	`, code).Scan(&inv.SessionID, &inv.Code, &inv.CreatedBy, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invite_not_found", "invite code not found")
	}
	if err != nil {
		return nil, apperr.Store(err)
	}
	return &inv, nil
}

func (p *Postgres) GetInviteBySession(ctx context.Context, sessionID uuid.UUID) (*models.InviteCode, error) {
	var inv models.InviteCode
	err := p.pool.QueryRow(ctx, `
		SELECT session_id, code, created_by, created_at
		FROM invite_codes WHERE session_id = $1
		ORDER BY created_at LIMIT 1
	`, sessionID).Scan(&inv.SessionID, &inv.Code, &inv.CreatedBy, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invite_not_found", "invite code not found")
	}
	if err != nil {
		return nil, apperr.Store(err)
	}
	return &inv, nil
}

func (p *Postgres) CountRankedMatchesBetween(ctx context.Context, a, b uuid.UUID, since time.Time) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM match_results m
		JOIN session_participants pa ON pa.session_id = m.session_id AND pa.user_id = $1 AND pa.state = 'joined'
		JOIN session_participants pb ON pb.session_id = m.session_id AND pb.user_id = $2 AND pb.state = 'joined'
		WHERE m.created_at >= $3
	`, a, b, since).Scan(&n)
	if err != nil {
		return 0, apperr.Store(err)
	}
	return n, nil
}

func (p *Postgres) RecordMatchOutcome(ctx context.Context, result *models.MatchResult, losers []uuid.UUID, delta int) ([]Standing, error) {
	standings := make([]Standing, 0, len(losers)+1)

	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO match_results (session_id, winner_id, rating_delta, created_at)
			VALUES ($1, $2, $3, $4)
		`, result.SessionID, result.WinnerID, result.RatingDelta, result.CreatedAt)
		if err != nil {
			return err
		}

		apply := func(userID uuid.UUID, won bool) error {
			winInc, lossInc, d := 0, 1, -delta
			if won {
				winInc, lossInc, d = 1, 0, delta
			}
			var r models.UserRanking
			err := tx.QueryRow(ctx, `
				INSERT INTO user_rankings (user_id, rating, wins, losses, updated_at)
				VALUES ($1, $2 + $3, $4, $5, now())
				ON CONFLICT (user_id) DO UPDATE SET
					rating = user_rankings.rating + $3,
					wins = user_rankings.wins + $4,
					losses = user_rankings.losses + $5,
					updated_at = now()
				RETURNING user_id, rating, wins, losses, updated_at
			`, userID, models.DefaultRating, d, winInc, lossInc).Scan(
				&r.UserID, &r.Rating, &r.Wins, &r.Losses, &r.UpdatedAt,
			)
			if err != nil {
				return err
			}
			standings = append(standings, Standing{Ranking: r, Won: won})
			return nil
		}

		if err := apply(result.WinnerID, true); err != nil {
			return err
		}
		for _, loser := range losers {
			if err := apply(loser, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("result_already_submitted", "a result has already been submitted for this session")
		}
		return nil, apperr.Store(err)
	}
	return standings, nil
}

func (p *Postgres) TopRankings(ctx context.Context, limit int) ([]models.UserRanking, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT user_id, rating, wins, losses, updated_at
		FROM user_rankings
		ORDER BY rating DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apperr.Store(err)
	}
	defer rows.Close()

	var out []models.UserRanking
	for rows.Next() {
		var r models.UserRanking
		if err := rows.Scan(&r.UserID, &r.Rating, &r.Wins, &r.Losses, &r.UpdatedAt); err != nil {
			return nil, apperr.Store(err)
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, apperr.Store(rows.Err())
	}
	return out, nil
}

func (p *Postgres) ListAutoCompletable(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	return p.listIDs(ctx, `
		SELECT id FROM sessions
		WHERE status = 'active' AND COALESCE(scheduled_start, created_at) < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
}

func (p *Postgres) ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	if !p.archivedMissing.Load() {
		ids, err := p.listIDs(ctx, `
			SELECT id FROM sessions
			WHERE status = 'completed' AND archived_at IS NULL AND updated_at < $1
			ORDER BY updated_at
			LIMIT $2
		`, cutoff, limit)
		if err == nil || missingColumn(err) != "archived_at" {
			return ids, err
		}
		p.noteArchivedMissing()
	}
	return p.listIDs(ctx, `
		SELECT id FROM sessions
		WHERE status = 'completed' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, cutoff, limit)
}

func (p *Postgres) noteArchivedMissing() {
	p.archivedMissing.Store(true)
	p.archivedWarnOnce.Do(func() {
		log.Warn("schema has no archived_at column; archival degrades to cancellation for the rest of this process")
	})
}

func (p *Postgres) ArchiveSession(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	if p.archivedMissing.Load() {
		return false, &MissingColumnError{Column: "archived_at"}
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE sessions SET archived_at = $1, updated_at = now()
		WHERE id = $2 AND status = 'completed' AND archived_at IS NULL
	`, at, id)
	if err != nil {
		if missingColumn(err) == "archived_at" {
			p.noteArchivedMissing()
			return false, &MissingColumnError{Column: "archived_at"}
		}
		return false, apperr.Store(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) listIDs(ctx context.Context, q string, args ...any) ([]uuid.UUID, error) {
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Store(err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Store(err)
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, apperr.Store(rows.Err())
	}
	return out, nil
}
