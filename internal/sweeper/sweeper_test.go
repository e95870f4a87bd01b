// internal/sweeper/sweeper_test.go
package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"squadlink/internal/models"
	"squadlink/internal/store"
)

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

func seedSession(t *testing.T, mem *store.Memory, status string, scheduledStart *time.Time, createdAt time.Time) uuid.UUID {
	t.Helper()
	handoff := models.HandoffRSVPJoined
	hostID := uuid.New()
	sess := &models.Session{
		ID:              uuid.New(),
		HostID:          hostID,
		GameRef:         "606849621",
		Title:           "sweep target",
		Visibility:      models.VisibilityPublic,
		Status:          status,
		MaxParticipants: 4,
		ScheduledStart:  scheduledStart,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	host := &models.Participant{
		SessionID:    sess.ID,
		UserID:       hostID,
		Role:         models.RoleHost,
		State:        models.StateJoined,
		HandoffState: &handoff,
		JoinedAt:     createdAt,
	}
	invite := &models.InviteCode{SessionID: sess.ID, Code: uuid.NewString()[:8], CreatedBy: hostID, CreatedAt: createdAt}
	if err := mem.CreateSession(context.Background(), sess, host, invite); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return sess.ID
}

func newTestSweeper(mem *store.Memory, clock *fakeClock) *Sweeper {
	s := New(mem, Options{
		AutoCompleteAfter: 2 * time.Hour,
		ArchiveAfter:      72 * time.Hour,
		Batch:             100,
	})
	s.SetClock(clock.Now)
	return s
}

func TestSweepAutoCompletesStaleActiveSessions(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemory()
	mem.Now = clock.Now
	s := newTestSweeper(mem, clock)

	now := clock.Now()
	threeAgo := now.Add(-3 * time.Hour)
	oneAgo := now.Add(-1 * time.Hour)

	stale := seedSession(t, mem, models.StatusActive, &threeAgo, threeAgo)
	fresh := seedSession(t, mem, models.StatusActive, &oneAgo, oneAgo)
	scheduled := seedSession(t, mem, models.StatusScheduled, &threeAgo, threeAgo)

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Completed != 1 {
		t.Fatalf("expected 1 completion, got %+v", report)
	}

	for id, want := range map[uuid.UUID]string{
		stale:     models.StatusCompleted,
		fresh:     models.StatusActive,
		scheduled: models.StatusScheduled,
	} {
		sess, err := mem.GetSession(context.Background(), id)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if sess.Status != want {
			t.Fatalf("session %s: expected status %s, got %s", id, want, sess.Status)
		}
	}
}

func TestSweepUsesCreatedAtWhenUnscheduled(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemory()
	mem.Now = clock.Now
	s := newTestSweeper(mem, clock)

	id := seedSession(t, mem, models.StatusActive, nil, clock.Now().Add(-3*time.Hour))

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Completed != 1 {
		t.Fatalf("expected 1 completion, got %+v", report)
	}
	sess, _ := mem.GetSession(context.Background(), id)
	if sess.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", sess.Status)
	}
}

func TestSweepArchivesExpiredCompletedSessions(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemory()
	mem.Now = clock.Now
	s := newTestSweeper(mem, clock)

	old := clock.Now().Add(-100 * time.Hour)
	expired := seedSession(t, mem, models.StatusCompleted, nil, old)
	recent := seedSession(t, mem, models.StatusCompleted, nil, clock.Now().Add(-time.Hour))

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Archived != 1 {
		t.Fatalf("expected 1 archival, got %+v", report)
	}

	sess, _ := mem.GetSession(context.Background(), expired)
	if sess.ArchivedAt == nil || sess.Status != models.StatusCompleted {
		t.Fatalf("expected archived completed session, got %+v", sess)
	}
	sess, _ = mem.GetSession(context.Background(), recent)
	if sess.ArchivedAt != nil {
		t.Fatal("recent completed session should not be archived")
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemory()
	mem.Now = clock.Now
	s := newTestSweeper(mem, clock)

	seedSession(t, mem, models.StatusActive, nil, clock.Now().Add(-3*time.Hour))
	seedSession(t, mem, models.StatusCompleted, nil, clock.Now().Add(-100*time.Hour))

	first, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if first.Completed != 1 || first.Archived != 1 {
		t.Fatalf("unexpected first report: %+v", first)
	}

	second, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.Completed != 0 || second.Archived != 0 || second.Cancelled != 0 {
		t.Fatalf("second sweep should be a no-op, got %+v", second)
	}
}

func TestSweepArchivalFallbackOnOldSchema(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemory()
	mem.Now = clock.Now
	mem.MissingArchivedColumn = true
	s := newTestSweeper(mem, clock)

	expired := seedSession(t, mem, models.StatusCompleted, nil, clock.Now().Add(-100*time.Hour))

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Archived != 0 || report.Cancelled != 1 {
		t.Fatalf("expected cancellation fallback, got %+v", report)
	}
	sess, _ := mem.GetSession(context.Background(), expired)
	if sess.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", sess.Status)
	}

	// The failed probe is latched: later runs go straight to the fallback.
	if s.archivalSupported() {
		t.Fatal("archival capability should be latched off after the first probe")
	}
	seedSession(t, mem, models.StatusCompleted, nil, clock.Now().Add(-100*time.Hour))
	report, err = s.Run(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if report.Cancelled != 1 {
		t.Fatalf("expected fallback cancellation on second run, got %+v", report)
	}
}
