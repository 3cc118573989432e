package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"examtrack/pkg/identity"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *MemoryRegistrar, context.Context) {
	t.Helper()
	reg := NewMemoryRegistrar()
	s := NewScheduler(reg, time.UTC)
	s.SetClock(func() time.Time { return testNow })
	ctx := identity.WithUserID(context.Background(), "u1")
	if ok, err := reg.RequestAuthorization(ctx); err != nil || !ok {
		t.Fatalf("authorize: ok=%v err=%v", ok, err)
	}
	return s, reg, ctx
}

func TestScheduleRegistersReminderAndDayTriggers(t *testing.T) {
	s, reg, ctx := newTestScheduler(t)
	target := testNow.Add(72 * time.Hour).Add(2 * time.Hour) // Mar 13 14:00

	if got := s.Schedule(ctx, "rec-1", "CBC", target); got != ResultScheduled {
		t.Fatalf("schedule = %v", got)
	}
	pending, _ := reg.Pending(ctx)
	if len(pending) != 2 {
		t.Fatalf("expected 2 triggers, got %d", len(pending))
	}
	byID := map[string]Request{}
	for _, p := range pending {
		byID[p.ID] = p
	}
	reminder, ok := byID["rec-1_reminder"]
	if !ok || !reminder.FireAt.Equal(target.Add(-24*time.Hour)) {
		t.Fatalf("reminder trigger = %+v", reminder)
	}
	day, ok := byID["rec-1_day"]
	want := time.Date(2026, 3, 13, 8, 0, 0, 0, time.UTC)
	if !ok || !day.FireAt.Equal(want) {
		t.Fatalf("day trigger = %+v, want %v", day, want)
	}
	if reminder.Category != Category || reminder.RecordID != "rec-1" || reminder.Body != day.Body {
		t.Fatalf("triggers must share content and tag: %+v / %+v", reminder, day)
	}
}

func TestScheduleClampsReminderWithinADay(t *testing.T) {
	s, reg, ctx := newTestScheduler(t)
	target := testNow.Add(3 * time.Hour)
	if got := s.Schedule(ctx, "rec-2", "X-ray", target); got != ResultScheduled {
		t.Fatalf("schedule = %v", got)
	}
	pending, _ := reg.Pending(ctx)
	for _, p := range pending {
		if p.ID == ReminderID("rec-2") && !p.FireAt.Equal(testNow.Add(60*time.Second)) {
			t.Fatalf("reminder not clamped: %v", p.FireAt)
		}
	}
}

func TestScheduleUsesConfiguredLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	s := NewScheduler(NewMemoryRegistrar(), loc)
	// 02:00 UTC on Mar 14 is 21:00 on Mar 13 in UTC-5.
	target := time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC)
	reqs := s.Requests("r", "MRI", target, testNow)
	want := time.Date(2026, 3, 13, 8, 0, 0, 0, loc)
	if !reqs[1].FireAt.Equal(want) {
		t.Fatalf("day trigger = %v, want %v", reqs[1].FireAt, want)
	}
}

func TestScheduleRefusesPastOrPresentTarget(t *testing.T) {
	s, reg, ctx := newTestScheduler(t)
	if got := s.Schedule(ctx, "rec-3", "CBC", testNow); got != ResultSchedulingFailed {
		t.Fatalf("target == now: %v", got)
	}
	if got := s.Schedule(ctx, "rec-3", "CBC", testNow.Add(-time.Hour)); got != ResultSchedulingFailed {
		t.Fatalf("target in past: %v", got)
	}
	if pending, _ := reg.Pending(ctx); len(pending) != 0 {
		t.Fatalf("nothing must be registered, got %d", len(pending))
	}
}

func TestScheduleWithoutAuthorization(t *testing.T) {
	reg := NewMemoryRegistrar()
	s := NewScheduler(reg, time.UTC)
	s.SetClock(func() time.Time { return testNow })
	ctx := identity.WithUserID(context.Background(), "u2")

	if got := s.Schedule(ctx, "rec-4", "CBC", testNow.Add(48*time.Hour)); got != ResultNotAuthorized {
		t.Fatalf("schedule = %v", got)
	}
	_ = reg.SetAuthorization(ctx, false)
	if ok, _ := reg.RequestAuthorization(ctx); ok {
		t.Fatalf("denied permission must stay denied")
	}
	if got := s.Schedule(ctx, "rec-4", "CBC", testNow.Add(48*time.Hour)); got != ResultNotAuthorized {
		t.Fatalf("schedule after deny = %v", got)
	}
	if pending, _ := reg.Pending(ctx); len(pending) != 0 {
		t.Fatalf("no registration may be attempted")
	}
}

func TestScheduleRegistrarFailure(t *testing.T) {
	s, reg, ctx := newTestScheduler(t)
	reg.FailAdd = errors.New("unavailable")
	if got := s.Schedule(ctx, "rec-5", "CBC", testNow.Add(48*time.Hour)); got != ResultSchedulingFailed {
		t.Fatalf("schedule = %v", got)
	}
}

// secondAddFails lets the first Add through and rejects the rest.
type secondAddFails struct {
	*MemoryRegistrar
	adds int
}

func (r *secondAddFails) Add(ctx context.Context, req Request) error {
	r.adds++
	if r.adds > 1 {
		return errors.New("unavailable")
	}
	return r.MemoryRegistrar.Add(ctx, req)
}

func TestSchedulePartialFailureLeavesNoTrigger(t *testing.T) {
	_, mem, ctx := newTestScheduler(t)
	reg := &secondAddFails{MemoryRegistrar: mem}
	s := NewScheduler(reg, time.UTC)
	s.SetClock(func() time.Time { return testNow })

	if got := s.Schedule(ctx, "rec-6", "CBC", testNow.Add(48*time.Hour)); got != ResultSchedulingFailed {
		t.Fatalf("schedule = %v", got)
	}
	if pending, _ := mem.Pending(ctx); len(pending) != 0 {
		t.Fatalf("half-registered pair left behind: %+v", pending)
	}
}

func TestCancelRemovesExactlyThePair(t *testing.T) {
	s, reg, ctx := newTestScheduler(t)
	s.Schedule(ctx, "a", "A", testNow.Add(48*time.Hour))
	s.Schedule(ctx, "b", "B", testNow.Add(48*time.Hour))

	if err := s.Cancel(ctx, "a"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	pending, _ := reg.Pending(ctx)
	if len(pending) != 2 {
		t.Fatalf("expected b's pair to remain, got %+v", pending)
	}
	for _, p := range pending {
		if p.RecordID != "b" {
			t.Fatalf("unexpected survivor %+v", p)
		}
	}
	if err := s.Cancel(ctx, "missing"); err != nil {
		t.Fatalf("cancel of unknown record must be a no-op: %v", err)
	}
}

func TestCancelAllOnlyRemovesExamReminders(t *testing.T) {
	s, reg, ctx := newTestScheduler(t)
	s.Schedule(ctx, "a", "A", testNow.Add(48*time.Hour))
	_ = reg.Add(ctx, Request{ID: "other", Category: "marketing", FireAt: testNow.Add(time.Hour)})

	if err := s.CancelAll(ctx); err != nil {
		t.Fatalf("cancel all: %v", err)
	}
	pending, _ := reg.Pending(ctx)
	if len(pending) != 1 || pending[0].ID != "other" {
		t.Fatalf("unexpected pending after cancel all: %+v", pending)
	}
}

func TestRequestsAreScopedPerUser(t *testing.T) {
	s, reg, ctx := newTestScheduler(t)
	s.Schedule(ctx, "a", "A", testNow.Add(48*time.Hour))
	other := identity.WithUserID(context.Background(), "someone-else")
	if pending, _ := reg.Pending(other); len(pending) != 0 {
		t.Fatalf("requests leaked across users: %+v", pending)
	}
}
