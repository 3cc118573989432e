package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	reminderLead  = 24 * time.Hour
	minimumDelay  = 60 * time.Second
	dayTriggerHr  = 8
	reminderTitle = "Upcoming exam"
)

// Result is the outcome of Schedule.
type Result int

const (
	ResultScheduled Result = iota
	ResultSchedulingFailed
	ResultNotAuthorized
)

func (r Result) String() string {
	switch r {
	case ResultScheduled:
		return "scheduled"
	case ResultNotAuthorized:
		return "not_authorized"
	default:
		return "scheduling_failed"
	}
}

// Scheduler computes trigger times for exam reminders.
type Scheduler struct {
	registrar Registrar
	loc       *time.Location
	now       func() time.Time
}

// NewScheduler builds a scheduler. A nil loc uses time.Local.
func NewScheduler(registrar Registrar, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{registrar: registrar, loc: loc, now: time.Now}
}

// SetClock overrides the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ReminderID is the identifier of the day-before trigger.
func ReminderID(recordID string) string { return recordID + "_reminder" }

// DayID is the identifier of the morning-of trigger.
func DayID(recordID string) string { return recordID + "_day" }

// Schedule registers the reminder pair for a record.
func (s *Scheduler) Schedule(ctx context.Context, recordID, recordName string, target time.Time) Result {
	now := s.now()
	if !target.After(now) {
		return ResultSchedulingFailed
	}
	status, err := s.registrar.AuthorizationStatus(ctx)
	if err != nil {
		slog.WarnContext(ctx, "notification authorization check failed", "record_id", recordID, "err", err)
		return ResultSchedulingFailed
	}
	if status != AuthAuthorized {
		return ResultNotAuthorized
	}

	for _, req := range s.Requests(recordID, recordName, target, now) {
		if err := s.registrar.Add(ctx, req); err != nil {
			slog.WarnContext(ctx, "notification registration failed", "id", req.ID, "err", err)
			// Both triggers or neither.
			if err := s.Cancel(ctx, recordID); err != nil {
				slog.WarnContext(ctx, "partial notification registration not rolled back", "record_id", recordID, "err", err)
			}
			return ResultSchedulingFailed
		}
	}
	return ResultScheduled
}

// Requests computes the two triggers without registering them.
func (s *Scheduler) Requests(recordID, recordName string, target, now time.Time) []Request {
	reminderAt := target.Add(-reminderLead)
	if reminderAt.Before(now) {
		reminderAt = now.Add(minimumDelay)
	}
	local := target.In(s.loc)
	dayAt := time.Date(local.Year(), local.Month(), local.Day(), dayTriggerHr, 0, 0, 0, s.loc)

	body := fmt.Sprintf("%s is scheduled for %s", recordName, local.Format("Mon Jan 2, 15:04"))
	base := Request{Title: reminderTitle, Body: body, Category: Category, RecordID: recordID}

	reminder := base
	reminder.ID = ReminderID(recordID)
	reminder.FireAt = reminderAt.UTC()

	day := base
	day.ID = DayID(recordID)
	day.FireAt = dayAt.UTC()
	return []Request{reminder, day}
}

// Cancel removes both triggers of a record. Missing triggers are ignored.
func (s *Scheduler) Cancel(ctx context.Context, recordID string) error {
	return s.registrar.Remove(ctx, ReminderID(recordID), DayID(recordID))
}

// CancelAll removes every pending exam reminder in one batch.
func (s *Scheduler) CancelAll(ctx context.Context) error {
	pending, err := s.registrar.Pending(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(pending))
	for _, req := range pending {
		if req.Category == Category {
			ids = append(ids, req.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return s.registrar.Remove(ctx, ids...)
}

// Pending lists pending requests for the current user.
func (s *Scheduler) Pending(ctx context.Context) ([]Request, error) {
	return s.registrar.Pending(ctx)
}

// Authorize asks for permission to notify.
func (s *Scheduler) Authorize(ctx context.Context) (bool, error) {
	return s.registrar.RequestAuthorization(ctx)
}
