package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"recruitflow/internal/domain"
	"recruitflow/internal/store"
)

// Core owns the ScheduledTask lifecycle: create, lease for execution,
// complete or fail, cancel, and advance recurring tasks in place.
//
// Valid transitions: pending→running, running→completed, running→failed,
// pending→cancelled. Everything else is a conflict. A recurring task that
// completes goes back to pending with its due time advanced; it is never
// duplicated into a second row.
type Core struct {
	store store.Store
}

func NewCore(st store.Store) *Core { return &Core{store: st} }

// Create validates and persists a new ScheduledTask. Status always
// starts at pending regardless of what the caller supplied.
func (c *Core) Create(ctx context.Context, t domain.ScheduledTask) (domain.ScheduledTask, error) {
	if t.TaskType == "" {
		return domain.ScheduledTask{}, domain.Invalid("task_type", "is required")
	}
	if !t.TaskType.Valid() {
		return domain.ScheduledTask{}, domain.Invalid("task_type", "unknown task type "+string(t.TaskType))
	}
	if t.ScheduledFor.IsZero() {
		return domain.ScheduledTask{}, domain.Invalid("scheduled_for", "is required")
	}
	if t.IntervalType == "" {
		t.IntervalType = domain.IntervalNone
	}
	switch t.IntervalType {
	case domain.IntervalNone:
	case domain.IntervalFixed:
		if t.IntervalValue <= 0 {
			return domain.ScheduledTask{}, domain.Invalid("interval_value", "must be positive for fixed intervals")
		}
		if _, err := intervalDelta(t.IntervalValue, t.IntervalUnit); err != nil {
			return domain.ScheduledTask{}, err
		}
	case domain.IntervalCustom:
		if err := ValidateCronExpression(t.CustomSchedule); err != nil {
			return domain.ScheduledTask{}, domain.Invalid("custom_schedule", err.Error())
		}
	default:
		return domain.ScheduledTask{}, domain.Invalid("interval_type", "unknown interval type "+string(t.IntervalType))
	}
	if _, err := domain.DecodeConfig(t.TaskType, t.Config); err != nil {
		return domain.ScheduledTask{}, err
	}

	t.Status = domain.SchedulePending
	id, err := c.store.CreateScheduledTask(ctx, t)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	return c.store.GetScheduledTask(ctx, id)
}

func (c *Core) Get(ctx context.Context, id string) (domain.ScheduledTask, error) {
	return c.store.GetScheduledTask(ctx, id)
}

func (c *Core) List(ctx context.Context, f store.ScheduleFilter) ([]domain.ScheduledTask, error) {
	return c.store.ListScheduledTasks(ctx, f)
}

func (c *Core) Delete(ctx context.Context, id string) error {
	return c.store.DeleteScheduledTask(ctx, id)
}

// DueTasks returns all pending tasks due at or before now, earliest
// first; ties break on id so runs are deterministic.
func (c *Core) DueTasks(ctx context.Context, now time.Time) ([]domain.ScheduledTask, error) {
	return c.store.ListScheduledTasks(ctx, store.ScheduleFilter{
		Status: domain.SchedulePending,
		To:     &now,
	})
}

// Start moves a pending task to running. The write only lands if the
// row is still pending, so two callers leasing the same task cannot
// both win.
func (c *Core) Start(ctx context.Context, id string) (domain.ScheduledTask, error) {
	t, err := c.store.GetScheduledTask(ctx, id)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	if t.Status != domain.SchedulePending {
		return domain.ScheduledTask{}, &domain.ConflictError{
			Reason: "scheduled task " + id + " is " + string(t.Status) + ", only pending tasks can start",
		}
	}
	t.Status = domain.ScheduleRunning
	if err := c.store.TransitionScheduledTask(ctx, t, domain.SchedulePending); err != nil {
		return domain.ScheduledTask{}, err
	}
	return t, nil
}

// Complete finishes a running task. A recurring task is advanced in
// place: the next due time is computed from the previous scheduled_for,
// not from now, so repeated late runs don't accumulate drift.
func (c *Core) Complete(ctx context.Context, id string) (domain.ScheduledTask, error) {
	t, err := c.store.GetScheduledTask(ctx, id)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	if t.Status != domain.ScheduleRunning {
		return domain.ScheduledTask{}, &domain.ConflictError{
			Reason: "scheduled task " + id + " is " + string(t.Status) + ", only running tasks can complete",
		}
	}
	if t.Recurring() {
		next, err := NextOccurrence(t)
		if err != nil {
			return domain.ScheduledTask{}, err
		}
		t.ScheduledFor = next
		t.Status = domain.SchedulePending
	} else {
		t.Status = domain.ScheduleCompleted
	}
	if err := c.store.TransitionScheduledTask(ctx, t, domain.ScheduleRunning); err != nil {
		return domain.ScheduledTask{}, err
	}
	return t, nil
}

// Fail marks a running task failed. Retry policy belongs to the
// dispatcher, not here.
func (c *Core) Fail(ctx context.Context, id string) (domain.ScheduledTask, error) {
	t, err := c.store.GetScheduledTask(ctx, id)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	if t.Status != domain.ScheduleRunning {
		return domain.ScheduledTask{}, &domain.ConflictError{
			Reason: "scheduled task " + id + " is " + string(t.Status) + ", only running tasks can fail",
		}
	}
	t.Status = domain.ScheduleFailed
	if err := c.store.TransitionScheduledTask(ctx, t, domain.ScheduleRunning); err != nil {
		return domain.ScheduledTask{}, err
	}
	return t, nil
}

// Cancel rejects anything that already started or finished; only a
// pending task can be cancelled. The guarded write covers the window
// between the status read and the cancel: if a dispatcher starts the
// task in between, the cancel loses with a conflict instead of
// overwriting the running row.
func (c *Core) Cancel(ctx context.Context, id string) (domain.ScheduledTask, error) {
	t, err := c.store.GetScheduledTask(ctx, id)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	switch t.Status {
	case domain.SchedulePending:
	case domain.ScheduleRunning:
		return domain.ScheduledTask{}, &domain.ConflictError{
			Reason: "scheduled task " + id + " already started",
		}
	default:
		return domain.ScheduledTask{}, &domain.ConflictError{
			Reason: "scheduled task " + id + " is already " + string(t.Status),
		}
	}
	t.Status = domain.ScheduleCancelled
	if err := c.store.TransitionScheduledTask(ctx, t, domain.SchedulePending); err != nil {
		return domain.ScheduledTask{}, err
	}
	return t, nil
}

// NextOccurrence computes the due time following a recurring task's
// previous one.
func NextOccurrence(t domain.ScheduledTask) (time.Time, error) {
	switch t.IntervalType {
	case domain.IntervalFixed:
		return addInterval(t.ScheduledFor, t.IntervalValue, t.IntervalUnit)
	case domain.IntervalCustom:
		return NextRunTime(t.CustomSchedule, t.ScheduledFor)
	}
	return time.Time{}, &domain.ConflictError{Reason: "scheduled task " + t.ID + " does not recur"}
}

func addInterval(from time.Time, value int, unit domain.IntervalUnit) (time.Time, error) {
	switch unit {
	case domain.UnitMinute, domain.UnitHour:
		d, err := intervalDelta(value, unit)
		if err != nil {
			return time.Time{}, err
		}
		return from.Add(d), nil
	case domain.UnitDay:
		return from.AddDate(0, 0, value), nil
	case domain.UnitWeek:
		return from.AddDate(0, 0, 7*value), nil
	case domain.UnitMonth:
		return from.AddDate(0, value, 0), nil
	}
	return time.Time{}, domain.Invalid("interval_unit", "unknown interval unit "+string(unit))
}

func intervalDelta(value int, unit domain.IntervalUnit) (time.Duration, error) {
	switch unit {
	case domain.UnitMinute:
		return time.Duration(value) * time.Minute, nil
	case domain.UnitHour:
		return time.Duration(value) * time.Hour, nil
	case domain.UnitDay:
		return time.Duration(value) * 24 * time.Hour, nil
	case domain.UnitWeek:
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case domain.UnitMonth:
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	}
	return 0, domain.Invalid("interval_unit", "unknown interval unit "+string(unit))
}

// ValidateCronExpression validates a custom schedule expression.
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression.
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}
