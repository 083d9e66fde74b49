package automation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"recruitflow/internal/domain"
	"recruitflow/internal/scheduler"
)

// Handler executes one due ScheduledTask of a given type.
type Handler func(ctx context.Context, t domain.ScheduledTask, now time.Time) error

// Dispatcher drives one automation pass: the rule categories in a fixed
// order, then execution of due scheduled tasks. A failing category is
// recorded in the summary and the pass moves on; only one pass may run
// at a time, so the engine's check-then-create guard stays race-free.
type Dispatcher struct {
	engine   *Engine
	core     *scheduler.Core
	handlers map[domain.TaskType]Handler
	mu       sync.Mutex
}

func NewDispatcher(engine *Engine, core *scheduler.Core) *Dispatcher {
	d := &Dispatcher{engine: engine, core: core}
	d.handlers = map[domain.TaskType]Handler{
		domain.TypeJobExpiry:        d.runScheduledJobExpiry,
		domain.TypeCandidateContact: d.runScheduledContact(domain.TypeCandidateContact),
		domain.TypeCustomerContact:  d.runScheduledContact(domain.TypeCustomerContact),
		domain.TypeProspectContact:  d.runScheduledContact(domain.TypeProspectContact),
		domain.TypeReminderDispatch: d.runScheduledReminders,
		domain.TypeManual:           func(context.Context, domain.ScheduledTask, time.Time) error { return nil },
	}
	return d
}

// RunAll executes one pass. now is captured once so a long pass stays
// internally consistent. A concurrent caller is rejected with a
// ConflictError rather than queued.
func (d *Dispatcher) RunAll(ctx context.Context) (domain.RunSummary, error) {
	if !d.mu.TryLock() {
		return domain.RunSummary{}, &domain.ConflictError{Reason: "automation run already in progress"}
	}
	defer d.mu.Unlock()

	now := time.Now().UTC()
	summary := domain.RunSummary{Errors: map[string]string{}}

	summary.JobExpiryTasks = d.category(ctx, &summary, "job_expiry", func() ([]string, error) {
		return d.engine.RunJobExpiry(ctx, now, nil)
	})
	summary.CandidateContactTasks = d.category(ctx, &summary, "candidate_contact", func() ([]string, error) {
		return d.engine.RunContactCheck(ctx, now, domain.TypeCandidateContact, nil)
	})
	summary.CustomerContactTasks = d.category(ctx, &summary, "customer_contact", func() ([]string, error) {
		return d.engine.RunContactCheck(ctx, now, domain.TypeCustomerContact, nil)
	})
	summary.ProspectContactTasks = d.category(ctx, &summary, "prospect_contact", func() ([]string, error) {
		return d.engine.RunContactCheck(ctx, now, domain.TypeProspectContact, nil)
	})

	if n, err := d.engine.RunReminders(ctx, now, nil); err != nil {
		rerr := &domain.RuleError{Category: "reminder_dispatch", Err: err}
		log.Error().Err(rerr).Msg("rule category failed")
		summary.Errors["reminder_dispatch"] = err.Error()
	} else {
		summary.ReminderCount = n
	}

	d.runDue(ctx, now, &summary)

	if len(summary.Errors) == 0 {
		summary.Errors = nil
	}
	log.Info().
		Int("tasks_created", summary.TasksCreated()).
		Int("reminders", summary.ReminderCount).
		Int("scheduled_runs", summary.ScheduledRuns).
		Int("failed_categories", len(summary.Errors)).
		Msg("automation pass finished")
	return summary, nil
}

func (d *Dispatcher) category(ctx context.Context, summary *domain.RunSummary, name string, fn func() ([]string, error)) []string {
	ids, err := fn()
	if err != nil {
		rerr := &domain.RuleError{Category: name, Err: err}
		log.Error().Err(rerr).Msg("rule category failed")
		summary.Errors[name] = err.Error()
	}
	return ids
}

// runDue leases every due scheduled task through the state machine,
// executes it via the handler for its type, and completes or fails it.
// Completion advances recurring tasks in place.
func (d *Dispatcher) runDue(ctx context.Context, now time.Time, summary *domain.RunSummary) {
	due, err := d.core.DueTasks(ctx, now)
	if err != nil {
		summary.Errors["scheduled_tasks"] = err.Error()
		return
	}
	for _, t := range due {
		started, err := d.core.Start(ctx, t.ID)
		if err != nil {
			// cancelled or deleted between the listing and now
			log.Warn().Err(err).Str("id", t.ID).Msg("skipping due task")
			continue
		}
		handler, ok := d.handlers[started.TaskType]
		if !ok {
			_, _ = d.core.Fail(ctx, started.ID)
			summary.Errors["scheduled:"+started.ID] = "no handler for task type " + string(started.TaskType)
			continue
		}
		if err := handler(ctx, started, now); err != nil {
			_, _ = d.core.Fail(ctx, started.ID)
			summary.Errors["scheduled:"+started.ID] = err.Error()
			continue
		}
		if _, err := d.core.Complete(ctx, started.ID); err != nil {
			summary.Errors["scheduled:"+started.ID] = err.Error()
			continue
		}
		summary.ScheduledRuns++
	}
}

func (d *Dispatcher) runScheduledJobExpiry(ctx context.Context, t domain.ScheduledTask, now time.Time) error {
	cfg, err := thresholdConfig(t)
	if err != nil {
		return err
	}
	_, err = d.engine.RunJobExpiry(ctx, now, cfg)
	return err
}

func (d *Dispatcher) runScheduledContact(rule domain.TaskType) Handler {
	return func(ctx context.Context, t domain.ScheduledTask, now time.Time) error {
		cfg, err := thresholdConfig(t)
		if err != nil {
			return err
		}
		_, err = d.engine.RunContactCheck(ctx, now, rule, cfg)
		return err
	}
}

func (d *Dispatcher) runScheduledReminders(ctx context.Context, t domain.ScheduledTask, now time.Time) error {
	cfg, err := domain.DecodeConfig(t.TaskType, t.Config)
	if err != nil {
		return err
	}
	_, err = d.engine.RunReminders(ctx, now, cfg.(*domain.ReminderConfig))
	return err
}

func thresholdConfig(t domain.ScheduledTask) (*domain.ThresholdConfig, error) {
	cfg, err := domain.DecodeConfig(t.TaskType, t.Config)
	if err != nil {
		return nil, err
	}
	return cfg.(*domain.ThresholdConfig), nil
}
