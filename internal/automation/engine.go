package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"recruitflow/internal/domain"
	"recruitflow/internal/notify"
	"recruitflow/internal/store"
)

// Engine evaluates the automation rules against current entity state
// and emits Tasks and Notifications. It holds no state of its own: a
// run is a function of (now, entity snapshots, persisted settings), and
// the open-task guard makes repeated runs produce nothing new.
type Engine struct {
	store store.Store
	dir   store.Directory
	sink  *notify.Sink
}

func NewEngine(st store.Store, dir store.Directory, sink *notify.Sink) *Engine {
	return &Engine{store: st, dir: dir, sink: sink}
}

// contactEntity maps a stale-contact rule to the entity type it scans.
func contactEntity(rule domain.TaskType) (domain.EntityType, bool) {
	switch rule {
	case domain.TypeCandidateContact:
		return domain.EntityCandidate, true
	case domain.TypeCustomerContact:
		return domain.EntityCustomer, true
	case domain.TypeProspectContact:
		return domain.EntityProspect, true
	}
	return "", false
}

// RunJobExpiry creates a follow-up task for every job whose expiry falls
// within the configured threshold. override, when non-nil, takes
// precedence over the persisted setting (scheduled tasks carry it in
// their config).
func (e *Engine) RunJobExpiry(ctx context.Context, now time.Time, override *domain.ThresholdConfig) ([]string, error) {
	days, enabled, err := e.threshold(ctx, domain.TypeJobExpiry, override)
	if err != nil || !enabled {
		return nil, err
	}
	jobs, err := e.dir.ExpiringJobs(ctx, now.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}

	var created []string
	for _, job := range jobs {
		exists, err := e.store.OpenTaskExists(ctx, domain.TypeJobExpiry, domain.EntityJob, job.ID)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		id, err := e.store.CreateTask(ctx, domain.Task{
			Title:             fmt.Sprintf("Review job posting %q before it expires", job.Title),
			Description:       fmt.Sprintf("Job posting expires %s. Renew or close it.", job.ExpiresAt.Format("2006-01-02")),
			DueDate:           *job.ExpiresAt,
			Priority:          domain.PriorityHigh,
			TaskType:          domain.TypeJobExpiry,
			AssignedTo:        job.OwnerID,
			RelatedEntityType: domain.EntityJob,
			RelatedEntityID:   job.ID,
			IsAutomated:       true,
		})
		if err != nil {
			return created, err
		}
		created = append(created, id)
		e.notifyOwner(ctx, job.OwnerID, domain.EntityJob, job.ID,
			"Job posting expiring soon",
			fmt.Sprintf("%q expires %s.", job.Title, job.ExpiresAt.Format("2006-01-02")),
			domain.ImportanceHigh)
	}
	return created, nil
}

// RunContactCheck creates a follow-up task for every candidate,
// customer or prospect not contacted within the rule's threshold.
func (e *Engine) RunContactCheck(ctx context.Context, now time.Time, rule domain.TaskType, override *domain.ThresholdConfig) ([]string, error) {
	entity, ok := contactEntity(rule)
	if !ok {
		return nil, domain.Invalid("rule", string(rule)+" is not a contact rule")
	}
	days, enabled, err := e.threshold(ctx, rule, override)
	if err != nil || !enabled {
		return nil, err
	}
	contacts, err := e.dir.StaleContacts(ctx, entity, now.AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}

	var created []string
	for _, c := range contacts {
		exists, err := e.store.OpenTaskExists(ctx, rule, entity, c.ID)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		id, err := e.store.CreateTask(ctx, domain.Task{
			Title:             fmt.Sprintf("Follow up with %s %s", entity, c.Name),
			Description:       fmt.Sprintf("Last contact was %s, over %d days ago.", c.LastContactedAt.Format("2006-01-02"), days),
			DueDate:           now.AddDate(0, 0, 1),
			Priority:          domain.PriorityMedium,
			TaskType:          rule,
			AssignedTo:        c.OwnerID,
			RelatedEntityType: entity,
			RelatedEntityID:   c.ID,
			IsAutomated:       true,
		})
		if err != nil {
			return created, err
		}
		created = append(created, id)
	}
	return created, nil
}

// RunReminders sends one notification per task whose due date falls
// inside the reminder window and flips reminder_sent. The flag flip is
// the sole de-duplication for reminders, so it is persisted before the
// task counts as reminded; a failed flip fails the category.
func (e *Engine) RunReminders(ctx context.Context, now time.Time, override *domain.ReminderConfig) (int, error) {
	var window time.Duration
	if override != nil && override.WindowHours > 0 {
		window = time.Duration(override.WindowHours) * time.Hour
	} else {
		days, enabled, err := e.threshold(ctx, domain.TypeReminderDispatch, nil)
		if err != nil || !enabled {
			return 0, err
		}
		window = time.Duration(days) * 24 * time.Hour
	}

	tasks, err := e.store.DueReminderTasks(ctx, now.Add(window))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, t := range tasks {
		if t.AssignedTo == "" {
			// nobody to remind; leave the flag so a later assignee
			// still gets one
			continue
		}
		_, err := e.sink.Create(ctx, domain.Notification{
			UserID:     t.AssignedTo,
			Title:      "Task due: " + t.Title,
			Message:    fmt.Sprintf("%q is due %s.", t.Title, t.DueDate.Format("2006-01-02 15:04")),
			EntityType: t.RelatedEntityType,
			EntityID:   t.RelatedEntityID,
			Action:     "task_reminder",
			Importance: domain.ImportanceNormal,
		})
		if err != nil {
			return sent, err
		}
		if err := e.store.MarkReminderSent(ctx, t.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// threshold resolves a rule's days threshold, preferring the caller's
// override. A disabled rule short-circuits with enabled=false and no
// side effects.
func (e *Engine) threshold(ctx context.Context, rule domain.TaskType, override *domain.ThresholdConfig) (int, bool, error) {
	setting, err := e.store.GetRuleSetting(ctx, rule)
	if err != nil {
		return 0, false, err
	}
	if !setting.Enabled {
		log.Debug().Str("rule", string(rule)).Msg("rule disabled, skipping")
		return 0, false, nil
	}
	if override != nil && override.DaysThreshold > 0 {
		return override.DaysThreshold, true, nil
	}
	return setting.DaysThreshold, true, nil
}

func (e *Engine) notifyOwner(ctx context.Context, owner string, et domain.EntityType, eid, title, msg string, imp domain.Importance) {
	if owner == "" {
		return
	}
	_, err := e.sink.Create(ctx, domain.Notification{
		UserID:     owner,
		Title:      title,
		Message:    msg,
		EntityType: et,
		EntityID:   eid,
		Action:     "automation",
		Importance: imp,
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", owner).Msg("failed to create notification")
	}
}
