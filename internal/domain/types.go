package domain

import (
	"encoding/json"
	"time"
)

// TaskType enumerates the automation kinds the engine understands.
type TaskType string

const (
	TypeJobExpiry        TaskType = "job_expiry"
	TypeCandidateContact TaskType = "candidate_contact"
	TypeCustomerContact  TaskType = "customer_contact"
	TypeProspectContact  TaskType = "prospect_contact"
	TypeReminderDispatch TaskType = "reminder_dispatch"
	TypeManual           TaskType = "manual"
)

func (t TaskType) Valid() bool {
	switch t {
	case TypeJobExpiry, TypeCandidateContact, TypeCustomerContact,
		TypeProspectContact, TypeReminderDispatch, TypeManual:
		return true
	}
	return false
}

// ScheduleStatus is the state of a ScheduledTask.
type ScheduleStatus string

const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleRunning   ScheduleStatus = "running"
	ScheduleCompleted ScheduleStatus = "completed"
	ScheduleFailed    ScheduleStatus = "failed"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// IntervalType says how a ScheduledTask recurs, if at all.
type IntervalType string

const (
	IntervalNone   IntervalType = "none"
	IntervalFixed  IntervalType = "fixed"
	IntervalCustom IntervalType = "custom"
)

// IntervalUnit is the unit for fixed-interval recurrence.
type IntervalUnit string

const (
	UnitMinute IntervalUnit = "minute"
	UnitHour   IntervalUnit = "hour"
	UnitDay    IntervalUnit = "day"
	UnitWeek   IntervalUnit = "week"
	UnitMonth  IntervalUnit = "month"
)

// EntityType identifies the domain object a task or notification refers to.
type EntityType string

const (
	EntityJob         EntityType = "job"
	EntityCandidate   EntityType = "candidate"
	EntityCustomer    EntityType = "customer"
	EntityProspect    EntityType = "prospect"
	EntityApplication EntityType = "application"
)

// ScheduledTask is a system-level automation job with a due time and
// optional recurrence. Recurrence never implies execution by itself:
// ScheduledFor is the sole authority for "when is this due".
type ScheduledTask struct {
	ID             string          `json:"id"`
	TaskType       TaskType        `json:"task_type"`
	Status         ScheduleStatus  `json:"status"`
	ScheduledFor   time.Time       `json:"scheduled_for"`
	IntervalType   IntervalType    `json:"interval_type"`
	IntervalValue  int             `json:"interval_value,omitempty"`
	IntervalUnit   IntervalUnit    `json:"interval_unit,omitempty"`
	CustomSchedule string          `json:"custom_schedule,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
	EntityType     EntityType      `json:"entity_type,omitempty"`
	EntityID       string          `json:"entity_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Recurring reports whether completing this task should advance it
// instead of terminating it.
func (t ScheduledTask) Recurring() bool {
	return t.IntervalType == IntervalFixed || t.IntervalType == IntervalCustom
}

// Priority of a user-facing Task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// TaskStatus is the state of a user-facing Task.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskOpen, TaskInProgress, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

// Open reports whether the task still counts against the duplicate
// guard used by automation rules.
func (s TaskStatus) Open() bool {
	return s != TaskCompleted && s != TaskCancelled
}

// Task is a human-actionable to-do, possibly system-generated.
type Task struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	DueDate           time.Time  `json:"due_date"`
	Priority          Priority   `json:"priority"`
	Status            TaskStatus `json:"status"`
	TaskType          TaskType   `json:"task_type"`
	AssignedTo        string     `json:"assigned_to,omitempty"`
	RelatedEntityType EntityType `json:"related_entity_type,omitempty"`
	RelatedEntityID   string     `json:"related_entity_id,omitempty"`
	IsAutomated       bool       `json:"is_automated"`
	ReminderSent      bool       `json:"reminder_sent"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Importance of a Notification.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
)

// Notification is a user-facing message tied to an entity or event.
// Only the Read flag is ever mutated after creation.
type Notification struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	EntityType EntityType `json:"entity_type,omitempty"`
	EntityID   string     `json:"entity_id,omitempty"`
	Action     string     `json:"action,omitempty"`
	SenderID   string     `json:"sender_id,omitempty"`
	Importance Importance `json:"importance"`
	Read       bool       `json:"read"`
	CreatedAt  time.Time  `json:"created_at"`
}

// RuleSetting is the persisted per-rule automation configuration.
type RuleSetting struct {
	Rule          TaskType  `json:"rule"`
	Enabled       bool      `json:"enabled"`
	DaysThreshold int       `json:"days_threshold"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RunSummary is the outcome of one Dispatcher pass. A failed rule
// category is recorded under Errors; the other categories still report
// their results.
type RunSummary struct {
	JobExpiryTasks        []string          `json:"job_expiry_tasks"`
	CandidateContactTasks []string          `json:"candidate_contact_tasks"`
	CustomerContactTasks  []string          `json:"customer_contact_tasks"`
	ProspectContactTasks  []string          `json:"prospect_contact_tasks"`
	ReminderCount         int               `json:"reminder_count"`
	ScheduledRuns         int               `json:"scheduled_runs"`
	Errors                map[string]string `json:"errors,omitempty"`
}

// TasksCreated is the number of net-new automated tasks in the summary.
func (s RunSummary) TasksCreated() int {
	return len(s.JobExpiryTasks) + len(s.CandidateContactTasks) +
		len(s.CustomerContactTasks) + len(s.ProspectContactTasks)
}

// JobRef is the slice of a job posting the automation rules care about.
type JobRef struct {
	ID        string
	Title     string
	OwnerID   string
	ExpiresAt *time.Time
}

// ContactRef is the slice of a candidate/customer/prospect record the
// stale-contact rules care about.
type ContactRef struct {
	ID              string
	Name            string
	OwnerID         string
	LastContactedAt *time.Time
}
