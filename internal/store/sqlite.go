package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"recruitflow/internal/domain"
)

// timeLayout is the wire format for every persisted timestamp. UTC plus
// RFC3339 keeps lexicographic and chronological order identical, so
// date-range filters can compare strings.
const timeLayout = time.RFC3339

func ts(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t, nil
}

// EnsureSchema creates tables if they don't exist and seeds the default
// automation rule settings.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS scheduled_tasks (
  id TEXT PRIMARY KEY,
  task_type TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('pending','running','completed','failed','cancelled')) DEFAULT 'pending',
  scheduled_for TEXT NOT NULL,
  interval_type TEXT NOT NULL CHECK(interval_type IN ('none','fixed','custom')) DEFAULT 'none',
  interval_value INTEGER NOT NULL DEFAULT 0,
  interval_unit TEXT,
  custom_schedule TEXT,
  config BLOB,
  entity_type TEXT,
  entity_id TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduled_due ON scheduled_tasks(status, scheduled_for);
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  due_date TEXT NOT NULL,
  priority TEXT NOT NULL CHECK(priority IN ('high','medium','low')),
  status TEXT NOT NULL CHECK(status IN ('open','in_progress','completed','cancelled')) DEFAULT 'open',
  task_type TEXT NOT NULL,
  assigned_to TEXT,
  related_entity_type TEXT,
  related_entity_id TEXT,
  is_automated INTEGER NOT NULL DEFAULT 0,
  reminder_sent INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, due_date);
CREATE INDEX IF NOT EXISTS idx_tasks_related ON tasks(task_type, related_entity_type, related_entity_id);
CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  entity_type TEXT,
  entity_id TEXT,
  action TEXT,
  sender_id TEXT,
  importance TEXT NOT NULL CHECK(importance IN ('low','normal','high')) DEFAULT 'normal',
  read INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, read);
CREATE TABLE IF NOT EXISTS automation_settings (
  rule TEXT PRIMARY KEY,
  enabled INTEGER NOT NULL DEFAULT 1,
  days_threshold INTEGER NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  owner_id TEXT NOT NULL DEFAULT '',
  expires_at TEXT,
  created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS candidates (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  owner_id TEXT NOT NULL DEFAULT '',
  last_contacted_at TEXT,
  created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS customers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  owner_id TEXT NOT NULL DEFAULT '',
  last_contacted_at TEXT,
  created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS prospects (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  owner_id TEXT NOT NULL DEFAULT '',
  last_contacted_at TEXT,
  created_at TEXT NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	return seedSettings(db)
}

func seedSettings(db *sql.DB) error {
	defaults := []domain.RuleSetting{
		{Rule: domain.TypeJobExpiry, Enabled: true, DaysThreshold: 5},
		{Rule: domain.TypeCandidateContact, Enabled: true, DaysThreshold: 30},
		{Rule: domain.TypeCustomerContact, Enabled: true, DaysThreshold: 60},
		{Rule: domain.TypeProspectContact, Enabled: true, DaysThreshold: 45},
		{Rule: domain.TypeReminderDispatch, Enabled: true, DaysThreshold: 1},
	}
	now := ts(time.Now())
	for _, s := range defaults {
		_, err := db.Exec(`INSERT OR IGNORE INTO automation_settings(rule,enabled,days_threshold,updated_at) VALUES (?,?,?,?)`,
			string(s.Rule), s.Enabled, s.DaysThreshold, now)
		if err != nil {
			return err
		}
	}
	return nil
}

// ScheduleFilter narrows ListScheduledTasks.
type ScheduleFilter struct {
	Status     domain.ScheduleStatus
	EntityType domain.EntityType
	EntityID   string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// TaskFilter narrows ListTasks. Results are always ordered by due_date
// ascending.
type TaskFilter struct {
	Status     domain.TaskStatus
	Priority   domain.Priority
	EntityType domain.EntityType
	EntityID   string
	AssignedTo string
	Automated  *bool
	Limit      int
	Offset     int
}

// NotificationFilter narrows ListNotifications. UserID is required.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	EntityType domain.EntityType
	EntityID   string
	Limit      int
	Offset     int
}

// TaskPatch is the allow-listed partial update for a Task. Nil fields
// are left untouched.
type TaskPatch struct {
	Title        *string
	Description  *string
	DueDate      *time.Time
	Priority     *domain.Priority
	Status       *domain.TaskStatus
	AssignedTo   *string
	ReminderSent *bool
	CompletedAt  *time.Time
}

// Store owns ScheduledTask, Task, Notification and rule-setting
// persistence. All writes are atomic per record.
type Store interface {
	CreateScheduledTask(ctx context.Context, t domain.ScheduledTask) (string, error)
	GetScheduledTask(ctx context.Context, id string) (domain.ScheduledTask, error)
	ListScheduledTasks(ctx context.Context, f ScheduleFilter) ([]domain.ScheduledTask, error)
	TransitionScheduledTask(ctx context.Context, t domain.ScheduledTask, from domain.ScheduleStatus) error
	DeleteScheduledTask(ctx context.Context, id string) error

	CreateTask(ctx context.Context, t domain.Task) (string, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id string, p TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	OpenTaskExists(ctx context.Context, tt domain.TaskType, et domain.EntityType, eid string) (bool, error)
	DueReminderTasks(ctx context.Context, until time.Time) ([]domain.Task, error)
	MarkReminderSent(ctx context.Context, id string) error

	CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error)
	ListNotifications(ctx context.Context, f NotificationFilter) ([]domain.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)

	ListRuleSettings(ctx context.Context) ([]domain.RuleSetting, error)
	GetRuleSetting(ctx context.Context, rule domain.TaskType) (domain.RuleSetting, error)
	SaveRuleSetting(ctx context.Context, s domain.RuleSetting) error
}

type sqliteStore struct{ db *sql.DB }

// NewSQLiteStore wraps an opened sqlite handle.
func NewSQLiteStore(db *sql.DB) Store { return &sqliteStore{db: db} }

const scheduledCols = `id,task_type,status,scheduled_for,interval_type,interval_value,interval_unit,custom_schedule,config,entity_type,entity_id,created_at,updated_at`

func (s *sqliteStore) CreateScheduledTask(ctx context.Context, t domain.ScheduledTask) (string, error) {
	id := t.ID
	if id == "" {
		id = "sct_" + uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.SchedulePending
	}
	if t.IntervalType == "" {
		t.IntervalType = domain.IntervalNone
	}
	now := ts(time.Now())
	err := withRetry(ctx, "create scheduled task", func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO scheduled_tasks (`+scheduledCols+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			id, string(t.TaskType), string(t.Status), ts(t.ScheduledFor),
			string(t.IntervalType), t.IntervalValue, nullStr(string(t.IntervalUnit)),
			nullStr(t.CustomSchedule), []byte(t.Config), nullStr(string(t.EntityType)),
			nullStr(t.EntityID), now, now)
		return err
	})
	return id, err
}

func (s *sqliteStore) GetScheduledTask(ctx context.Context, id string) (domain.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduledCols+` FROM scheduled_tasks WHERE id=?`, id)
	t, err := scanScheduled(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledTask{}, &domain.NotFoundError{Kind: "scheduled task", ID: id}
	}
	return t, err
}

func (s *sqliteStore) ListScheduledTasks(ctx context.Context, f ScheduleFilter) ([]domain.ScheduledTask, error) {
	q := `SELECT ` + scheduledCols + ` FROM scheduled_tasks WHERE 1=1`
	var args []any
	if f.Status != "" {
		q += ` AND status=?`
		args = append(args, string(f.Status))
	}
	if f.EntityType != "" {
		q += ` AND entity_type=?`
		args = append(args, string(f.EntityType))
	}
	if f.EntityID != "" {
		q += ` AND entity_id=?`
		args = append(args, f.EntityID)
	}
	if f.From != nil {
		q += ` AND scheduled_for >= ?`
		args = append(args, ts(*f.From))
	}
	if f.To != nil {
		q += ` AND scheduled_for <= ?`
		args = append(args, ts(*f.To))
	}
	q += ` ORDER BY scheduled_for ASC, id ASC`
	q, args = page(q, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScheduledTask
	for rows.Next() {
		t, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransitionScheduledTask writes the task's status and due time only if
// the row is still in the expected prior status. The guard is the WHERE
// clause itself, so two writers racing the same row cannot both win: the
// loser gets a ConflictError carrying the status it lost to.
func (s *sqliteStore) TransitionScheduledTask(ctx context.Context, t domain.ScheduledTask, from domain.ScheduleStatus) error {
	return withRetry(ctx, "transition scheduled task", func() error {
		res, err := s.db.ExecContext(ctx, `
UPDATE scheduled_tasks
SET status=?, scheduled_for=?, updated_at=?
WHERE id=? AND status=?`,
			string(t.Status), ts(t.ScheduledFor), ts(time.Now()), t.ID, string(from))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		cur, err := s.GetScheduledTask(ctx, t.ID)
		if err != nil {
			return err
		}
		return &domain.ConflictError{
			Reason: "scheduled task " + t.ID + " is " + string(cur.Status) + ", expected " + string(from),
		}
	})
}

func (s *sqliteStore) DeleteScheduledTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Kind: "scheduled task", ID: id}
	}
	return nil
}

const taskCols = `id,title,description,due_date,priority,status,task_type,assigned_to,related_entity_type,related_entity_id,is_automated,reminder_sent,created_at,updated_at,completed_at`

func (s *sqliteStore) CreateTask(ctx context.Context, t domain.Task) (string, error) {
	id := t.ID
	if id == "" {
		id = "tsk_" + uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.TaskOpen
	}
	now := ts(time.Now())
	err := withRetry(ctx, "create task", func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (`+taskCols+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			id, t.Title, t.Description, ts(t.DueDate), string(t.Priority), string(t.Status),
			string(t.TaskType), nullStr(t.AssignedTo), nullStr(string(t.RelatedEntityType)),
			nullStr(t.RelatedEntityID), t.IsAutomated, t.ReminderSent, now, now, nullTime(t.CompletedAt))
		return err
	})
	return id, err
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, &domain.NotFoundError{Kind: "task", ID: id}
	}
	return t, err
}

func (s *sqliteStore) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	q := `SELECT ` + taskCols + ` FROM tasks WHERE 1=1`
	var args []any
	if f.Status != "" {
		q += ` AND status=?`
		args = append(args, string(f.Status))
	}
	if f.Priority != "" {
		q += ` AND priority=?`
		args = append(args, string(f.Priority))
	}
	if f.EntityType != "" {
		q += ` AND related_entity_type=?`
		args = append(args, string(f.EntityType))
	}
	if f.EntityID != "" {
		q += ` AND related_entity_id=?`
		args = append(args, f.EntityID)
	}
	if f.AssignedTo != "" {
		q += ` AND assigned_to=?`
		args = append(args, f.AssignedTo)
	}
	if f.Automated != nil {
		q += ` AND is_automated=?`
		args = append(args, *f.Automated)
	}
	q += ` ORDER BY due_date ASC, id ASC`
	q, args = page(q, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTask applies an allow-listed patch. completed_at is stamped when
// status moves to completed without an explicit value, and cleared when
// status leaves completed, keeping the two fields consistent.
func (s *sqliteStore) UpdateTask(ctx context.Context, id string, p TaskPatch) (domain.Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.AssignedTo != nil {
		t.AssignedTo = *p.AssignedTo
	}
	if p.ReminderSent != nil {
		t.ReminderSent = *p.ReminderSent
	}
	if p.CompletedAt != nil {
		t.CompletedAt = p.CompletedAt
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	// completed_at is set exactly when status is completed
	if t.Status != domain.TaskCompleted {
		t.CompletedAt = nil
	} else if t.CompletedAt == nil {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}
	err = withRetry(ctx, "update task", func() error {
		res, err := s.db.ExecContext(ctx, `
UPDATE tasks
SET title=?, description=?, due_date=?, priority=?, status=?, assigned_to=?, reminder_sent=?, completed_at=?, updated_at=?
WHERE id=?`,
			t.Title, t.Description, ts(t.DueDate), string(t.Priority), string(t.Status),
			nullStr(t.AssignedTo), t.ReminderSent, nullTime(t.CompletedAt), ts(time.Now()), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &domain.NotFoundError{Kind: "task", ID: id}
		}
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return s.GetTask(ctx, id)
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Kind: "task", ID: id}
	}
	return nil
}

// OpenTaskExists is the duplicate guard behind automated task creation:
// an open task with the same (type, entity) tuple blocks a new one.
func (s *sqliteStore) OpenTaskExists(ctx context.Context, tt domain.TaskType, et domain.EntityType, eid string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(1) FROM tasks
WHERE task_type=? AND related_entity_type=? AND related_entity_id=?
  AND status NOT IN ('completed','cancelled')`,
		string(tt), string(et), eid)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) DueReminderTasks(ctx context.Context, until time.Time) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+taskCols+` FROM tasks
WHERE reminder_sent=0 AND due_date <= ? AND status NOT IN ('completed','cancelled')
ORDER BY due_date ASC, id ASC`, ts(until))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkReminderSent(ctx context.Context, id string) error {
	return withRetry(ctx, "mark reminder sent", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET reminder_sent=1, updated_at=? WHERE id=?`, ts(time.Now()), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &domain.NotFoundError{Kind: "task", ID: id}
		}
		return nil
	})
}

const notificationCols = `id,user_id,title,message,entity_type,entity_id,action,sender_id,importance,read,created_at`

func (s *sqliteStore) CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if n.ID == "" {
		n.ID = "ntf_" + uuid.NewString()
	}
	if n.Importance == "" {
		n.Importance = domain.ImportanceNormal
	}
	n.Read = false
	n.CreatedAt = time.Now().UTC().Truncate(time.Second)
	err := withRetry(ctx, "create notification", func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO notifications (`+notificationCols+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			n.ID, n.UserID, n.Title, n.Message, nullStr(string(n.EntityType)), nullStr(n.EntityID),
			nullStr(n.Action), nullStr(n.SenderID), string(n.Importance), n.Read, ts(n.CreatedAt))
		return err
	})
	if err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

func (s *sqliteStore) ListNotifications(ctx context.Context, f NotificationFilter) ([]domain.Notification, error) {
	if f.UserID == "" {
		return nil, domain.Invalid("user_id", "is required")
	}
	q := `SELECT ` + notificationCols + ` FROM notifications WHERE user_id=?`
	args := []any{f.UserID}
	if f.UnreadOnly {
		q += ` AND read=0`
	}
	if f.EntityType != "" {
		q += ` AND entity_type=?`
		args = append(args, string(f.EntityType))
	}
	if f.EntityID != "" {
		q += ` AND entity_id=?`
		args = append(args, f.EntityID)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	q, args = page(q, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountUnread(ctx context.Context, userID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM notifications WHERE user_id=? AND read=0`, userID)
	var n int
	err := row.Scan(&n)
	return n, err
}

func (s *sqliteStore) MarkRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Kind: "notification", ID: id}
	}
	return nil
}

func (s *sqliteStore) MarkAllRead(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read=1 WHERE user_id=? AND read=0`, userID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) ListRuleSettings(ctx context.Context) ([]domain.RuleSetting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rule,enabled,days_threshold,updated_at FROM automation_settings ORDER BY rule`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RuleSetting
	for rows.Next() {
		var rs domain.RuleSetting
		var rule, updated string
		if err := rows.Scan(&rule, &rs.Enabled, &rs.DaysThreshold, &updated); err != nil {
			return nil, err
		}
		rs.Rule = domain.TaskType(rule)
		if rs.UpdatedAt, err = parseTS(updated); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetRuleSetting(ctx context.Context, rule domain.TaskType) (domain.RuleSetting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT rule,enabled,days_threshold,updated_at FROM automation_settings WHERE rule=?`, string(rule))
	var rs domain.RuleSetting
	var r, updated string
	if err := row.Scan(&r, &rs.Enabled, &rs.DaysThreshold, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RuleSetting{}, &domain.NotFoundError{Kind: "rule setting", ID: string(rule)}
		}
		return domain.RuleSetting{}, err
	}
	rs.Rule = domain.TaskType(r)
	updatedAt, err := parseTS(updated)
	if err != nil {
		return domain.RuleSetting{}, err
	}
	rs.UpdatedAt = updatedAt
	return rs, nil
}

func (s *sqliteStore) SaveRuleSetting(ctx context.Context, rs domain.RuleSetting) error {
	return withRetry(ctx, "save rule setting", func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO automation_settings(rule,enabled,days_threshold,updated_at) VALUES (?,?,?,?)
ON CONFLICT(rule) DO UPDATE SET enabled=excluded.enabled, days_threshold=excluded.days_threshold, updated_at=excluded.updated_at`,
			string(rs.Rule), rs.Enabled, rs.DaysThreshold, ts(time.Now()))
		return err
	})
}

type scanner interface{ Scan(dest ...any) error }

func scanScheduled(row scanner) (domain.ScheduledTask, error) {
	var t domain.ScheduledTask
	var taskType, status, scheduledFor, intervalType, created, updated string
	var unit, custom, entityType, entityID sql.NullString
	var config []byte
	err := row.Scan(&t.ID, &taskType, &status, &scheduledFor, &intervalType, &t.IntervalValue,
		&unit, &custom, &config, &entityType, &entityID, &created, &updated)
	if err != nil {
		return domain.ScheduledTask{}, err
	}
	t.TaskType = domain.TaskType(taskType)
	t.Status = domain.ScheduleStatus(status)
	t.IntervalType = domain.IntervalType(intervalType)
	t.IntervalUnit = domain.IntervalUnit(unit.String)
	t.CustomSchedule = custom.String
	t.Config = config
	t.EntityType = domain.EntityType(entityType.String)
	t.EntityID = entityID.String
	if t.ScheduledFor, err = parseTS(scheduledFor); err != nil {
		return domain.ScheduledTask{}, err
	}
	if t.CreatedAt, err = parseTS(created); err != nil {
		return domain.ScheduledTask{}, err
	}
	if t.UpdatedAt, err = parseTS(updated); err != nil {
		return domain.ScheduledTask{}, err
	}
	return t, nil
}

func scanTask(row scanner) (domain.Task, error) {
	var t domain.Task
	var due, priority, status, taskType, created, updated string
	var assigned, entityType, entityID, completed sql.NullString
	err := row.Scan(&t.ID, &t.Title, &t.Description, &due, &priority, &status, &taskType,
		&assigned, &entityType, &entityID, &t.IsAutomated, &t.ReminderSent, &created, &updated, &completed)
	if err != nil {
		return domain.Task{}, err
	}
	t.Priority = domain.Priority(priority)
	t.Status = domain.TaskStatus(status)
	t.TaskType = domain.TaskType(taskType)
	t.AssignedTo = assigned.String
	t.RelatedEntityType = domain.EntityType(entityType.String)
	t.RelatedEntityID = entityID.String
	if t.DueDate, err = parseTS(due); err != nil {
		return domain.Task{}, err
	}
	if t.CreatedAt, err = parseTS(created); err != nil {
		return domain.Task{}, err
	}
	if t.UpdatedAt, err = parseTS(updated); err != nil {
		return domain.Task{}, err
	}
	if completed.Valid {
		c, err := parseTS(completed.String)
		if err != nil {
			return domain.Task{}, err
		}
		t.CompletedAt = &c
	}
	return t, nil
}

func scanNotification(row scanner) (domain.Notification, error) {
	var n domain.Notification
	var importance, created string
	var entityType, entityID, action, sender sql.NullString
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &entityType, &entityID,
		&action, &sender, &importance, &n.Read, &created)
	if err != nil {
		return domain.Notification{}, err
	}
	n.EntityType = domain.EntityType(entityType.String)
	n.EntityID = entityID.String
	n.Action = action.String
	n.SenderID = sender.String
	n.Importance = domain.Importance(importance)
	if n.CreatedAt, err = parseTS(created); err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

func page(q string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
		if offset > 0 {
			q += ` OFFSET ?`
			args = append(args, offset)
		}
	}
	return q, args
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

// withRetry retries a write once or twice when sqlite reports the
// database busy or locked, then surfaces a TransientError.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = fn()
		if err == nil || !transient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return &domain.TransientError{Op: op, Err: err}
}

func transient(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}
