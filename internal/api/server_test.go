package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"recruitflow/internal/automation"
	"recruitflow/internal/domain"
	"recruitflow/internal/notify"
	"recruitflow/internal/scheduler"
	"recruitflow/internal/store"
)

type env struct {
	handler http.Handler
	store   store.Store
	dir     interface {
		store.Directory
		store.EntityWriter
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.EnsureSchema(db))

	st := store.NewSQLiteStore(db)
	dir := store.NewDirectory(db)
	hub := notify.NewHub()
	sink := notify.NewSink(st, hub)
	core := scheduler.NewCore(st)
	engine := automation.NewEngine(st, dir, sink)
	dispatcher := automation.NewDispatcher(engine, core)

	return &env{
		handler: NewServer(st, core, sink, hub, dispatcher),
		store:   st,
		dir:     dir,
	}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestCreateScheduledTaskValidation(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "POST", "/scheduler", map[string]any{"scheduledFor": time.Now().UTC().Format(time.RFC3339)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[map[string]string](t, rec)
	assert.Equal(t, "validation_error", resp["error"])

	rec = e.do(t, "POST", "/scheduler", map[string]any{"taskType": "job_expiry"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, "POST", "/scheduler", map[string]any{
		"taskType":     "job_expiry",
		"scheduledFor": time.Now().UTC().Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	created := decode[domain.ScheduledTask](t, rec)
	assert.Equal(t, domain.SchedulePending, created.Status)
	assert.NotEmpty(t, created.ID)
}

func TestScheduleConfigRoundTripsAsJSON(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "POST", "/scheduler", map[string]any{
		"taskType":     "job_expiry",
		"scheduledFor": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
		"config":       map[string]int{"days_threshold": 7},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[domain.ScheduledTask](t, rec)
	// the submitted object comes back as JSON, not a base64 blob
	assert.JSONEq(t, `{"days_threshold":7}`, string(created.Config))

	rec = e.do(t, "GET", "/scheduler", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]domain.ScheduledTask](t, rec)
	require.Len(t, list, 1)
	assert.JSONEq(t, `{"days_threshold":7}`, string(list[0].Config))
}

func TestSchedulerListAndDelete(t *testing.T) {
	e := newEnv(t)
	due := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	rec := e.do(t, "POST", "/scheduler", map[string]any{
		"taskType":     "candidate_contact",
		"scheduledFor": due.Format(time.RFC3339),
		"entityType":   "candidate",
		"entityId":     "cand_1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[domain.ScheduledTask](t, rec)

	rec = e.do(t, "GET", "/scheduler?status=pending&entityType=candidate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]domain.ScheduledTask](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	rec = e.do(t, "DELETE", "/scheduler?id="+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, "DELETE", "/scheduler?id="+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[map[string]string](t, rec)
	assert.Equal(t, "not_found", resp["error"])
}

func TestCancelScheduledTaskConflict(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "POST", "/scheduler", map[string]any{
		"taskType":     "manual",
		"scheduledFor": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[domain.ScheduledTask](t, rec)

	rec = e.do(t, "POST", fmt.Sprintf("/scheduler/%s/cancel", created.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// a cancelled task cannot be cancelled again
	rec = e.do(t, "POST", fmt.Sprintf("/scheduler/%s/cancel", created.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[map[string]string](t, rec)
	assert.Equal(t, "conflict", resp["error"])
}

func TestCreateTaskRequiresDueDate(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "POST", "/tasks", map[string]any{
		"title":     "Call candidate",
		"priority":  "high",
		"task_type": "manual",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[map[string]string](t, rec)
	assert.Equal(t, "validation_error", resp["error"])
	assert.Contains(t, resp["message"], "due_date")
}

func TestCreateTaskDefaults(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "POST", "/tasks", map[string]any{
		"title":     "Call candidate",
		"due_date":  time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
		"priority":  "high",
		"task_type": "manual",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[domain.Task](t, rec)
	assert.Equal(t, domain.TaskOpen, created.Status)
	assert.False(t, created.ReminderSent)
}

func TestPatchTaskCompletedAtStamp(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "POST", "/tasks", map[string]any{
		"title":     "Prepare interview",
		"due_date":  time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
		"priority":  "medium",
		"task_type": "manual",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[domain.Task](t, rec)

	rec = e.do(t, "PATCH", "/tasks/"+created.ID, map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code)
	patched := decode[domain.Task](t, rec)
	assert.Equal(t, domain.TaskCompleted, patched.Status)
	require.NotNil(t, patched.CompletedAt)
	assert.WithinDuration(t, time.Now(), *patched.CompletedAt, 5*time.Second)

	rec = e.do(t, "PATCH", "/tasks/"+created.ID, map[string]any{"status": "nonsense"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, "PATCH", "/tasks/tsk_missing", map[string]any{"status": "completed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAutoGenerateEndToEnd(t *testing.T) {
	e := newEnv(t)
	now := time.Now().UTC().Truncate(time.Second)

	expires := now.AddDate(0, 0, 4)
	jobID, err := e.dir.AddJob(context.Background(), domain.JobRef{Title: "Platform Engineer", OwnerID: "owner_1", ExpiresAt: &expires})
	require.NoError(t, err)

	rec := e.do(t, "POST", "/tasks/auto-generate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Summary domain.RunSummary `json:"summary"`
		Message string            `json:"message"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Summary.JobExpiryTasks, 1)
	assert.Contains(t, resp.Message, "created 1 tasks")

	rec = e.do(t, "GET", "/tasks?automated=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := decode[[]domain.Task](t, rec)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TypeJobExpiry, tasks[0].TaskType)
	assert.Equal(t, jobID, tasks[0].RelatedEntityID)
	assert.True(t, tasks[0].IsAutomated)

	// the owner was notified
	rec = e.do(t, "GET", "/notifications?user_id=owner_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notifs struct {
		Notifications []domain.Notification `json:"notifications"`
		UnreadCount   int                   `json:"unread_count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&notifs))
	assert.Len(t, notifs.Notifications, 1)
	assert.Equal(t, 1, notifs.UnreadCount)
}

func TestAutomationSettingsRoundTrip(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "GET", "/tasks/automation-settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decode[[]domain.RuleSetting](t, rec)
	assert.Len(t, settings, 5)

	rec = e.do(t, "POST", "/tasks/automation-settings", []map[string]any{
		{"rule": "job_expiry", "enabled": false, "days_threshold": 14},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	settings = decode[[]domain.RuleSetting](t, rec)
	for _, s := range settings {
		if s.Rule == domain.TypeJobExpiry {
			assert.False(t, s.Enabled)
			assert.Equal(t, 14, s.DaysThreshold)
		}
	}

	rec = e.do(t, "POST", "/tasks/automation-settings", []map[string]any{
		{"rule": "manual", "enabled": true, "days_threshold": 3},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationLifecycle(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "POST", "/notifications", map[string]any{"user_id": "u1", "title": "only title"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 0; i < 2; i++ {
		rec = e.do(t, "POST", "/notifications", map[string]any{
			"user_id": "u1", "title": "New applicant", "message": "Someone applied",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec = e.do(t, "POST", "/notifications", map[string]any{
		"user_id": "u2", "title": "Ping", "message": "For someone else",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	other := decode[domain.Notification](t, rec)

	rec = e.do(t, "GET", "/notifications?user_id=u1&unread_only=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Notifications []domain.Notification `json:"notifications"`
		UnreadCount   int                   `json:"unread_count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listResp))
	assert.Len(t, listResp.Notifications, 2)
	assert.Equal(t, 2, listResp.UnreadCount)

	rec = e.do(t, "PUT", "/notifications/mark-all-read", map[string]any{"user_id": "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	marked := decode[map[string]int](t, rec)
	assert.Equal(t, 2, marked["marked"])

	rec = e.do(t, "GET", "/notifications?user_id=u1", nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listResp))
	assert.Equal(t, 0, listResp.UnreadCount)

	// the other user is untouched
	rec = e.do(t, "PUT", "/notifications/"+other.ID+"/read", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, "PUT", "/notifications/ntf_missing/read", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, "GET", "/notifications", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
