package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"recruitflow/internal/automation"
	"recruitflow/internal/domain"
	"recruitflow/internal/notify"
	"recruitflow/internal/scheduler"
	"recruitflow/internal/store"
)

type Server struct {
	r          *chi.Mux
	store      store.Store
	core       *scheduler.Core
	sink       *notify.Sink
	hub        *notify.Hub
	dispatcher *automation.Dispatcher
}

func NewServer(st store.Store, core *scheduler.Core, sink *notify.Sink, hub *notify.Hub, d *automation.Dispatcher) http.Handler {
	return NewServerWithDebug(st, core, sink, hub, d, false)
}

func NewServerWithDebug(st store.Store, core *scheduler.Core, sink *notify.Sink, hub *notify.Hub, d *automation.Dispatcher, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, store: st, core: core, sink: sink, hub: hub, dispatcher: d}

	r.Get("/health", s.health)

	r.Get("/scheduler", s.listScheduledTasks)
	r.Post("/scheduler", s.createScheduledTask)
	r.Delete("/scheduler", s.deleteScheduledTask)
	r.Post("/scheduler/{id}/cancel", s.cancelScheduledTask)

	r.Get("/tasks", s.listTasks)
	r.Get("/tasks/{id}", s.getTask)
	r.Post("/tasks", s.createTask)
	r.Patch("/tasks/{id}", s.patchTask)
	r.Delete("/tasks/{id}", s.deleteTask)
	r.Post("/tasks/auto-generate", s.autoGenerate)
	r.Get("/tasks/automation-settings", s.getAutomationSettings)
	r.Post("/tasks/automation-settings", s.saveAutomationSettings)

	r.Get("/notifications", s.listNotifications)
	r.Post("/notifications", s.createNotification)
	r.Put("/notifications/{id}/read", s.markNotificationRead)
	r.Put("/notifications/mark-all-read", s.markAllNotificationsRead)
	r.Get("/notifications/stream", s.streamNotifications)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type createScheduledReq struct {
	TaskType       string          `json:"taskType"`
	ScheduledFor   string          `json:"scheduledFor"`
	IntervalType   string          `json:"intervalType"`
	IntervalValue  int             `json:"intervalValue"`
	IntervalUnit   string          `json:"intervalUnit"`
	CustomSchedule string          `json:"customSchedule"`
	Config         json.RawMessage `json:"config"`
	EntityType     string          `json:"entityType"`
	EntityID       string          `json:"entityId"`
}

func (s *Server) createScheduledTask(w http.ResponseWriter, r *http.Request) {
	var req createScheduledReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalid("body", err.Error()))
		return
	}
	if req.TaskType == "" {
		writeError(w, domain.Invalid("taskType", "is required"))
		return
	}
	if req.ScheduledFor == "" {
		writeError(w, domain.Invalid("scheduledFor", "is required"))
		return
	}
	scheduledFor, err := time.Parse(time.RFC3339, req.ScheduledFor)
	if err != nil {
		writeError(w, domain.Invalid("scheduledFor", "must be RFC3339"))
		return
	}

	t, err := s.core.Create(r.Context(), domain.ScheduledTask{
		TaskType:       domain.TaskType(req.TaskType),
		ScheduledFor:   scheduledFor,
		IntervalType:   domain.IntervalType(req.IntervalType),
		IntervalValue:  req.IntervalValue,
		IntervalUnit:   domain.IntervalUnit(req.IntervalUnit),
		CustomSchedule: req.CustomSchedule,
		Config:         req.Config,
		EntityType:     domain.EntityType(req.EntityType),
		EntityID:       req.EntityID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) listScheduledTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ScheduleFilter{
		Status:     domain.ScheduleStatus(q.Get("status")),
		EntityType: domain.EntityType(q.Get("entityType")),
		EntityID:   q.Get("entityId"),
		Limit:      atoi(q.Get("limit")),
		Offset:     atoi(q.Get("offset")),
	}
	if v := q.Get("fromDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, domain.Invalid("fromDate", "must be RFC3339"))
			return
		}
		f.From = &t
	}
	if v := q.Get("toDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, domain.Invalid("toDate", "must be RFC3339"))
			return
		}
		f.To = &t
	}
	tasks, err := s.core.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []domain.ScheduledTask{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) deleteScheduledTask(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, domain.Invalid("id", "is required"))
		return
	}
	if err := s.core.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) cancelScheduledTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.core.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type createTaskReq struct {
	Title             string `json:"title"`
	Description       string `json:"description"`
	DueDate           string `json:"due_date"`
	Priority          string `json:"priority"`
	TaskType          string `json:"task_type"`
	AssignedTo        string `json:"assigned_to"`
	RelatedEntityType string `json:"related_entity_type"`
	RelatedEntityID   string `json:"related_entity_id"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalid("body", err.Error()))
		return
	}
	if req.Title == "" {
		writeError(w, domain.Invalid("title", "is required"))
		return
	}
	if req.DueDate == "" {
		writeError(w, domain.Invalid("due_date", "is required"))
		return
	}
	dueDate, err := time.Parse(time.RFC3339, req.DueDate)
	if err != nil {
		writeError(w, domain.Invalid("due_date", "must be RFC3339"))
		return
	}
	if !domain.Priority(req.Priority).Valid() {
		writeError(w, domain.Invalid("priority", "must be high, medium or low"))
		return
	}
	if !domain.TaskType(req.TaskType).Valid() {
		writeError(w, domain.Invalid("task_type", "is required"))
		return
	}

	id, err := s.store.CreateTask(r.Context(), domain.Task{
		Title:             req.Title,
		Description:       req.Description,
		DueDate:           dueDate,
		Priority:          domain.Priority(req.Priority),
		Status:            domain.TaskOpen,
		TaskType:          domain.TaskType(req.TaskType),
		AssignedTo:        req.AssignedTo,
		RelatedEntityType: domain.EntityType(req.RelatedEntityType),
		RelatedEntityID:   req.RelatedEntityID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.TaskFilter{
		Status:     domain.TaskStatus(q.Get("status")),
		Priority:   domain.Priority(q.Get("priority")),
		EntityType: domain.EntityType(q.Get("entityType")),
		EntityID:   q.Get("entityId"),
		AssignedTo: q.Get("assignedTo"),
		Limit:      atoi(q.Get("limit")),
		Offset:     atoi(q.Get("offset")),
	}
	if v := q.Get("automated"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, domain.Invalid("automated", "must be true or false"))
			return
		}
		f.Automated = &b
	}
	tasks, err := s.store.ListTasks(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// patchTaskReq is the allow-listed field set. Anything else in the body
// is ignored.
type patchTaskReq struct {
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	DueDate      *string `json:"due_date"`
	Priority     *string `json:"priority"`
	Status       *string `json:"status"`
	AssignedTo   *string `json:"assigned_to"`
	ReminderSent *bool   `json:"reminder_sent"`
	CompletedAt  *string `json:"completed_at"`
}

func (s *Server) patchTask(w http.ResponseWriter, r *http.Request) {
	var req patchTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalid("body", err.Error()))
		return
	}

	var patch store.TaskPatch
	patch.Title = req.Title
	patch.Description = req.Description
	patch.AssignedTo = req.AssignedTo
	patch.ReminderSent = req.ReminderSent
	if req.DueDate != nil {
		t, err := time.Parse(time.RFC3339, *req.DueDate)
		if err != nil {
			writeError(w, domain.Invalid("due_date", "must be RFC3339"))
			return
		}
		patch.DueDate = &t
	}
	if req.Priority != nil {
		p := domain.Priority(*req.Priority)
		if !p.Valid() {
			writeError(w, domain.Invalid("priority", "must be high, medium or low"))
			return
		}
		patch.Priority = &p
	}
	if req.Status != nil {
		st := domain.TaskStatus(*req.Status)
		if !st.Valid() {
			writeError(w, domain.Invalid("status", "unknown status "+*req.Status))
			return
		}
		patch.Status = &st
	}
	if req.CompletedAt != nil {
		t, err := time.Parse(time.RFC3339, *req.CompletedAt)
		if err != nil {
			writeError(w, domain.Invalid("completed_at", "must be RFC3339"))
			return
		}
		patch.CompletedAt = &t
	}

	t, err := s.store.UpdateTask(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type autoGenerateResp struct {
	Summary domain.RunSummary `json:"summary"`
	Message string            `json:"message"`
}

// autoGenerate triggers one automation pass. Per-category failures are
// in the summary; the endpoint itself only fails when a second pass is
// already running.
func (s *Server) autoGenerate(w http.ResponseWriter, r *http.Request) {
	summary, err := s.dispatcher.RunAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, autoGenerateResp{
		Summary: summary,
		Message: fmt.Sprintf("created %d tasks, sent %d reminders", summary.TasksCreated(), summary.ReminderCount),
	})
}

func (s *Server) getAutomationSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ListRuleSettings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type ruleSettingReq struct {
	Rule          string `json:"rule"`
	Enabled       bool   `json:"enabled"`
	DaysThreshold int    `json:"days_threshold"`
}

func (s *Server) saveAutomationSettings(w http.ResponseWriter, r *http.Request) {
	var reqs []ruleSettingReq
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, domain.Invalid("body", err.Error()))
		return
	}
	for _, req := range reqs {
		rule := domain.TaskType(req.Rule)
		if !rule.Valid() || rule == domain.TypeManual {
			writeError(w, domain.Invalid("rule", "unknown rule "+req.Rule))
			return
		}
		if req.DaysThreshold <= 0 {
			writeError(w, domain.Invalid("days_threshold", "must be positive"))
			return
		}
		if err := s.store.SaveRuleSetting(r.Context(), domain.RuleSetting{
			Rule:          rule,
			Enabled:       req.Enabled,
			DaysThreshold: req.DaysThreshold,
		}); err != nil {
			writeError(w, err)
			return
		}
	}
	settings, err := s.store.ListRuleSettings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type notificationsResp struct {
	Notifications []domain.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unread_count"`
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeError(w, domain.Invalid("user_id", "is required"))
		return
	}
	unreadOnly := false
	if v := q.Get("unread_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, domain.Invalid("unread_only", "must be true or false"))
			return
		}
		unreadOnly = b
	}
	list, err := s.sink.List(r.Context(), store.NotificationFilter{
		UserID:     userID,
		UnreadOnly: unreadOnly,
		EntityType: domain.EntityType(q.Get("entity_type")),
		EntityID:   q.Get("entity_id"),
		Limit:      atoi(q.Get("limit")),
		Offset:     atoi(q.Get("offset")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	unread, err := s.sink.CountUnread(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, notificationsResp{Notifications: list, UnreadCount: unread})
}

type createNotificationReq struct {
	UserID     string `json:"user_id"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Action     string `json:"action"`
	SenderID   string `json:"sender_id"`
	Importance string `json:"importance"`
}

func (s *Server) createNotification(w http.ResponseWriter, r *http.Request) {
	var req createNotificationReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalid("body", err.Error()))
		return
	}
	n, err := s.sink.Create(r.Context(), domain.Notification{
		UserID:     req.UserID,
		Title:      req.Title,
		Message:    req.Message,
		EntityType: domain.EntityType(req.EntityType),
		EntityID:   req.EntityID,
		Action:     req.Action,
		SenderID:   req.SenderID,
		Importance: domain.Importance(req.Importance),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.sink.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"read": true})
}

type markAllReadReq struct {
	UserID string `json:"user_id"`
}

func (s *Server) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	var req markAllReadReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalid("body", err.Error()))
		return
	}
	if req.UserID == "" {
		writeError(w, domain.Invalid("user_id", "is required"))
		return
	}
	n, err := s.sink.MarkAllRead(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (s *Server) streamNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, domain.Invalid("user_id", "is required"))
		return
	}
	// the hub takes over the connection; errors after upgrade are its
	// problem
	_ = s.hub.Subscribe(w, r, userID)
}

type errorResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
		transient  *domain.TransientError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "validation_error", Message: err.Error()})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorResp{Error: "not_found", Message: err.Error()})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResp{Error: "conflict", Message: err.Error()})
	case errors.As(err, &transient):
		writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "transient_store_error", Message: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "internal", Message: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
