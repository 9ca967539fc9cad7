// Package api is a thin net/http introspection and mutation surface over
// SchedulerCore's already-safe public methods. It never touches the
// Registry directly; /metrics is expected to be mounted alongside it by
// the caller via promhttp.Handler(), since that concern belongs to the
// process wiring, not this package.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/djlord-it/quartzcore/internal/quartz"
	"github.com/djlord-it/quartzcore/internal/trigger"
)

// Scheduler is the narrow slice of quartz.SchedulerCore this handler
// calls, kept as an interface so tests can substitute a fake.
type Scheduler interface {
	JobGroupNames() []string
	GetJobNames(group string) []string
	GetJobDetail(key trigger.JobKey) (*trigger.JobDetail, error)
	GetTriggersOfJob(key trigger.JobKey) ([]*trigger.Trigger, error)
	TriggerGroupNames() []string
	GetTriggerNames(group string) []string
	GetTrigger(key trigger.TriggerKey) (*trigger.Trigger, error)
	PauseTrigger(key trigger.TriggerKey) error
	ResumeTrigger(key trigger.TriggerKey) error
	TriggerJob(key trigger.JobKey, data map[string]interface{}, volatile bool) error
	GetMetadata() quartz.Metadata
}

type Handler struct {
	sched Scheduler
}

func NewHandler(sched Scheduler) *Handler {
	return &Handler{sched: sched}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/jobs" && r.Method == http.MethodGet:
		h.listJobs(w, r)

	case strings.HasPrefix(path, "/jobs/") && r.Method == http.MethodGet:
		h.getJob(w, r)

	case path == "/triggers" && r.Method == http.MethodGet:
		h.listTriggers(w, r)

	case strings.HasPrefix(path, "/triggers/") && strings.HasSuffix(path, "/pause") && r.Method == http.MethodPost:
		h.pauseTrigger(w, r)

	case strings.HasPrefix(path, "/triggers/") && strings.HasSuffix(path, "/resume") && r.Method == http.MethodPost:
		h.resumeTrigger(w, r)

	case strings.HasPrefix(path, "/triggers/") && strings.HasSuffix(path, "/trigger-now") && r.Method == http.MethodPost:
		h.triggerNow(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	md := h.sched.GetMetadata()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		SchedulerName: md.SchedulerName,
		InstanceID:    md.InstanceID,
		State:         md.State,
	})
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	groupFilter := r.URL.Query().Get("group")
	var jobs []JobResponse
	for _, group := range h.sched.JobGroupNames() {
		if groupFilter != "" && group != groupFilter {
			continue
		}
		for _, name := range h.sched.GetJobNames(group) {
			detail, err := h.sched.GetJobDetail(trigger.NewJobKey(name, group))
			if err != nil {
				continue
			}
			jobs = append(jobs, toJobResponse(detail))
		}
	}

	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: paginateJobs(jobs, limit, offset)})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	group, name, ok := parseGroupName(r.URL.Path, "/jobs/")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	key := trigger.NewJobKey(name, group)
	detail, err := h.sched.GetJobDetail(key)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	triggers, err := h.sched.GetTriggersOfJob(key)
	if err != nil {
		log.Printf("api: get triggers of job error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load triggers")
		return
	}

	resp := JobDetailResponse{Job: toJobResponse(detail), Triggers: make([]TriggerResponse, len(triggers))}
	for i, t := range triggers {
		resp.Triggers[i] = toTriggerResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listTriggers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	groupFilter := r.URL.Query().Get("group")
	var triggers []TriggerResponse
	for _, group := range h.sched.TriggerGroupNames() {
		if groupFilter != "" && group != groupFilter {
			continue
		}
		for _, name := range h.sched.GetTriggerNames(group) {
			t, err := h.sched.GetTrigger(trigger.NewTriggerKey(name, group))
			if err != nil {
				continue
			}
			triggers = append(triggers, toTriggerResponse(t))
		}
	}

	writeJSON(w, http.StatusOK, ListTriggersResponse{Triggers: paginateTriggers(triggers, limit, offset)})
}

func (h *Handler) pauseTrigger(w http.ResponseWriter, r *http.Request) {
	group, name, ok := parseTriggerPath(r.URL.Path, "/pause")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := h.sched.PauseTrigger(trigger.NewTriggerKey(name, group)); err != nil {
		log.Printf("api: pause trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to pause trigger")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resumeTrigger(w http.ResponseWriter, r *http.Request) {
	group, name, ok := parseTriggerPath(r.URL.Path, "/resume")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := h.sched.ResumeTrigger(trigger.NewTriggerKey(name, group)); err != nil {
		log.Printf("api: resume trigger error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to resume trigger")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) triggerNow(w http.ResponseWriter, r *http.Request) {
	group, name, ok := parseTriggerPath(r.URL.Path, "/trigger-now")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	triggerKey := trigger.NewTriggerKey(name, group)
	stored, err := h.sched.GetTrigger(triggerKey)
	if err != nil {
		writeError(w, http.StatusNotFound, "trigger not found")
		return
	}

	var req TriggerNowRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	if err := h.sched.TriggerJob(stored.JobKey, req.Data, req.Volatile); err != nil {
		log.Printf("api: trigger-now error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fire job")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func toJobResponse(detail *trigger.JobDetail) JobResponse {
	return JobResponse{
		Name:     detail.Key.Name,
		Group:    detail.Key.Group,
		JobClass: detail.JobClass,
		Durable:  detail.Durable,
		Stateful: detail.Stateful,
		Volatile: detail.Volatile,
	}
}

func toTriggerResponse(t *trigger.Trigger) TriggerResponse {
	resp := TriggerResponse{
		Name:     t.Key.Name,
		Group:    t.Key.Group,
		JobName:  t.JobKey.Name,
		JobGroup: t.JobKey.Group,
		State:    t.State.String(),
		Kind:     t.Kind.String(),
	}
	if t.NextFireTime != nil {
		s := formatTime(*t.NextFireTime)
		resp.NextFireTime = &s
	}
	if t.PreviousFireTime != nil {
		s := formatTime(*t.PreviousFireTime)
		resp.PrevFireTime = &s
	}
	return resp
}

func paginateJobs(jobs []JobResponse, limit, offset int) []JobResponse {
	if offset >= len(jobs) {
		return []JobResponse{}
	}
	end := offset + limit
	if end > len(jobs) {
		end = len(jobs)
	}
	return jobs[offset:end]
}

func paginateTriggers(triggers []TriggerResponse, limit, offset int) []TriggerResponse {
	if offset >= len(triggers) {
		return []TriggerResponse{}
	}
	end := offset + limit
	if end > len(triggers) {
		end = len(triggers)
	}
	return triggers[offset:end]
}

// parseGroupName extracts {group}/{name} from a path with the given prefix.
func parseGroupName(path, prefix string) (group, name string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// parseTriggerPath extracts {group}/{name} from /triggers/{group}/{name}/<action>.
func parseTriggerPath(path, suffix string) (group, name string, ok bool) {
	trimmed := strings.TrimSuffix(path, suffix)
	parts := pathSegments(trimmed)
	if len(parts) != 3 || parts[0] != "triggers" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
