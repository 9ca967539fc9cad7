package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/quartzcore/internal/quartz"
	"github.com/djlord-it/quartzcore/internal/schederr"
	"github.com/djlord-it/quartzcore/internal/trigger"
)

// fakeScheduler implements api.Scheduler with in-memory maps, for exercising
// the handler without a real SchedulerCore.
type fakeScheduler struct {
	mu       sync.Mutex
	jobs     map[trigger.JobKey]*trigger.JobDetail
	triggers map[trigger.TriggerKey]*trigger.Trigger
	byJob    map[trigger.JobKey][]trigger.TriggerKey

	pauseErr   error
	resumeErr  error
	triggerErr error
	metadata   quartz.Metadata

	pausedKeys   []trigger.TriggerKey
	resumedKeys  []trigger.TriggerKey
	firedJobs    []trigger.JobKey
	lastData     map[string]interface{}
	lastVolatile bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		jobs:     make(map[trigger.JobKey]*trigger.JobDetail),
		triggers: make(map[trigger.TriggerKey]*trigger.Trigger),
		byJob:    make(map[trigger.JobKey][]trigger.TriggerKey),
		metadata: quartz.Metadata{SchedulerName: "test-scheduler", InstanceID: "inst-1", State: "started"},
	}
}

func (f *fakeScheduler) addJob(detail *trigger.JobDetail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[detail.Key] = detail
}

func (f *fakeScheduler) addTrigger(t *trigger.Trigger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers[t.Key] = t
	f.byJob[t.JobKey] = append(f.byJob[t.JobKey], t.Key)
}

func (f *fakeScheduler) JobGroupNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for k := range f.jobs {
		if !seen[k.Group] {
			seen[k.Group] = true
			out = append(out, k.Group)
		}
	}
	return out
}

func (f *fakeScheduler) GetJobNames(group string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.jobs {
		if k.Group == group {
			out = append(out, k.Name)
		}
	}
	return out
}

func (f *fakeScheduler) GetJobDetail(key trigger.JobKey) (*trigger.JobDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	detail, ok := f.jobs[key]
	if !ok {
		return nil, &schederr.ObjectNotFound{Kind: "job", Name: key.Name, Group: key.Group}
	}
	return detail, nil
}

func (f *fakeScheduler) GetTriggersOfJob(key trigger.JobKey) ([]*trigger.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*trigger.Trigger
	for _, tk := range f.byJob[key] {
		out = append(out, f.triggers[tk])
	}
	return out, nil
}

func (f *fakeScheduler) TriggerGroupNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for k := range f.triggers {
		if !seen[k.Group] {
			seen[k.Group] = true
			out = append(out, k.Group)
		}
	}
	return out
}

func (f *fakeScheduler) GetTriggerNames(group string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.triggers {
		if k.Group == group {
			out = append(out, k.Name)
		}
	}
	return out
}

func (f *fakeScheduler) GetTrigger(key trigger.TriggerKey) (*trigger.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.triggers[key]
	if !ok {
		return nil, &schederr.ObjectNotFound{Kind: "trigger", Name: key.Name, Group: key.Group}
	}
	return t, nil
}

func (f *fakeScheduler) PauseTrigger(key trigger.TriggerKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pauseErr != nil {
		return f.pauseErr
	}
	f.pausedKeys = append(f.pausedKeys, key)
	return nil
}

func (f *fakeScheduler) ResumeTrigger(key trigger.TriggerKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.resumedKeys = append(f.resumedKeys, key)
	return nil
}

func (f *fakeScheduler) TriggerJob(key trigger.JobKey, data map[string]interface{}, volatile bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.triggerErr != nil {
		return f.triggerErr
	}
	f.firedJobs = append(f.firedJobs, key)
	f.lastData = data
	f.lastVolatile = volatile
	return nil
}

func (f *fakeScheduler) GetMetadata() quartz.Metadata {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metadata
}

func newTestHandler(f *fakeScheduler) *Handler {
	return NewHandler(f)
}

func TestHandler_Health(t *testing.T) {
	f := newFakeScheduler()
	handler := newTestHandler(f)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.SchedulerName != "test-scheduler" || resp.State != "started" {
		t.Errorf("unexpected health response: %+v", resp)
	}
}

func TestHandler_ListJobs(t *testing.T) {
	f := newFakeScheduler()
	f.addJob(&trigger.JobDetail{Key: trigger.NewJobKey("job1", "reporting"), JobClass: "export"})
	f.addJob(&trigger.JobDetail{Key: trigger.NewJobKey("job2", "reporting"), JobClass: "export"})
	handler := newTestHandler(f)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ListJobsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(resp.Jobs))
	}
}

func TestHandler_ListJobs_FilteredByGroup(t *testing.T) {
	f := newFakeScheduler()
	f.addJob(&trigger.JobDetail{Key: trigger.NewJobKey("job1", "reporting")})
	f.addJob(&trigger.JobDetail{Key: trigger.NewJobKey("job2", "billing")})
	handler := newTestHandler(f)

	req := httptest.NewRequest(http.MethodGet, "/jobs?group=billing", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var resp ListJobsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].Group != "billing" {
		t.Fatalf("expected one billing job, got %+v", resp.Jobs)
	}
}

func TestHandler_GetJob_NotFound(t *testing.T) {
	f := newFakeScheduler()
	handler := newTestHandler(f)

	req := httptest.NewRequest(http.MethodGet, "/jobs/reporting/missing", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandler_GetJob_IncludesTriggers(t *testing.T) {
	f := newFakeScheduler()
	jobKey := trigger.NewJobKey("nightly-export", "reporting")
	f.addJob(&trigger.JobDetail{Key: jobKey, JobClass: "export"})
	tr, err := trigger.NewSimpleTrigger(trigger.NewTriggerKey("t1", "reporting"), jobKey, pastTime(), nil, 0, 0)
	if err != nil {
		t.Fatalf("NewSimpleTrigger: %v", err)
	}
	f.addTrigger(tr)
	handler := newTestHandler(f)

	req := httptest.NewRequest(http.MethodGet, "/jobs/reporting/nightly-export", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp JobDetailResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Job.Name != "nightly-export" {
		t.Errorf("Job.Name = %q", resp.Job.Name)
	}
	if len(resp.Triggers) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(resp.Triggers))
	}
}

func TestHandler_ListTriggers(t *testing.T) {
	f := newFakeScheduler()
	jobKey := trigger.NewJobKey("job1", "reporting")
	f.addJob(&trigger.JobDetail{Key: jobKey})
	tr, err := trigger.NewSimpleTrigger(trigger.NewTriggerKey("t1", "reporting"), jobKey, pastTime(), nil, 0, 0)
	if err != nil {
		t.Fatalf("NewSimpleTrigger: %v", err)
	}
	f.addTrigger(tr)
	handler := newTestHandler(f)

	req := httptest.NewRequest(http.MethodGet, "/triggers", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var resp ListTriggersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Triggers) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(resp.Triggers))
	}
}

func TestHandler_PauseTrigger(t *testing.T) {
	f := newFakeScheduler()
	handler := newTestHandler(f)

	req := httptest.NewRequest(http.MethodPost, "/triggers/reporting/t1/pause", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if len(f.pausedKeys) != 1 || f.pausedKeys[0] != trigger.NewTriggerKey("t1", "reporting") {
		t.Errorf("expected PauseTrigger to be called with reporting/t1, got %v", f.pausedKeys)
	}
}

func TestHandler_ResumeTrigger(t *testing.T) {
	f := newFakeScheduler()
	handler := newTestHandler(f)

	req := httptest.NewRequest(http.MethodPost, "/triggers/reporting/t1/resume", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if len(f.resumedKeys) != 1 {
		t.Errorf("expected ResumeTrigger to be called once, got %v", f.resumedKeys)
	}
}

func TestHandler_TriggerNow(t *testing.T) {
	f := newFakeScheduler()
	jobKey := trigger.NewJobKey("job1", "reporting")
	f.addJob(&trigger.JobDetail{Key: jobKey})
	tr, err := trigger.NewSimpleTrigger(trigger.NewTriggerKey("t1", "reporting"), jobKey, pastTime(), nil, 0, 0)
	if err != nil {
		t.Fatalf("NewSimpleTrigger: %v", err)
	}
	f.addTrigger(tr)
	handler := newTestHandler(f)

	body := `{"data":{"k":"v"},"volatile":true}`
	req := httptest.NewRequest(http.MethodPost, "/triggers/reporting/t1/trigger-now", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(f.firedJobs) != 1 || f.firedJobs[0] != jobKey {
		t.Fatalf("expected TriggerJob to be called with %v, got %v", jobKey, f.firedJobs)
	}
	if f.lastData["k"] != "v" || !f.lastVolatile {
		t.Errorf("expected request body to be threaded through, got data=%v volatile=%v", f.lastData, f.lastVolatile)
	}
}

func TestHandler_TriggerNow_UnknownTrigger(t *testing.T) {
	f := newFakeScheduler()
	handler := newTestHandler(f)

	req := httptest.NewRequest(http.MethodPost, "/triggers/reporting/missing/trigger-now", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandler_UnknownRoute(t *testing.T) {
	f := newFakeScheduler()
	handler := newTestHandler(f)

	req := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func pastTime() time.Time { return time.Now().Add(-time.Hour) }
