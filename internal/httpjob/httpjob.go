// Package httpjob provides the one concrete quartz.JobFactory this repo
// ships: a JobClass that POSTs the merged execution data to a URL carried
// in the job's data map, HMAC-signed the same way the teacher's
// dispatcher.HTTPWebhookSender signs outbound webhooks. It is reference
// infrastructure, not part of the scheduling CORE — SchedulerCore accepts
// any JobFactory and has no knowledge of this package.
package httpjob

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/djlord-it/quartzcore/internal/quartz"
	"github.com/djlord-it/quartzcore/internal/trigger"
)

// ClassName is the JobDetail.JobClass value Factory resolves.
const ClassName = "http-webhook"

// Keys read out of a job's merged data map.
const (
	DataKeyURL     = "url"
	DataKeySecret  = "secret"
	DataKeyTimeout = "timeout_seconds"
)

// Factory constructs Job instances for JobClass ClassName. Any other
// JobClass is rejected with an error, since this repo ships no other job
// kind.
type Factory struct {
	client *http.Client
}

// NewFactory returns a Factory using a default http.Client.
func NewFactory() *Factory {
	return &Factory{client: &http.Client{}}
}

func (f *Factory) NewJob(detail *trigger.JobDetail) (quartz.Job, error) {
	if detail.JobClass != ClassName {
		return nil, fmt.Errorf("httpjob: unsupported job class %q", detail.JobClass)
	}
	return &Job{client: f.client}, nil
}

// Job posts the execution's merged data as a JSON body to the URL found
// under DataKeyURL, signing the body with DataKeySecret the same way the
// teacher's webhook sender does. A missing URL in merged data is a
// configuration error the scheduler surfaces as an execution error, not a
// panic; a missing secret signs the body with an empty key.
type Job struct {
	client *http.Client
}

func (j *Job) Execute(ctx context.Context, execCtx *quartz.JobExecutionContext) error {
	url, _ := execCtx.MergedData[DataKeyURL].(string)
	if url == "" {
		return fmt.Errorf("httpjob: merged data has no %q", DataKeyURL)
	}
	secret, _ := execCtx.MergedData[DataKeySecret].(string)

	timeout := 30 * time.Second
	if t, ok := execCtx.MergedData[DataKeyTimeout].(float64); ok && t > 0 {
		timeout = time.Duration(t * float64(time.Second))
	}

	payload := payload{
		ExecutionID:       execCtx.ExecutionID.String(),
		JobName:           execCtx.JobDetail.Key.Name,
		JobGroup:          execCtx.JobDetail.Key.Group,
		TriggerName:       execCtx.Trigger.Key.Name,
		TriggerGroup:      execCtx.Trigger.Key.Group,
		ScheduledFireTime: execCtx.ScheduledFireTime,
		FireTime:          execCtx.FireTime,
		Data:              execCtx.MergedData,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("httpjob: marshal payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("httpjob: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Quartzcore-Job", execCtx.JobDetail.Key.Group+"."+execCtx.JobDetail.Key.Name)
	req.Header.Set("X-Quartzcore-Execution-Id", execCtx.ExecutionID.String())
	req.Header.Set("X-Quartzcore-Signature", sign(secret, body))

	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("httpjob: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("httpjob: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type payload struct {
	ExecutionID       string                 `json:"execution_id"`
	JobName           string                 `json:"job_name"`
	JobGroup          string                 `json:"job_group"`
	TriggerName       string                 `json:"trigger_name"`
	TriggerGroup      string                 `json:"trigger_group"`
	ScheduledFireTime time.Time              `json:"scheduled_fire_time"`
	FireTime          time.Time              `json:"fire_time"`
	Data              map[string]interface{} `json:"data"`
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
