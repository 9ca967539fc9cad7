package api

import "time"

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// JobResponse is the introspection view of a stored JobDetail.
type JobResponse struct {
	Name     string `json:"name"`
	Group    string `json:"group"`
	JobClass string `json:"job_class"`
	Durable  bool   `json:"durable"`
	Stateful bool   `json:"stateful"`
	Volatile bool   `json:"volatile"`
}

// TriggerResponse is the introspection view of a stored Trigger.
type TriggerResponse struct {
	Name         string  `json:"name"`
	Group        string  `json:"group"`
	JobName      string  `json:"job_name"`
	JobGroup     string  `json:"job_group"`
	State        string  `json:"state"`
	Kind         string  `json:"kind"`
	NextFireTime *string `json:"next_fire_time,omitempty"`
	PrevFireTime *string `json:"previous_fire_time,omitempty"`
}

// JobDetailResponse is the single-job view, including its triggers.
type JobDetailResponse struct {
	Job      JobResponse       `json:"job"`
	Triggers []TriggerResponse `json:"triggers"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ListTriggersResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status        string `json:"status"`
	SchedulerName string `json:"scheduler_name"`
	InstanceID    string `json:"instance_id"`
	State         string `json:"state"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// TriggerNowRequest is the optional body for POST .../trigger-now.
type TriggerNowRequest struct {
	Data     map[string]interface{} `json:"data,omitempty"`
	Volatile bool                   `json:"volatile,omitempty"`
}
