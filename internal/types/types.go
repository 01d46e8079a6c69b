package types

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Standard Opportunity field names.
const (
	FieldID                = "Id"
	FieldName              = "Name"
	FieldAmount            = "Amount"
	FieldIndustry          = "Industry"
	FieldNumberOfEmployees = "NumberOfEmployees"
	FieldStageName         = "StageName"
	FieldCloseDate         = "CloseDate"
	FieldProbability       = "Probability"
	FieldLastModifiedDate  = "LastModifiedDate"
)

// Record is one business entity (an Opportunity) as held by an org.
// ID is assigned by the owning org and never changes once set.
type Record struct {
	ID               string         `json:"Id,omitempty"`
	LastModifiedDate time.Time      `json:"LastModifiedDate,omitempty"`
	Fields           map[string]any `json:"fields"`
}

// NewRecord returns a record with a copy of the given fields.
func NewRecord(fields map[string]any) Record {
	r := Record{Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		r.Fields[k] = v
	}
	return r
}

// Name returns the Name field, or "" when absent or not a string.
func (r Record) Name() string {
	s, _ := r.Fields[FieldName].(string)
	return s
}

// Get returns the value of a field. Id and LastModifiedDate are served
// from the record header rather than Fields.
func (r Record) Get(field string) (any, bool) {
	switch field {
	case FieldID:
		return r.ID, r.ID != ""
	case FieldLastModifiedDate:
		return r.LastModifiedDate, !r.LastModifiedDate.IsZero()
	}
	v, ok := r.Fields[field]
	return v, ok
}

// Clone returns a deep-enough copy: the Fields map is copied, values are shared.
func (r Record) Clone() Record {
	c := NewRecord(r.Fields)
	c.ID = r.ID
	c.LastModifiedDate = r.LastModifiedDate
	return c
}

// Number converts numeric field values (including numeric strings) to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

const (
	JobCreated   JobStatus = "CREATED"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// TriggerKind identifies how a job was started.
type TriggerKind string

const (
	TriggerPoll TriggerKind = "poll"
	TriggerPush TriggerKind = "push"
)

// Outcome is the per-record result inside a job.
type Outcome string

const (
	OutcomeSkipped Outcome = "SKIPPED"
	OutcomeWritten Outcome = "WRITTEN"
	OutcomeErrored Outcome = "ERRORED"
)

// Action is the write issued against the target for a record.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
)

// RecordOutcome is the recorded result for one record of a job.
type RecordOutcome struct {
	SourceID string  `json:"source_id,omitempty"`
	Name     string  `json:"name,omitempty"`
	Outcome  Outcome `json:"outcome"`
	Action   Action  `json:"action,omitempty"`
	TargetID string  `json:"target_id,omitempty"`
	Attempts int     `json:"attempts"`
	Error    string  `json:"error,omitempty"`
}

// OutcomeCounts aggregates record outcomes.
type OutcomeCounts struct {
	Total    int `json:"total"`
	Skipped  int `json:"skipped"`
	Written  int `json:"written"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Errored  int `json:"errored"`
}

// Add folds one outcome into the counts.
func (c *OutcomeCounts) Add(o RecordOutcome) {
	c.Total++
	switch o.Outcome {
	case OutcomeSkipped:
		c.Skipped++
	case OutcomeWritten:
		c.Written++
		switch o.Action {
		case ActionInsert:
			c.Inserted++
		case ActionUpdate:
			c.Updated++
		}
	case OutcomeErrored:
		c.Errored++
	}
}

// JobReport is the observable state of a job.
type JobReport struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Trigger    TriggerKind     `json:"trigger"`
	Status     JobStatus       `json:"status"`
	Counts     OutcomeCounts   `json:"counts"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Outcomes   []RecordOutcome `json:"outcomes,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string   `json:"status"`
	Version string   `json:"version"`
	Jobs    []string `json:"jobs"`
	Running int      `json:"running"`
}

// PushResult is the per-record result of a push ingestion.
type PushResult struct {
	Name     string    `json:"name,omitempty"`
	SourceID string    `json:"source_id,omitempty"`
	JobID    string    `json:"job_id,omitempty"`
	Status   JobStatus `json:"status,omitempty"`
	Outcome  Outcome   `json:"outcome,omitempty"`
	Action   Action    `json:"action,omitempty"`
	TargetID string    `json:"target_id,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// PushResponse is the JSON body returned by the push endpoint.
type PushResponse struct {
	Job     string       `json:"job"`
	Results []PushResult `json:"results"`
}

// WatermarkResponse is the JSON body returned for watermark lookups.
type WatermarkResponse struct {
	Job       string    `json:"job"`
	Watermark time.Time `json:"watermark"`
}

// JobListResponse is the JSON body returned for job listings.
type JobListResponse struct {
	Jobs []JobReport `json:"jobs"`
}
