package model

import (
	"errors"
	"sort"
	"time"
)

// SyncStatus classifies what happened to one task of a flush
type SyncStatus string

const (
	SyncUploaded       SyncStatus = "uploaded"
	SyncSkippedSymlink SyncStatus = "skipped_symlink"
	SyncStructural     SyncStatus = "structural"
	SyncFailed         SyncStatus = "failed"
)

// SyncOutcome is the result of syncing one task
type SyncOutcome struct {
	Task       ChangeTask `json:"task"`
	Status     SyncStatus `json:"status"`
	RemotePath string     `json:"remotePath,omitempty"`
	Bytes      int        `json:"bytes,omitempty"`
	Err        error      `json:"-"`
	Error      string     `json:"error,omitempty"`
}

// FailedOutcome builds a failed outcome carrying err
func FailedOutcome(task ChangeTask, remotePath string, err error) SyncOutcome {
	return SyncOutcome{
		Task:       task,
		Status:     SyncFailed,
		RemotePath: remotePath,
		Err:        err,
		Error:      err.Error(),
	}
}

// Retryable reports whether the outcome failed with a transient error
func (o SyncOutcome) Retryable() bool {
	return o.Status == SyncFailed && IsRetryable(o.Err)
}

// FlushReport summarizes one flush of the pending buffer
type FlushReport struct {
	BatchID        string        `json:"batchId"`
	StartedAt      time.Time     `json:"startedAt"`
	FinishedAt     time.Time     `json:"finishedAt"`
	Outcomes       []SyncOutcome `json:"outcomes"`
	Restarted      []ServiceID   `json:"restarted"`
	Redeployed     []ServiceID   `json:"redeployed"`
	ServiceErrors  []string      `json:"serviceErrors,omitempty"`
	serviceFailure []error
}

// NewFlushReport starts a report for a batch
func NewFlushReport(batchID string) *FlushReport {
	return &FlushReport{
		BatchID:   batchID,
		StartedAt: time.Now(),
		Outcomes:  []SyncOutcome{},
	}
}

// Record appends a per-file outcome
func (r *FlushReport) Record(outcome SyncOutcome) {
	r.Outcomes = append(r.Outcomes, outcome)
}

// RecordServiceError stores a restart or redeploy failure
func (r *FlushReport) RecordServiceError(err error) {
	r.serviceFailure = append(r.serviceFailure, err)
	r.ServiceErrors = append(r.ServiceErrors, err.Error())
}

// ServicesWith returns the distinct services having at least one outcome of the given status
func (r *FlushReport) ServicesWith(status SyncStatus) []ServiceID {
	seen := make(map[ServiceID]bool)
	ids := []ServiceID{}
	for _, o := range r.Outcomes {
		if o.Status != status || seen[o.Task.ServiceID] {
			continue
		}
		seen[o.Task.ServiceID] = true
		ids = append(ids, o.Task.ServiceID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Count returns the number of outcomes with the given status
func (r *FlushReport) Count(status SyncStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// RetryableTasks returns the tasks that failed with a transient error
func (r *FlushReport) RetryableTasks() []ChangeTask {
	var tasks []ChangeTask
	for _, o := range r.Outcomes {
		if o.Retryable() {
			tasks = append(tasks, o.Task)
		}
	}
	return tasks
}

// Err aggregates every file and service failure of the flush
func (r *FlushReport) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	errs = append(errs, r.serviceFailure...)
	return errors.Join(errs...)
}
