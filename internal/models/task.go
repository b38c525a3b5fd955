package models

import (
	"path/filepath"
	"time"
)

// TaskState is the lifecycle state of an ingestion task.
type TaskState string

const (
	TaskPending  TaskState = "PENDING"
	TaskProgress TaskState = "PROGRESS"
	TaskSuccess  TaskState = "SUCCESS"
	TaskFailure  TaskState = "FAILURE"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TaskState) Terminal() bool {
	return s == TaskSuccess || s == TaskFailure
}

// CanTransition reports whether a record in state s may move to next.
// PENDING -> PROGRESS* -> SUCCESS|FAILURE; PENDING may also go straight to a
// terminal state.
func (s TaskState) CanTransition(next TaskState) bool {
	switch s {
	case "", TaskPending:
		return next != ""
	case TaskProgress:
		return next == TaskProgress || next.Terminal()
	default:
		return false
	}
}

// TaskPayload is what travels through the broker for one ingestion.
type TaskPayload struct {
	TaskID         string `json:"task_id"`
	FilePath       string `json:"file_path"`
	OrganizationID string `json:"organization_id"`
	// FileName is the client's original name for the upload. FilePath
	// usually points at a temp copy.
	FileName string `json:"file_name,omitempty"`
}

// SourceFileName is the name recorded on stored documents: FileName when
// set, otherwise the base of FilePath.
func (p TaskPayload) SourceFileName() string {
	if p.FileName != "" {
		return filepath.Base(p.FileName)
	}
	return filepath.Base(p.FilePath)
}

// TaskResult is the success payload recorded for a finished ingestion.
type TaskResult struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
}

// TaskRecord is the persisted state of one ingestion task, kept by the
// result backend. The worker running the task is its only writer.
type TaskRecord struct {
	TaskID         string      `json:"task_id"`
	State          TaskState   `json:"state"`
	Current        int         `json:"current"`
	Total          int         `json:"total"`
	Status         string      `json:"status"`
	Result         *TaskResult `json:"result,omitempty"`
	Error          string      `json:"error,omitempty"`
	Attempt        int         `json:"attempt"`
	FilePath       string      `json:"file_path"`
	OrganizationID string      `json:"organization_id"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// TaskStatus is the client-facing view of a task returned by polling.
type TaskStatus struct {
	TaskID  string      `json:"task_id"`
	State   TaskState   `json:"state"`
	Status  string      `json:"status"`
	Current int         `json:"current"`
	Total   int         `json:"total"`
	Result  *TaskResult `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// StatusView maps a stored record to what a polling client sees.
func (r TaskRecord) StatusView() TaskStatus {
	st := TaskStatus{TaskID: r.TaskID, State: r.State}
	switch r.State {
	case TaskPending:
		st.Status = "Pending..."
		st.Current = 0
		st.Total = 1
	case TaskProgress:
		st.Status = r.Status
		st.Current = r.Current
		st.Total = r.Total
		st.Result = r.Result
	case TaskSuccess:
		st.Status = "success"
		st.Current = 1
		st.Total = 1
		st.Result = r.Result
	case TaskFailure:
		st.Status = r.Error
		st.Current = 1
		st.Total = 1
		st.Error = r.Error
	default:
		st.Status = string(r.State)
	}
	return st
}
