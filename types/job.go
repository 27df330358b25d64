package types

import "time"

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// FunctionResult is the uniform outcome of a function invocation. Functions
// never raise past the registry boundary; failures surface here.
type FunctionResult struct {
	Success         bool           `json:"success"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Data            AgentDataValue `json:"result_data"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
}

// OK builds a successful result.
func OK(data AgentDataValue) FunctionResult {
	return FunctionResult{Success: true, Data: data}
}

// Fail builds a failed result with the given message.
func Fail(message string) FunctionResult {
	return FunctionResult{Success: false, ErrorMessage: message, Data: NoneValue()}
}

// Job is a deferred invocation of a named function executed by one agent's
// worker pool. Higher Priority runs earlier; FIFO within a priority.
type Job struct {
	ID         string          `json:"id"`
	Function   string          `json:"function_name"`
	Params     AgentData       `json:"params,omitempty"`
	Priority   int             `json:"priority"`
	Requester  string          `json:"requester,omitempty"`
	Status     JobStatus       `json:"status"`
	Result     *FunctionResult `json:"result,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Clone returns a copy safe to hand to callers outside the job table lock.
func (j *Job) Clone() *Job {
	out := *j
	out.Params = j.Params.Clone()
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
