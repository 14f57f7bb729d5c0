package model

import "time"

// RunStatus is the state of a PipelineRun.
type RunStatus string

// Run statuses.
const (
	RunReceived    RunStatus = "received"
	RunNormalizing RunStatus = "normalizing"
	RunNormalized  RunStatus = "normalized"
	RunAnalyzing   RunStatus = "analyzing"
	RunAnalyzed    RunStatus = "analyzed"
	RunOptimizing  RunStatus = "optimizing"
	RunOptimized   RunStatus = "optimized"
	RunFormatting  RunStatus = "formatting"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunRetrying    RunStatus = "retrying"
)

// Terminal reports whether no further transition is allowed from s.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// StageKind is one of the four pipeline stages.
type StageKind string

// Stage kinds, in execution order.
const (
	StageNormalize StageKind = "normalize"
	StageAnalyze   StageKind = "analyze"
	StageOptimize  StageKind = "optimize"
	StageFormat    StageKind = "format"
)

// Stages lists the stage kinds in execution order.
var Stages = []StageKind{StageNormalize, StageAnalyze, StageOptimize, StageFormat}

// Stage status values.
const (
	StageStatusPending   = "pending"
	StageStatusRunning   = "running"
	StageStatusCompleted = "completed"
	StageStatusFailed    = "failed"
	StageStatusSkipped   = "skipped"
)

// StageState tracks one stage of a run.
type StageState struct {
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	Retries    int        `json:"retries"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// RunError is the terminal cause of a failed run.
type RunError struct {
	Code    string    `json:"code"`
	Stage   StageKind `json:"stage,omitempty"`
	Message string    `json:"message"`
}

// RunEvent is an entry in a run's audit trail.
type RunEvent struct {
	ID        string    `json:"id"`
	From      RunStatus `json:"from"`
	To        RunStatus `json:"to"`
	Stage     StageKind `json:"stage,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunInput is what the caller submits: either raw text for the normalizer
// or an already-normalized descriptor.
type RunInput struct {
	RawDescription string              `json:"raw_description,omitempty"`
	Workflow       *WorkflowDescriptor `json:"workflow,omitempty"`
	Org            *OrgContext         `json:"org_context,omitempty"`
}

// PipelineRun is the persisted state-machine instance for one request.
type PipelineRun struct {
	SessionID string                   `json:"session_id"`
	Status    RunStatus                `json:"status"`
	Resume    RunStatus                `json:"resume_status,omitempty"`
	Stages    map[StageKind]StageState `json:"stages"`
	Input     RunInput                 `json:"input"`

	RegistryVersion string              `json:"registry_version,omitempty"`
	Workflow        *WorkflowDescriptor `json:"workflow,omitempty"`
	Score           *InefficiencyScore  `json:"score,omitempty"`
	Plan            *OptimizationPlan   `json:"plan,omitempty"`
	Report          string              `json:"report,omitempty"`

	Error     *RunError  `json:"error,omitempty"`
	Events    []RunEvent `json:"events,omitempty"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Deadline  *time.Time `json:"deadline,omitempty"`
}

// Terminal reports whether the run has reached completed or failed.
func (r *PipelineRun) Terminal() bool { return r.Status.Terminal() }

// RetryCount returns the total retries recorded across stages.
func (r *PipelineRun) RetryCount() int {
	n := 0
	for _, s := range r.Stages {
		n += s.Retries
	}
	return n
}

// Clone returns a copy whose maps and slices can be mutated independently.
// Stage outputs are shared because they are never mutated once committed.
func (r *PipelineRun) Clone() *PipelineRun {
	cp := *r
	cp.Stages = make(map[StageKind]StageState, len(r.Stages))
	for k, v := range r.Stages {
		cp.Stages[k] = v
	}
	cp.Events = append([]RunEvent(nil), r.Events...)
	if r.Error != nil {
		e := *r.Error
		cp.Error = &e
	}
	return &cp
}
