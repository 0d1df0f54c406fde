package model

import (
	"errors"
	"fmt"
)

var (
	// ErrPrerequisiteMissing aborts a batch when a required binary is absent
	// and the operator declined installation or installation failed.
	ErrPrerequisiteMissing = errors.New("prerequisite missing")
	// ErrPreconditionFailed aborts a batch when its probe command exited
	// non-zero.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// JobError is the terminal diagnostic of a job whose external process exited
// with a non-zero status. Tail holds the trailing portion of the merged
// output, bounded by the runner.
type JobError struct {
	Label    string
	ExitCode int
	Tail     string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s: exit code %d", e.Label, e.ExitCode)
}

// CommandSpec is one fully resolved external command. Immutable once built,
// identified by Label within its batch.
type CommandSpec struct {
	Label          string
	Executable     string
	Args           []string
	OutputArtifact string
	// CaptureStdout marks tools which print results to stdout. The runner
	// persists the captured text to OutputArtifact on success. Tools which
	// write their own files leave this false.
	CaptureStdout bool
}

// Topology is the concurrency discipline of a batch: one job at a time in
// builder order, or up to N jobs concurrently.
type Topology struct {
	limit int
}

func Sequential() Topology { return Topology{limit: 1} }

func Bounded(n int) Topology {
	if n < 1 {
		n = 1
	}
	return Topology{limit: n}
}

// Limit returns the maximum number of simultaneously running jobs.
// The zero value behaves as Sequential.
func (t Topology) Limit() int {
	if t.limit < 1 {
		return 1
	}
	return t.limit
}

func (t Topology) String() string {
	if t.Limit() == 1 {
		return "sequential"
	}
	return fmt.Sprintf("bounded(%d)", t.Limit())
}

// Batch is one user-triggered run. Specs execute under Topology after the
// optional provisioning gate (Requires) and precondition probe passed.
type Batch struct {
	ID       string
	Specs    []CommandSpec
	Topology Topology
	// Probe is an optional pre-flight command. A non-zero exit aborts the
	// whole batch before any job is dispatched.
	Probe *CommandSpec
	// Requires names a tool whose binary must be present (installing it on
	// demand) before the batch may run. Empty means no gate.
	Requires string
}

// JobStatus is the lifecycle state of one job.
type JobStatus int

const (
	StatusPending JobStatus = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether s is an end state.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// JobState couples a status with its failure diagnostic (empty unless
// StatusFailed).
type JobState struct {
	Status     JobStatus
	Diagnostic string
}

// BatchProgress is a consistent point-in-time view derived from the job
// table. It is recomputed on demand, never stored.
type BatchProgress struct {
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Fraction  float64  `json:"fraction"`
	Running   []string `json:"running"`
	Failed    []string `json:"failed"`
}

// AbortReason distinguishes batches which never dispatched a job.
type AbortReason string

const (
	AbortNone                AbortReason = ""
	AbortPrerequisiteMissing AbortReason = "prerequisite missing"
	AbortPreconditionFailed  AbortReason = "precondition failed"
	// AbortCancelled marks a batch whose context was cancelled during the
	// pre-dispatch checks; it says nothing about the checks themselves.
	AbortCancelled AbortReason = "cancelled"
)

// FailedJob records one job failure for the batch summary.
type FailedJob struct {
	Label      string `json:"label"`
	Diagnostic string `json:"diagnostic"`
}

// Summary is the single terminal outcome of a batch. Aborted is non-empty
// when the batch finished before dispatching any job.
type Summary struct {
	BatchID   string      `json:"batchId"`
	Aborted   AbortReason `json:"aborted,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    []FailedJob `json:"failed,omitempty"`
}

func (s Summary) String() string {
	if s.Aborted != AbortNone {
		return fmt.Sprintf("aborted before start: %s", s.Aborted)
	}
	if len(s.Failed) == 0 {
		return fmt.Sprintf("%d/%d succeeded", s.Succeeded, s.Total)
	}
	labels := make([]string, 0, len(s.Failed))
	for _, f := range s.Failed {
		labels = append(labels, f.Label)
	}
	return fmt.Sprintf("%d/%d succeeded, %d failed: %v", s.Succeeded, s.Total, len(s.Failed), labels)
}
