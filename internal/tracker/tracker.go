// Package tracker maintains the in-memory lifecycle table of one batch and
// derives progress snapshots from it.
package tracker

import (
	"fmt"
	"sync"

	"github.com/caseworks/caserunner/internal/model"
)

// Tracker maps job labels to their lifecycle state. Transitions are applied
// by a single writer (the orchestrator's consume loop); snapshots may be
// taken from any goroutine.
type Tracker struct {
	mu     sync.RWMutex
	order  []string
	states map[string]model.JobState
}

// New creates a tracker with every label Pending. Labels must be unique
// within the batch.
func New(labels []string) *Tracker {
	states := make(map[string]model.JobState, len(labels))
	order := make([]string, 0, len(labels))
	for _, label := range labels {
		if _, dup := states[label]; dup {
			panic(fmt.Sprintf("tracker: duplicate job label %q", label))
		}
		states[label] = model.JobState{Status: model.StatusPending}
		order = append(order, label)
	}
	return &Tracker{
		order:  order,
		states: states,
	}
}

// Transition moves one job to a new status. An unknown label or a move the
// lifecycle does not allow is a programming error and panics: jobs go
// Pending → Running → Succeeded|Failed, with Pending → Failed additionally
// allowed so never-dispatched jobs can be failed on cancellation. Terminal
// states are never left.
func (t *Tracker) Transition(label string, status model.JobStatus, diagnostic string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[label]
	if !ok {
		panic(fmt.Sprintf("tracker: transition of unknown job %q", label))
	}
	if !legal(state.Status, status) {
		panic(fmt.Sprintf("tracker: illegal transition %s -> %s for job %q", state.Status, status, label))
	}
	if status != model.StatusFailed {
		diagnostic = ""
	}
	t.states[label] = model.JobState{Status: status, Diagnostic: diagnostic}
}

func legal(from, to model.JobStatus) bool {
	switch from {
	case model.StatusPending:
		return to == model.StatusRunning || to == model.StatusFailed
	case model.StatusRunning:
		return to == model.StatusSucceeded || to == model.StatusFailed
	default:
		return false
	}
}

// State returns the current state of one job.
func (t *Tracker) State(label string) (model.JobState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.states[label]
	return state, ok
}

// NonTerminal returns, in batch order, the labels which have not reached an
// end state yet.
func (t *Tracker) NonTerminal() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var labels []string
	for _, label := range t.order {
		if !t.states[label].Status.Terminal() {
			labels = append(labels, label)
		}
	}
	return labels
}

// Snapshot derives the batch progress in one consistent read: completed
// count, running set and failed set all reflect the same instant.
func (t *Tracker) Snapshot() model.BatchProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	progress := model.BatchProgress{Total: len(t.order)}
	for _, label := range t.order {
		switch t.states[label].Status {
		case model.StatusRunning:
			progress.Running = append(progress.Running, label)
		case model.StatusSucceeded:
			progress.Completed++
		case model.StatusFailed:
			progress.Completed++
			progress.Failed = append(progress.Failed, label)
		}
	}
	if progress.Total > 0 {
		progress.Fraction = float64(progress.Completed) / float64(progress.Total)
	}
	return progress
}
