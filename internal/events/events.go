// Package events defines the push interface through which observers (CLI,
// progress endpoint, tests) follow a batch, and a bounded replay buffer for
// pull-based consumers.
package events

import (
	"sync"
	"time"

	"github.com/caseworks/caserunner/internal/model"
)

// Sink receives batch lifecycle notifications. Calls arrive from a single
// goroutine in causal order per job; implementations must not block for
// long, they are on the orchestrator's hot path.
type Sink interface {
	BatchStarted(batch model.Batch)
	JobStarted(label string)
	OutputLine(label, line string)
	JobFinished(label string, err error)
	BatchFinished(summary model.Summary)
}

// Multi fans every notification out to each sink in order.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) BatchStarted(batch model.Batch) {
	for _, s := range m {
		s.BatchStarted(batch)
	}
}

func (m multiSink) JobStarted(label string) {
	for _, s := range m {
		s.JobStarted(label)
	}
}

func (m multiSink) OutputLine(label, line string) {
	for _, s := range m {
		s.OutputLine(label, line)
	}
}

func (m multiSink) JobFinished(label string, err error) {
	for _, s := range m {
		s.JobFinished(label, err)
	}
}

func (m multiSink) BatchFinished(summary model.Summary) {
	for _, s := range m {
		s.BatchFinished(summary)
	}
}

// Nop discards every notification.
type Nop struct{}

func (Nop) BatchStarted(model.Batch)        {}
func (Nop) JobStarted(string)               {}
func (Nop) OutputLine(string, string)       {}
func (Nop) JobFinished(string, error)       {}
func (Nop) BatchFinished(model.Summary)     {}

// Type classifies buffered events.
type Type string

const (
	TypeBatchStarted  Type = "batch_started"
	TypeJobStarted    Type = "job_started"
	TypeOutputLine    Type = "output_line"
	TypeJobFinished   Type = "job_finished"
	TypeBatchFinished Type = "batch_finished"
)

// Event is one sequenced record kept by the Buffer.
type Event struct {
	Seq        int64          `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       Type           `json:"type"`
	Batch      string         `json:"batch,omitempty"`
	Label      string         `json:"label,omitempty"`
	Line       string         `json:"line,omitempty"`
	Diagnostic string         `json:"diagnostic,omitempty"`
	Summary    *model.Summary `json:"summary,omitempty"`
}

// Buffer is a Sink keeping the most recent events for incremental reads. It
// lets a pull-based consumer (the status endpoint) replay what it missed.
type Buffer struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewBuffer creates a bounded in-memory event buffer.
func NewBuffer(maxEvents int) *Buffer {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Buffer{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

func (b *Buffer) publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	event.Timestamp = time.Now().UTC()

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}
}

// Since returns events with sequence strictly greater than seq.
func (b *Buffer) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}
	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

func (b *Buffer) BatchStarted(batch model.Batch) {
	b.publish(Event{Type: TypeBatchStarted, Batch: batch.ID})
}

func (b *Buffer) JobStarted(label string) {
	b.publish(Event{Type: TypeJobStarted, Label: label})
}

func (b *Buffer) OutputLine(label, line string) {
	b.publish(Event{Type: TypeOutputLine, Label: label, Line: line})
}

func (b *Buffer) JobFinished(label string, err error) {
	event := Event{Type: TypeJobFinished, Label: label}
	if err != nil {
		event.Diagnostic = err.Error()
	}
	b.publish(event)
}

func (b *Buffer) BatchFinished(summary model.Summary) {
	b.publish(Event{Type: TypeBatchFinished, Batch: summary.BatchID, Summary: &summary})
}
