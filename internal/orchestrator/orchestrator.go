// Package orchestrator drives one batch of external commands from start to
// summary: provisioning gate, precondition probe, then dispatch under the
// batch's topology with a single consumer owning all state updates and sink
// calls.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/caseworks/caserunner/internal/events"
	"github.com/caseworks/caserunner/internal/log"
	"github.com/caseworks/caserunner/internal/model"
	"github.com/caseworks/caserunner/internal/provision"
	"github.com/caseworks/caserunner/internal/runner"
	"github.com/caseworks/caserunner/internal/tracker"
)

// ProcessRunner executes one command spec, streaming cleaned output lines.
type ProcessRunner interface {
	Execute(ctx context.Context, spec model.CommandSpec, onLine runner.LineFunc) error
}

// Provisioner ensures a named tool's binary exists before the batch runs,
// installing it on demand.
type Provisioner interface {
	Ensure(ctx context.Context, tool string) (provision.Status, error)
}

type msgKind int

const (
	msgStarted msgKind = iota
	msgLine
	msgFinished
)

// jobMsg is one worker observation. Workers only send; the consume loop in
// Run is the sole writer of the tracker and the sole caller of the sink.
type jobMsg struct {
	label string
	kind  msgKind
	line  string
	err   error
}

type Orchestrator struct {
	runner ProcessRunner
	prov   Provisioner

	mu      sync.RWMutex
	current *tracker.Tracker
}

// New builds an orchestrator. prov may be nil when no batch carries a
// provisioning requirement.
func New(runner ProcessRunner, prov Provisioner) *Orchestrator {
	return &Orchestrator{
		runner: runner,
		prov:   prov,
	}
}

// Progress reports the current batch's consistent point-in-time progress.
// Zero before any batch started. Safe for concurrent use while Run executes.
func (o *Orchestrator) Progress() model.BatchProgress {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil {
		return model.BatchProgress{}
	}
	return o.current.Snapshot()
}

// Run executes the batch to completion and returns its summary. Failing jobs
// never stop their siblings; the returned error is non-nil only when the
// batch aborted before dispatch or the context was cancelled. Exactly one
// BatchFinished is delivered to the sink per call, on every path.
func (o *Orchestrator) Run(ctx context.Context, batch model.Batch, sink events.Sink) (model.Summary, error) {
	if sink == nil {
		sink = events.Nop{}
	}
	ctx = log.ContextAttrs(ctx, slog.String("batch_id", batch.ID))

	slog.InfoContext(ctx, "batch started",
		"jobs", len(batch.Specs),
		"topology", batch.Topology.String(),
	)
	sink.BatchStarted(batch)

	if summary, err := o.gate(ctx, batch, sink); err != nil {
		slog.WarnContext(ctx, "batch aborted", "reason", summary.Aborted, "detail", summary.Detail)
		sink.BatchFinished(summary)
		return summary, err
	}

	trk := tracker.New(labels(batch.Specs))
	o.mu.Lock()
	o.current = trk
	o.mu.Unlock()

	msgs := make(chan jobMsg)
	go o.dispatch(ctx, batch, msgs)

	for msg := range msgs {
		switch msg.kind {
		case msgStarted:
			trk.Transition(msg.label, model.StatusRunning, "")
			slog.InfoContext(ctx, "job started", "job", msg.label)
			sink.JobStarted(msg.label)
		case msgLine:
			sink.OutputLine(msg.label, msg.line)
		case msgFinished:
			if msg.err == nil {
				trk.Transition(msg.label, model.StatusSucceeded, "")
			} else {
				trk.Transition(msg.label, model.StatusFailed, diagnose(msg.err))
			}
			slog.InfoContext(ctx, "job finished", "job", msg.label, "error", msg.err)
			sink.JobFinished(msg.label, msg.err)
		}
	}

	// jobs the dispatcher never started because the context was cancelled
	for _, label := range trk.NonTerminal() {
		trk.Transition(label, model.StatusFailed, "cancelled")
		sink.JobFinished(label, context.Cause(ctx))
	}

	summary := summarize(batch, trk)
	slog.InfoContext(ctx, "batch finished", "summary", summary.String())
	sink.BatchFinished(summary)
	return summary, ctx.Err()
}

// gate runs the pre-dispatch checks: binary provisioning, then the probe
// command. A non-nil error carries the abort summary alongside.
func (o *Orchestrator) gate(ctx context.Context, batch model.Batch, sink events.Sink) (model.Summary, error) {
	abort := func(reason model.AbortReason, detail string) model.Summary {
		return model.Summary{
			BatchID: batch.ID,
			Aborted: reason,
			Detail:  detail,
			Total:   len(batch.Specs),
		}
	}

	if batch.Requires != "" {
		if o.prov == nil {
			detail := fmt.Sprintf("no installer for required tool %s", batch.Requires)
			return abort(model.AbortPrerequisiteMissing, detail),
				fmt.Errorf("%s: %w", detail, model.ErrPrerequisiteMissing)
		}
		status, err := o.prov.Ensure(ctx, batch.Requires)
		if err != nil {
			if cerr := context.Cause(ctx); cerr != nil {
				detail := fmt.Sprintf("installing %s interrupted: %v", batch.Requires, cerr)
				return abort(model.AbortCancelled, detail), cerr
			}
			detail := fmt.Sprintf("installing %s: %v", batch.Requires, err)
			return abort(model.AbortPrerequisiteMissing, detail),
				fmt.Errorf("%s: %w", detail, model.ErrPrerequisiteMissing)
		}
		if status == provision.Declined {
			detail := fmt.Sprintf("%s required but installation declined", batch.Requires)
			return abort(model.AbortPrerequisiteMissing, detail),
				fmt.Errorf("%s: %w", detail, model.ErrPrerequisiteMissing)
		}
	}

	if batch.Probe != nil {
		probe := *batch.Probe
		slog.InfoContext(ctx, "running probe", "probe", probe.Label)
		err := o.runner.Execute(ctx, probe, func(line string) {
			sink.OutputLine(probe.Label, line)
		})
		if err != nil {
			// a cancelled probe says nothing about the precondition
			if cerr := context.Cause(ctx); cerr != nil {
				detail := fmt.Sprintf("probe %s interrupted: %v", probe.Label, cerr)
				return abort(model.AbortCancelled, detail), cerr
			}
			detail := fmt.Sprintf("probe %s: %v", probe.Label, err)
			return abort(model.AbortPreconditionFailed, detail),
				fmt.Errorf("%s: %w", detail, model.ErrPreconditionFailed)
		}
	}

	return model.Summary{}, nil
}

// dispatch feeds specs to workers in builder order, at most Limit running at
// once. Workers always return nil so a failing sibling never tears down the
// group; their outcome travels over msgs instead.
func (o *Orchestrator) dispatch(ctx context.Context, batch model.Batch, msgs chan<- jobMsg) {
	defer close(msgs)

	var g errgroup.Group
	g.SetLimit(batch.Topology.Limit())

	for _, spec := range batch.Specs {
		if ctx.Err() != nil {
			break
		}
		spec := spec
		g.Go(func() error {
			msgs <- jobMsg{label: spec.Label, kind: msgStarted}
			err := o.runner.Execute(ctx, spec, func(line string) {
				msgs <- jobMsg{label: spec.Label, kind: msgLine, line: line}
			})
			msgs <- jobMsg{label: spec.Label, kind: msgFinished, err: err}
			return nil
		})
	}
	_ = g.Wait()
}

func diagnose(err error) string {
	var jerr *model.JobError
	if errors.As(err, &jerr) {
		if jerr.Tail == "" {
			return fmt.Sprintf("exit code %d", jerr.ExitCode)
		}
		return fmt.Sprintf("exit code %d\n%s", jerr.ExitCode, jerr.Tail)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return err.Error()
}

func summarize(batch model.Batch, trk *tracker.Tracker) model.Summary {
	summary := model.Summary{
		BatchID: batch.ID,
		Total:   len(batch.Specs),
	}
	for _, spec := range batch.Specs {
		state, ok := trk.State(spec.Label)
		if !ok {
			continue
		}
		if state.Status == model.StatusSucceeded {
			summary.Succeeded++
			continue
		}
		summary.Failed = append(summary.Failed, model.FailedJob{
			Label:      spec.Label,
			Diagnostic: state.Diagnostic,
		})
	}
	return summary
}

func labels(specs []model.CommandSpec) []string {
	out := make([]string, 0, len(specs))
	for _, spec := range specs {
		out = append(out, spec.Label)
	}
	return out
}
