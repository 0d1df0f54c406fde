package tracker_test

import (
	"testing"

	"github.com/caseworks/caserunner/internal/model"
	"github.com/caseworks/caserunner/internal/tracker"

	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	t.Parallel()
	tr := tracker.New([]string{"amcache", "prefetch"})

	state, ok := tr.State("amcache")
	require.True(t, ok)
	require.Equal(t, model.StatusPending, state.Status)

	tr.Transition("amcache", model.StatusRunning, "")
	tr.Transition("amcache", model.StatusSucceeded, "")
	tr.Transition("prefetch", model.StatusRunning, "")
	tr.Transition("prefetch", model.StatusFailed, "exit code 2")

	state, _ = tr.State("prefetch")
	require.Equal(t, model.StatusFailed, state.Status)
	require.Equal(t, "exit code 2", state.Diagnostic)
	require.Empty(t, tr.NonTerminal())
}

func TestIllegalTransitionsPanic(t *testing.T) {
	t.Parallel()
	for name, steps := range map[string][]model.JobStatus{
		"pending to succeeded":   {model.StatusSucceeded},
		"succeeded to running":   {model.StatusRunning, model.StatusSucceeded, model.StatusRunning},
		"failed to running":      {model.StatusRunning, model.StatusFailed, model.StatusRunning},
		"succeeded to failed":    {model.StatusRunning, model.StatusSucceeded, model.StatusFailed},
		"running after terminal": {model.StatusRunning, model.StatusFailed, model.StatusFailed},
	} {
		t.Run(name, func(t *testing.T) {
			tr := tracker.New([]string{"evtx"})
			require.Panics(t, func() {
				for _, status := range steps {
					tr.Transition("evtx", status, "")
				}
			})
		})
	}
}

func TestUnknownLabelPanics(t *testing.T) {
	t.Parallel()
	tr := tracker.New([]string{"evtx"})
	require.Panics(t, func() {
		tr.Transition("mft", model.StatusRunning, "")
	})
}

func TestDuplicateLabelPanics(t *testing.T) {
	t.Parallel()
	require.Panics(t, func() {
		tracker.New([]string{"evtx", "evtx"})
	})
}

func TestCancelledBeforeDispatch(t *testing.T) {
	t.Parallel()
	tr := tracker.New([]string{"pslist"})
	tr.Transition("pslist", model.StatusFailed, "cancelled")
	state, _ := tr.State("pslist")
	require.Equal(t, model.StatusFailed, state.Status)
	require.Equal(t, "cancelled", state.Diagnostic)
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	tr := tracker.New([]string{"a", "b", "c", "d"})
	tr.Transition("a", model.StatusRunning, "")
	tr.Transition("a", model.StatusSucceeded, "")
	tr.Transition("b", model.StatusRunning, "")
	tr.Transition("c", model.StatusRunning, "")
	tr.Transition("c", model.StatusFailed, "exit code 1")

	progress := tr.Snapshot()
	require.Equal(t, 4, progress.Total)
	require.Equal(t, 2, progress.Completed)
	require.InDelta(t, 0.5, progress.Fraction, 1e-9)
	require.Equal(t, []string{"b"}, progress.Running)
	require.Equal(t, []string{"c"}, progress.Failed)
}

func TestSnapshotEmpty(t *testing.T) {
	t.Parallel()
	progress := tracker.New(nil).Snapshot()
	require.Zero(t, progress.Total)
	require.Zero(t, progress.Fraction)
}
