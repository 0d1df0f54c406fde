package events_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/caseworks/caserunner/internal/events"
	"github.com/caseworks/caserunner/internal/model"

	"github.com/stretchr/testify/require"
)

func TestBufferSequencing(t *testing.T) {
	t.Parallel()
	b := events.NewBuffer(10)
	b.BatchStarted(model.Batch{ID: "b-1"})
	b.JobStarted("evtx")
	b.OutputLine("evtx", "processing records")
	b.JobFinished("evtx", nil)
	b.BatchFinished(model.Summary{BatchID: "b-1", Total: 1, Succeeded: 1})

	all := b.Since(0)
	require.Len(t, all, 5)
	for i, event := range all {
		require.Equal(t, int64(i+1), event.Seq)
		require.False(t, event.Timestamp.IsZero())
	}
	require.Equal(t, events.TypeBatchStarted, all[0].Type)
	require.Equal(t, "b-1", all[0].Batch)
	require.Equal(t, "processing records", all[2].Line)
	require.Empty(t, all[3].Diagnostic)
	require.NotNil(t, all[4].Summary)
	require.Equal(t, 1, all[4].Summary.Succeeded)
}

func TestBufferSince(t *testing.T) {
	t.Parallel()
	b := events.NewBuffer(10)
	b.JobStarted("a")
	b.JobStarted("b")
	b.JobStarted("c")

	require.Len(t, b.Since(0), 3)
	tail := b.Since(2)
	require.Len(t, tail, 1)
	require.Equal(t, "c", tail[0].Label)
	require.Empty(t, b.Since(3))
}

func TestBufferBounded(t *testing.T) {
	t.Parallel()
	b := events.NewBuffer(3)
	for i := range 10 {
		b.OutputLine("job", fmt.Sprintf("line %d", i))
	}
	all := b.Since(0)
	require.Len(t, all, 3)
	require.Equal(t, "line 7", all[0].Line)
	require.Equal(t, int64(10), all[2].Seq)
}

func TestBufferJobFailure(t *testing.T) {
	t.Parallel()
	b := events.NewBuffer(10)
	b.JobFinished("mft", errors.New("exit code 2"))
	all := b.Since(0)
	require.Len(t, all, 1)
	require.Equal(t, "exit code 2", all[0].Diagnostic)
}

type countingSink struct {
	events.Nop
	lines int
}

func (c *countingSink) OutputLine(string, string) { c.lines++ }

func TestMulti(t *testing.T) {
	t.Parallel()
	first := &countingSink{}
	second := &countingSink{}
	sink := events.Multi(first, second)
	sink.OutputLine("a", "x")
	sink.OutputLine("a", "y")
	require.Equal(t, 2, first.lines)
	require.Equal(t, 2, second.lines)
}
