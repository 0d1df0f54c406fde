package runner_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caseworks/caserunner/internal/model"
	"github.com/caseworks/caserunner/internal/runner"

	"github.com/stretchr/testify/require"
)

func shPath(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func shSpec(t *testing.T, label, script string) model.CommandSpec {
	return model.CommandSpec{
		Label:      label,
		Executable: shPath(t),
		Args:       []string{"-c", script},
	}
}

func TestExecuteLines(t *testing.T) {
	t.Parallel()
	spec := shSpec(t, "lines", "echo one; echo two 1>&2; printf 'partial'")

	var lines []string
	err := runner.New().Execute(t.Context(), spec, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two", "partial"}, lines)
}

func TestExecuteCarriageReturns(t *testing.T) {
	t.Parallel()
	spec := shSpec(t, "cr", `printf '10%%\r20%%\r\ndone\n'`)

	var lines []string
	err := runner.New().Execute(t.Context(), spec, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"10%", "20%", "done"}, lines)
}

func TestExecuteStripsEscapes(t *testing.T) {
	t.Parallel()
	spec := shSpec(t, "ansi", `printf '\033[32mgreen\033[0m \033[1K\n'`)

	var lines []string
	err := runner.New().Execute(t.Context(), spec, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"green"}, lines)
}

func TestExecuteReplacesInvalidBytes(t *testing.T) {
	t.Parallel()
	spec := shSpec(t, "latin1", `printf 'caf\351\n'`)

	var lines []string
	err := runner.New().Execute(t.Context(), spec, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.True(t, strings.HasPrefix(lines[0], "caf"))
	require.Contains(t, lines[0], "�")
}

func TestExecuteNonZeroExit(t *testing.T) {
	t.Parallel()
	spec := shSpec(t, "boom", "echo some context 1>&2; exit 2")

	err := runner.New().Execute(t.Context(), spec, nil)
	require.Error(t, err)

	var jobErr *model.JobError
	require.ErrorAs(t, err, &jobErr)
	require.Equal(t, "boom", jobErr.Label)
	require.Equal(t, 2, jobErr.ExitCode)
	require.Contains(t, jobErr.Tail, "some context")
}

func TestExecuteTailBounded(t *testing.T) {
	t.Parallel()
	spec := shSpec(t, "chatty", `i=0; while [ $i -lt 200 ]; do echo "line $i"; i=$((i+1)); done; exit 1`)

	err := runner.New().WithTailLimit(256).Execute(t.Context(), spec, nil)
	var jobErr *model.JobError
	require.ErrorAs(t, err, &jobErr)
	require.LessOrEqual(t, len(jobErr.Tail), 256)
	require.Contains(t, jobErr.Tail, "line 199")
	require.NotContains(t, jobErr.Tail, "line 0\n")
}

func TestExecuteMissingBinary(t *testing.T) {
	t.Parallel()
	spec := model.CommandSpec{
		Label:      "ghost",
		Executable: filepath.Join(t.TempDir(), "no-such-tool"),
	}
	err := runner.New().Execute(t.Context(), spec, nil)
	require.Error(t, err)
	var jobErr *model.JobError
	require.False(t, errors.As(err, &jobErr))
}

func TestExecuteCapturesArtifact(t *testing.T) {
	t.Parallel()
	artifact := filepath.Join(t.TempDir(), "memory", "pslist.csv")
	spec := shSpec(t, "pslist", "echo PID,Name; echo 4,System")
	spec.CaptureStdout = true
	spec.OutputArtifact = artifact

	err := runner.New().Execute(t.Context(), spec, nil)
	require.NoError(t, err)

	content, err := os.ReadFile(artifact)
	require.NoError(t, err)
	require.Equal(t, "PID,Name\n4,System\n", string(content))
}

func TestExecuteNoArtifactOnFailure(t *testing.T) {
	t.Parallel()
	artifact := filepath.Join(t.TempDir(), "memory", "psscan.csv")
	spec := shSpec(t, "psscan", "echo nope; exit 3")
	spec.CaptureStdout = true
	spec.OutputArtifact = artifact

	err := runner.New().Execute(t.Context(), spec, nil)
	require.Error(t, err)
	_, statErr := os.Stat(artifact)
	require.True(t, os.IsNotExist(statErr))
}

func TestExecuteCancellation(t *testing.T) {
	t.Parallel()
	spec := shSpec(t, "sleeper", "echo started; sleep 30")

	ctx, cancel := context.WithCancel(t.Context())
	started := make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		done <- runner.New().Execute(ctx, spec, func(line string) {
			select {
			case started <- struct{}{}:
			default:
			}
		})
	}()

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("process never produced output")
	}
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not return after cancellation")
	}
}
