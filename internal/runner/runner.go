// Package runner executes one command spec as a child process, streaming its
// merged output line by line and turning a non-zero exit into a bounded
// diagnostic.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caseworks/caserunner/internal/model"
)

// terminal control/formatting escapes some tools emit for interactive runs
var ansiRE = regexp.MustCompile(`(?:\x9B|\x1B\[)[0-?]*[ -/]*[@-~]`)

const (
	defaultTailLimit = 4 * 1024
	waitDelay        = 5 * time.Second
)

// LineFunc receives one cleaned output line. Lines of a single job arrive in
// stream order.
type LineFunc func(line string)

type Runner struct {
	tailLimit int
}

func New() *Runner {
	return &Runner{tailLimit: defaultTailLimit}
}

// WithTailLimit bounds the diagnostic tail kept for failing jobs.
func (r *Runner) WithTailLimit(n int) *Runner {
	if n > 0 {
		r.tailLimit = n
	}
	return r
}

// Execute spawns the spec's process with stdout and stderr merged into one
// stream and delivers complete lines to onLine as they arrive. Lines are
// terminated by CR or LF; a final unterminated line is still delivered.
// Escape sequences are stripped and malformed byte sequences replaced rather
// than failing the job.
//
// A zero exit returns nil, persisting the captured text to the spec's
// artifact first when the spec asks for capture. A non-zero exit returns a
// *model.JobError carrying the exit code and the bounded output tail. When
// ctx is cancelled the child is killed best-effort and the context error is
// returned.
func (r *Runner) Execute(ctx context.Context, spec model.CommandSpec, onLine LineFunc) error {
	cmd := exec.CommandContext(ctx, spec.Executable, spec.Args...)
	// force UTF-8 output from tools honoring these knobs
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8", "PYTHONUTF8=1")
	cmd.WaitDelay = waitDelay

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	slog.DebugContext(ctx, "launching",
		"label", spec.Label,
		"path", spec.Executable,
		"args", spec.Args,
	)

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return fmt.Errorf("starting %s: %w", spec.Label, err)
	}
	// child holds its own copy of the write end
	_ = pw.Close()

	tail := newTail(r.tailLimit)
	var captured bytes.Buffer

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanCRLF)
	for scanner.Scan() {
		line := cleanLine(scanner.Text())
		tail.add(line)
		if spec.CaptureStdout {
			captured.WriteString(line)
			captured.WriteByte('\n')
		}
		if onLine != nil {
			onLine(line)
		}
	}
	if serr := scanner.Err(); serr != nil {
		slog.DebugContext(ctx, "reading process output", "label", spec.Label, "error", serr)
	}
	_ = pr.Close()

	waitErr := cmd.Wait()
	if waitErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &model.JobError{
				Label:    spec.Label,
				ExitCode: exitErr.ExitCode(),
				Tail:     tail.String(),
			}
		}
		return fmt.Errorf("running %s: %w", spec.Label, waitErr)
	}

	if spec.CaptureStdout && spec.OutputArtifact != "" {
		if err := os.MkdirAll(filepath.Dir(spec.OutputArtifact), 0o755); err != nil {
			return fmt.Errorf("creating artifact directory for %s: %w", spec.Label, err)
		}
		if err := os.WriteFile(spec.OutputArtifact, captured.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing artifact for %s: %w", spec.Label, err)
		}
	}
	return nil
}

// cleanLine makes one raw line printable: best-effort decode, escape
// stripping, trailing whitespace removal.
func cleanLine(raw string) string {
	s := strings.ToValidUTF8(raw, "�")
	s = ansiRE.ReplaceAllString(s, "")
	return strings.TrimRight(s, " \t")
}

// scanCRLF splits on CR, LF or CRLF so that progress output rewritten with
// bare carriage returns still arrives as individual lines. The final
// unterminated chunk is returned at EOF.
func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		// CR: consume a directly following LF as part of the terminator
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// need one more byte to tell CRLF from bare CR
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tail keeps the last max bytes of output, enough to explain a failure
// without buffering a runaway tool.
type tail struct {
	max int
	buf []byte
}

func newTail(max int) *tail {
	return &tail{max: max}
}

func (t *tail) add(line string) {
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append([]byte(nil), t.buf[over:]...)
	}
}

func (t *tail) String() string {
	return strings.TrimSuffix(string(t.buf), "\n")
}
