// Package runner executes an ordered list of shell steps in a working directory.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cabinet-fe/MiniDevOps/internal/procgroup"
)

type Status int

const (
	Succeeded Status = iota
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrTimeout marks a context cause as a timeout: an execution interrupted by it
// is Failed rather than Cancelled.
var ErrTimeout = errors.New("timed out")

// Outcome of one Run. StepIndex is the failing or interrupted step, -1 on success.
type Outcome struct {
	Status    Status
	StepIndex int
	Stderr    string
	Err       error
}

// Detail is the human readable failure text.
func (o Outcome) Detail() string {
	switch {
	case o.Status == Succeeded:
		return ""
	case o.Status == Cancelled:
		return "cancelled"
	case errors.Is(o.Err, ErrTimeout):
		if tail := strings.TrimSpace(o.Stderr); tail != "" {
			return o.Err.Error() + ": " + tail
		}
		return o.Err.Error()
	case strings.TrimSpace(o.Stderr) != "":
		return strings.TrimSpace(o.Stderr)
	case o.Err != nil:
		return o.Err.Error()
	default:
		return "failed"
	}
}

const (
	DefaultShell     = "sh"
	DefaultKillGrace = procgroup.DefaultGrace
	maxStderr        = 64 << 10
)

// Runner is safe for concurrent use; each Run owns its processes.
type Runner struct {
	Shell       string
	KillGrace   time.Duration // SIGTERM to SIGKILL delay on interruption
	StepTimeout time.Duration // 0 means none
}

func New(shell string, killGrace, stepTimeout time.Duration) *Runner {
	return &Runner{Shell: shell, KillGrace: killGrace, StepTimeout: stepTimeout}
}

func (r *Runner) shell() string {
	if r.Shell == "" {
		return DefaultShell
	}
	return r.Shell
}

func (r *Runner) grace() time.Duration {
	if r.KillGrace <= 0 {
		return DefaultKillGrace
	}
	return r.KillGrace
}

// Run executes steps in order and stops at the first failure. Cancelling ctx
// terminates the running step's whole process group. Every step's group is
// killed once its shell exits, so background children never outlive the step.
// Step output is copied to out, which may be nil.
func (r *Runner) Run(ctx context.Context, steps []string, dir string, out io.Writer) Outcome {
	if out == nil {
		out = io.Discard
	}
	out = &lockedWriter{w: out}
	for i, step := range steps {
		if ctx.Err() != nil {
			return Interrupted(ctx, i)
		}
		fmt.Fprintf(out, "$ %s\n", step)
		stderr, err := r.runStep(ctx, step, dir, out)
		if ctx.Err() != nil {
			return Interrupted(ctx, i)
		}
		if err != nil {
			return Outcome{Status: Failed, StepIndex: i, Stderr: stderr, Err: fmt.Errorf("step %d %q: %w", i+1, step, err)}
		}
	}
	return Outcome{Status: Succeeded, StepIndex: -1}
}

// Interrupted classifies an execution stopped by ctx at step idx.
func Interrupted(ctx context.Context, idx int) Outcome {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrTimeout) || errors.Is(cause, context.DeadlineExceeded) {
		return Outcome{Status: Failed, StepIndex: idx, Err: cause}
	}
	return Outcome{Status: Cancelled, StepIndex: idx, Err: cause}
}

func (r *Runner) runStep(ctx context.Context, step, dir string, out io.Writer) (string, error) {
	stepCtx := ctx
	if r.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeoutCause(ctx, r.StepTimeout, fmt.Errorf("step %w after %s", ErrTimeout, r.StepTimeout))
		defer cancel()
	}

	stderr := &tailBuffer{max: maxStderr}
	cmd := exec.CommandContext(stepCtx, r.shell(), "-c", step)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = io.MultiWriter(stderr, out)

	// 进程组: 取消时连同后台子进程一起终止
	err := procgroup.Run(cmd, r.grace())
	if err != nil && stepCtx.Err() != nil && ctx.Err() == nil {
		err = context.Cause(stepCtx)
	}
	return stderr.String(), err
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
