// Package procgroup runs commands in their own process group so that
// cancellation reaches every process they spawned.
package procgroup

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

const DefaultGrace = 5 * time.Second

// Supervise prepares cmd before Start. Once the command's context is done the
// group gets SIGTERM, then SIGKILL after grace; Wait gives up on inherited
// pipes after grace too. The returned reap must run after Wait: it kills what
// is left of the group.
func Supervise(cmd *exec.Cmd, grace time.Duration) (reap func()) {
	if grace <= 0 {
		grace = DefaultGrace
	}
	setProcessGroup(cmd)

	var (
		mu     sync.Mutex
		killer *time.Timer
	)
	cmd.Cancel = func() error {
		pid := cmd.Process.Pid
		mu.Lock()
		killer = time.AfterFunc(grace, func() { killGroup(pid) })
		mu.Unlock()
		return terminateGroup(cmd)
	}
	cmd.WaitDelay = grace

	return func() {
		if cmd.Process != nil {
			killGroup(cmd.Process.Pid)
		}
		mu.Lock()
		if killer != nil {
			killer.Stop()
		}
		mu.Unlock()
	}
}

// Run starts cmd under Supervise and waits for it. A command that exited
// cleanly while a background child still held its pipes counts as success.
func Run(cmd *exec.Cmd, grace time.Duration) error {
	reap := Supervise(cmd, grace)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn: %w", err)
	}
	err := cmd.Wait()
	reap()
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		return nil
	}
	return err
}
