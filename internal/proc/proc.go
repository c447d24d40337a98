// Package proc runs health-check subprocesses with a hard timeout. Children
// get their own process group so a timeout kill takes the whole tree down,
// and output is captured rather than streamed.
package proc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Result is the captured outcome of one bounded run.
type Result struct {
	Output   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Run executes name+args in dir with the given timeout. A timeout is a
// failure, not a hang: the process group is killed and TimedOut is set.
func Run(ctx context.Context, dir string, timeout time.Duration, log *zap.Logger, name string, args ...string) (*Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	res := &Result{}
	select {
	case err := <-done:
		res.Duration = time.Since(start)
		res.Output = buf.String()
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if err != nil {
			return res, err
		}
		return res, nil
	case <-ctx.Done():
		// Kill the whole group, then reap.
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		res.Duration = time.Since(start)
		res.Output = buf.String()
		res.TimedOut = true
		res.ExitCode = -1
		log.Warn("subprocess timed out",
			zap.String("command", name), zap.Duration("timeout", timeout))
		return res, nil
	}
}
