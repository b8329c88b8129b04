//go:build linux

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/moby/sys/reexec"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// stream is the parent's non-blocking read end of one child output pipe
type stream struct {
	name string
	fd   int
	buf  *cappedBuffer
	open bool
}

func (s *stream) close() {
	if s.open {
		_ = unix.Close(s.fd)
		s.open = false
	}
}

// readOnce reads one chunk. EOF or a hard read error ends the stream.
func (s *stream) readOnce() {
	var chunk [readChunkSize]byte
	n, err := unix.Read(s.fd, chunk[:])
	if n > 0 {
		_, _ = s.buf.Write(chunk[:n])
		return
	}
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return
	}
	s.close()
}

// newPipe returns a non-blocking read fd and a blocking write end for the child
func newPipe(name string) (int, *os.File, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return -1, nil, fmt.Errorf("failed to create %s pipe: %w", name, err)
	}
	if err := unix.SetNonblock(p[0], true); err != nil {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
		return -1, nil, fmt.Errorf("failed to set %s pipe non-blocking: %w", name, err)
	}
	return p[0], os.NewFile(uintptr(p[1]), name), nil
}

func anyOpen(streams []*stream) bool {
	for _, s := range streams {
		if s.open {
			return true
		}
	}
	return false
}

// pollOnce waits up to wait for any open stream to become readable and reads it
func pollOnce(streams []*stream, wait time.Duration) error {
	fds := make([]unix.PollFd, 0, len(streams))
	active := make([]*stream, 0, len(streams))
	for _, s := range streams {
		if s.open {
			fds = append(fds, unix.PollFd{Fd: int32(s.fd), Events: unix.POLLIN})
			active = append(active, s)
		}
	}
	if len(fds) == 0 {
		return nil
	}

	ms := int(wait / time.Millisecond)
	if ms <= 0 && wait > 0 {
		ms = 1
	}

	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return nil
	}

	for i := range fds {
		if fds[i].Revents != 0 {
			active[i].readOnce()
		}
	}
	return nil
}

func killGroup(p *os.Process) {
	// Setsid makes the child its own process group leader.
	if err := unix.Kill(-p.Pid, unix.SIGKILL); err != nil {
		_ = p.Kill()
	}
}

func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

//nolint:gocyclo,funlen // The supervision sequence reads best as one function
func (l *LocalExecutor) run(ctx context.Context, c *Command) (Result, error) {
	stdoutFd, stdoutW, err := newPipe("stdout")
	if err != nil {
		return Result{}, err
	}
	stderrFd, stderrW, err := newPipe("stderr")
	if err != nil {
		_ = unix.Close(stdoutFd)
		_ = stdoutW.Close()
		return Result{}, err
	}

	streams := []*stream{
		{name: "stdout", fd: stdoutFd, buf: newCappedBuffer(c.OutputLimitBytes), open: true},
		{name: "stderr", fd: stderrFd, buf: newCappedBuffer(c.OutputLimitBytes), open: true},
	}
	defer func() {
		for _, s := range streams {
			s.close()
		}
	}()

	cmd := reexec.Command(initArgs(c)...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdin = nil
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true

	start := time.Now()
	deadline := start.Add(c.Timeout)

	startErr := cmd.Start()
	// The child holds its own copies of the write ends.
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if startErr != nil {
		return Result{}, fmt.Errorf("failed to start sandboxed process: %w", startErr)
	}

	timedOut := false
	var loopErr error
	for anyOpen(streams) {
		if ctx.Err() != nil {
			loopErr = ctx.Err()
			break
		}
		now := time.Now()
		if !now.Before(deadline) {
			timedOut = true
			break
		}
		wait := min(l.pollInterval, deadline.Sub(now))
		if loopErr = pollOnce(streams, wait); loopErr != nil {
			break
		}
	}

	if timedOut || loopErr != nil {
		killGroup(cmd.Process)
	}

	if timedOut && anyOpen(streams) {
		drainDeadline := time.Now().Add(l.drainWindow)
		for anyOpen(streams) && time.Now().Before(drainDeadline) {
			if err := pollOnce(streams, min(100*time.Millisecond, time.Until(drainDeadline))); err != nil {
				break
			}
		}
	}

	waitCh := make(chan *os.ProcessState, 1)
	go func() {
		_ = cmd.Wait()
		waitCh <- cmd.ProcessState
	}()

	var state *os.ProcessState
	reaped := false
	if !timedOut && loopErr == nil {
		// Both pipes are closed but the child may still be running.
		timer := time.NewTimer(time.Until(deadline))
		select {
		case state = <-waitCh:
			reaped = true
		case <-timer.C:
			timedOut = true
			killGroup(cmd.Process)
		case <-ctx.Done():
			loopErr = ctx.Err()
			killGroup(cmd.Process)
		}
		timer.Stop()
	}

	if !reaped {
		select {
		case state = <-waitCh:
		case <-time.After(l.reapTimeout):
			_ = cmd.Process.Kill()
			select {
			case state = <-waitCh:
			case <-time.After(l.reapTimeout):
				l.logger.Warn("sandboxed process was not reaped", zap.Int("pid", cmd.Process.Pid))
			}
		}
	}

	if loopErr != nil {
		return Result{}, fmt.Errorf("sandboxed process supervision aborted: %w", loopErr)
	}

	code := exitCode(state)
	if timedOut {
		code = ExitCodeTimeout
	}

	stdout, stderr := streams[0].buf, streams[1].buf
	return Result{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		ExitCode:        code,
		TimedOut:        timedOut,
		DurationMS:      time.Since(start).Milliseconds(),
		TruncatedStdout: stdout.Truncated(),
		TruncatedStderr: stderr.Truncated(),
	}, nil
}
