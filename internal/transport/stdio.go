package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.router/internal/concurrency"
	"dev.helix.router/internal/jsonrpc"
)

// StdioConfig configures a subprocess-backed MCP server.
type StdioConfig struct {
	Name        string
	Command     []string
	Env         map[string]string
	Timeout     time.Duration
	MaxRestarts int
}

// DefaultStdioConfig fills in the router's default timeout and restart
// ceiling, leaving Name/Command/Env for the caller to set.
func DefaultStdioConfig(name string, command []string) StdioConfig {
	return StdioConfig{
		Name:        name,
		Command:     command,
		Timeout:     30 * time.Second,
		MaxRestarts: 3,
	}
}

// StdioAdapter wraps a subprocess MCP server that speaks newline-delimited
// JSON-RPC over stdin/stdout. Requests are serialized through a mutex
// because most STDIO servers cannot multiplex concurrent requests over a
// single pair of pipes.
type StdioAdapter struct {
	cfg    StdioConfig
	log    *logrus.Entry
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  *bufio.Writer
	stdout *bufio.Reader
	stderr *concurrency.BackgroundTask

	restartCount int32
	nextID       int64
}

// NewStdioAdapter constructs an adapter in the stopped state; call Start to
// spawn the subprocess.
func NewStdioAdapter(cfg StdioConfig, log *logrus.Logger) *StdioAdapter {
	if log == nil {
		log = logrus.New()
	}
	return &StdioAdapter{
		cfg: cfg,
		log: log.WithField("server", cfg.Name),
	}
}

// Start spawns the subprocess and begins draining its stderr in the
// background. Callers must hold no lock; Start takes its own.
func (a *StdioAdapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startLocked()
}

func (a *StdioAdapter) startLocked() error {
	if len(a.cfg.Command) == 0 {
		return fmt.Errorf("stdio adapter %s: empty command", a.cfg.Name)
	}

	cmd := exec.Command(a.cfg.Command[0], a.cfg.Command[1:]...)
	cmd.Env = os.Environ()
	for k, v := range a.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdio adapter %s: stdin pipe: %w", a.cfg.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdio adapter %s: stdout pipe: %w", a.cfg.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stdio adapter %s: stderr pipe: %w", a.cfg.Name, err)
	}

	a.log.Infof("starting stdio server: %v", a.cfg.Command)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("stdio adapter %s: start: %w", a.cfg.Name, err)
	}

	a.cmd = cmd
	a.stdin = bufio.NewWriter(stdin)
	a.stdout = bufio.NewReader(stdout)

	a.stderr = concurrency.NewBackgroundTask(func(ctx context.Context) {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			a.log.Debugf("[%s] %s", a.cfg.Name, scanner.Text())
		}
	})
	a.stderr.Start()

	a.log.Infof("stdio server %s started (pid %d)", a.cfg.Name, cmd.Process.Pid)
	return nil
}

// isHealthyLocked reports whether the subprocess is running. Caller must
// hold a.mu.
func (a *StdioAdapter) isHealthyLocked() bool {
	return a.cmd != nil && a.cmd.Process != nil && (a.cmd.ProcessState == nil || !a.cmd.ProcessState.Exited())
}

// Call sends req to the subprocess and waits for the matching response,
// restarting the process first if it is not currently running.
func (a *StdioAdapter) Call(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isHealthyLocked() {
		if err := a.restartLocked(); err != nil {
			return nil, err
		}
	}

	if req.ID == nil {
		req.ID = atomic.AddInt64(&a.nextID, 1)
	}

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("stdio adapter %s: encode request: %w", a.cfg.Name, err)
	}

	if _, err := a.stdin.Write(append(line, '\n')); err != nil {
		_ = a.restartLocked()
		return nil, fmt.Errorf("stdio adapter %s: write: %w", a.cfg.Name, err)
	}
	if err := a.stdin.Flush(); err != nil {
		_ = a.restartLocked()
		return nil, fmt.Errorf("stdio adapter %s: flush: %w", a.cfg.Name, err)
	}

	type readResult struct {
		line []byte
		err  error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		l, err := a.stdout.ReadBytes('\n')
		resultCh <- readResult{l, err}
	}()

	timeout := a.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			_ = a.restartLocked()
			return nil, fmt.Errorf("stdio adapter %s: closed connection: %w", a.cfg.Name, res.err)
		}
		var resp jsonrpc.Response
		if err := json.Unmarshal(res.line, &resp); err != nil {
			return nil, fmt.Errorf("stdio adapter %s: invalid response: %w", a.cfg.Name, err)
		}
		return &resp, nil

	case <-time.After(timeout):
		a.log.Errorf("server %s timed out after %s", a.cfg.Name, timeout)
		_ = a.restartLocked()
		return nil, fmt.Errorf("stdio adapter %s: timed out after %s", a.cfg.Name, timeout)

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// restartLocked stops and restarts the subprocess, honoring MaxRestarts.
// Caller must hold a.mu.
func (a *StdioAdapter) restartLocked() error {
	max := a.cfg.MaxRestarts
	if max <= 0 {
		max = 3
	}
	if int(a.restartCount) >= max {
		return fmt.Errorf("stdio adapter %s: exceeded max restarts (%d)", a.cfg.Name, max)
	}

	a.log.Warnf("restarting %s (attempt %d/%d)", a.cfg.Name, a.restartCount+1, max)

	a.stopLocked()
	a.restartCount++
	return a.startLocked()
}

// stopLocked gracefully terminates the subprocess, killing it if it does
// not exit within 5 seconds. Caller must hold a.mu.
func (a *StdioAdapter) stopLocked() {
	if a.cmd == nil || a.cmd.Process == nil {
		return
	}

	a.log.Infof("stopping stdio server %s", a.cfg.Name)

	done := make(chan error, 1)
	_ = a.cmd.Process.Signal(os.Interrupt)
	go func() { done <- a.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		a.log.Warnf("force killing %s", a.cfg.Name)
		_ = a.cmd.Process.Kill()
		<-done
	}

	a.cmd = nil

	// The process has exited, so its stderr pipe is at EOF and the drain
	// goroutine's Scan() has already returned or is about to; Stop() won't
	// block on a live pipe read. Draining is advisory, so don't wait for it
	// at all if it's somehow still running - a stuck drain must never
	// prevent the process from restarting or the adapter from closing.
	if a.stderr != nil {
		stderr := a.stderr
		a.stderr = nil
		go stderr.Stop()
	}
}

// Close stops the subprocess permanently.
func (a *StdioAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	return nil
}

// ResetRestartCount clears the restart counter after a sustained healthy
// period, mirroring the recovery bookkeeping of the circuit breaker.
func (a *StdioAdapter) ResetRestartCount() {
	atomic.StoreInt32(&a.restartCount, 0)
}

// Status reports the adapter's current health.
func (a *StdioAdapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{
		Name:         a.cfg.Name,
		Kind:         "stdio",
		Healthy:      a.isHealthyLocked(),
		RestartCount: int(a.restartCount),
		MaxRestarts:  a.cfg.MaxRestarts,
	}
	if a.cmd != nil && a.cmd.Process != nil {
		st.PID = a.cmd.Process.Pid
	}
	return st
}
