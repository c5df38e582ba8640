package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Markers are assembled by the engine from two literals so an echoed
// statement never contains a complete marker.
const (
	markerHead = "__INDIASIM"
	okTag      = "_OK_"
	errTag     = "_ERR_"
	markerTail = "__"
)

const defaultQuitTimeout = 30 * time.Second

// EvalError is a statement the engine rejected.
type EvalError struct {
	Statement string
	Message   string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("engine error in %q: %s", e.Statement, e.Message)
}

// ProcessConfig describes how to start the engine REPL.
type ProcessConfig struct {
	Command     []string // executable and arguments
	Dir         string
	Env         []string // appended to the current environment
	QuitTimeout time.Duration
}

// ProcessEngine talks to an engine REPL over stdin and stdout. Each statement
// runs inside try/catch and reports completion with a numbered marker line.
type ProcessEngine struct {
	cfg   ProcessConfig
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	done  chan struct{}
	wait  error

	mu     sync.Mutex
	seq    int
	vars   atomic.Int64
	closed bool
	quit   sync.Once
}

// Starter returns a StartFunc that launches a ProcessEngine per call.
func Starter(cfg ProcessConfig) StartFunc {
	return func(ctx context.Context) (Engine, error) {
		return StartProcess(ctx, cfg)
	}
}

// StartProcess launches the engine and waits until it answers a no-op statement.
func StartProcess(ctx context.Context, cfg ProcessConfig) (*ProcessEngine, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("engine command is empty")
	}
	if cfg.QuitTimeout <= 0 {
		cfg.QuitTimeout = defaultQuitTimeout
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting engine %s: %w", cfg.Command[0], err)
	}

	e := &ProcessEngine{
		cfg:   cfg,
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 256),
		done:  make(chan struct{}),
	}
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			e.lines <- scanner.Text()
		}
		close(e.lines)
	}()
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logrus.WithField("engine", "stderr").Debug(scanner.Text())
		}
	}()
	go func() {
		readers.Wait()
		e.wait = cmd.Wait()
		close(e.done)
	}()

	if err := e.exec(ctx, "0"); err != nil {
		_ = e.Quit()
		return nil, fmt.Errorf("engine did not become ready: %w", err)
	}
	logrus.Debugf("engine started (pid %d)", cmd.Process.Pid)
	return e, nil
}

func wrapStatement(seq int, stmt string) string {
	return fmt.Sprintf("try, %s; disp(['%s' '%s%d%s']); catch indiasimErr, disp(['%s' '%s%d%s ' indiasimErr.message]); end",
		stmt, markerHead, okTag, seq, markerTail, markerHead, errTag, seq, markerTail)
}

// exec runs one statement and waits for its marker.
func (e *ProcessEngine) exec(ctx context.Context, stmt string) error {
	stmt = strings.TrimRight(strings.TrimSpace(stmt), ";")
	if stmt == "" {
		return errors.New("empty statement")
	}
	if strings.ContainsAny(stmt, "\r\n") {
		return fmt.Errorf("statement must be a single line: %q", stmt)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.seq++
	okMarker := fmt.Sprintf("%s%s%d%s", markerHead, okTag, e.seq, markerTail)
	errMarker := fmt.Sprintf("%s%s%d%s", markerHead, errTag, e.seq, markerTail)

	if _, err := io.WriteString(e.stdin, wrapStatement(e.seq, stmt)+"\n"); err != nil {
		return fmt.Errorf("writing to engine: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-e.lines:
			if !ok {
				<-e.done
				return fmt.Errorf("engine exited: %v", e.wait)
			}
			if strings.Contains(line, okMarker) {
				return nil
			}
			if i := strings.Index(line, errMarker); i >= 0 {
				return &EvalError{Statement: stmt, Message: strings.TrimSpace(line[i+len(errMarker):])}
			}
			if strings.Contains(line, markerHead) {
				continue // marker from an abandoned statement
			}
			logrus.WithField("engine", "stdout").Debug(line)
		}
	}
}

// AddPath implements Engine.
func (e *ProcessEngine) AddPath(ctx context.Context, dir string, recursive bool) error {
	target := quote(dir)
	if recursive {
		target = "genpath(" + target + ")"
	}
	return e.exec(ctx, "addpath("+target+")")
}

// Call implements Engine. The return value stays in the workspace under a
// generated name.
func (e *ProcessEngine) Call(ctx context.Context, fn string, arg Record) (Value, error) {
	if !IsFunctionName(fn) {
		return Value{}, fmt.Errorf("invalid function name %q", fn)
	}
	lit, err := arg.Literal()
	if err != nil {
		return Value{}, err
	}
	name := fmt.Sprintf("indiasimValue%d", e.vars.Add(1))
	if err := e.exec(ctx, fmt.Sprintf("%s = %s(%s)", name, fn, lit)); err != nil {
		return Value{}, err
	}
	return Value{name: name}, nil
}

// Assign implements Engine.
func (e *ProcessEngine) Assign(ctx context.Context, name string, v Value) error {
	if !IsIdentifier(name) {
		return fmt.Errorf("invalid variable name %q", name)
	}
	if v.IsZero() {
		return errors.New("assigning an empty value")
	}
	return e.exec(ctx, name+" = "+v.name)
}

// Eval implements Engine.
func (e *ProcessEngine) Eval(ctx context.Context, expr string) error {
	return e.exec(ctx, expr)
}

// Quit asks the engine to exit and kills it after QuitTimeout. Only the
// first call has an effect.
func (e *ProcessEngine) Quit() error {
	var err error
	e.quit.Do(func() {
		e.mu.Lock()
		e.closed = true
		_, _ = io.WriteString(e.stdin, "exit\n")
		_ = e.stdin.Close()
		e.mu.Unlock()
		go func() {
			for range e.lines {
			}
		}()

		select {
		case <-e.done:
		case <-time.After(e.cfg.QuitTimeout):
			logrus.Warnf("engine did not exit within %s, killing it", e.cfg.QuitTimeout)
			if kerr := e.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
				err = fmt.Errorf("killing engine: %w", kerr)
			}
			<-e.done
		}
	})
	return err
}
