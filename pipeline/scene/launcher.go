package scene

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
)

// LauncherConfig locates the RoadRunner executable and its API endpoint.
type LauncherConfig struct {
	Executable    string
	ProjectPath   string
	APIPort       int
	Target        string // gRPC target; defaults to localhost:<APIPort>
	ExtraArgs     []string
	LaunchTimeout time.Duration
	CallTimeout   time.Duration
	ExitTimeout   time.Duration // grace period on Close before the process is killed
}

func (c LauncherConfig) target() string {
	if c.Target != "" {
		return c.Target
	}
	return "localhost:" + strconv.Itoa(c.APIPort)
}

// Launcher starts RoadRunner and connects to it.
type Launcher struct {
	cfg      LauncherConfig
	dialOpts []grpc.DialOption
}

// NewLauncher returns a Launcher. opts are appended to the default dial options.
func NewLauncher(cfg LauncherConfig, opts ...grpc.DialOption) *Launcher {
	defaults := []grpc.DialOption{
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  250 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   3 * time.Second,
			},
			MinConnectTimeout: 5 * time.Second,
		}),
	}
	return &Launcher{cfg: cfg, dialOpts: append(defaults, opts...)}
}

// Launch starts the application and waits until its API accepts calls.
// On failure nothing is left running and the returned App is nil.
func (l *Launcher) Launch(ctx context.Context) (*App, Result) {
	if _, err := os.Stat(l.cfg.Executable); err != nil {
		return nil, failed(fmt.Errorf("RoadRunner executable not found at %q; edit roadrunner.install_path", l.cfg.Executable))
	}

	args := []string{
		"--projectPath=" + l.cfg.ProjectPath,
		"--apiPort=" + strconv.Itoa(l.cfg.APIPort),
	}
	args = append(args, l.cfg.ExtraArgs...)
	proc, err := startProcess(exec.Command(l.cfg.Executable, args...))
	if err != nil {
		return nil, failed(fmt.Errorf("starting RoadRunner: %w", err))
	}
	logrus.Infof("RoadRunner started (pid %d), waiting for API on %s", proc.pid(), l.cfg.target())

	app, err := Dial(l.cfg.target(), l.cfg.CallTimeout, l.dialOpts...)
	if err != nil {
		_ = proc.stop(0)
		return nil, failed(err)
	}
	app.proc = proc
	app.exitGrace = l.cfg.ExitTimeout

	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if l.cfg.LaunchTimeout > 0 {
		var cancelTimeout context.CancelFunc
		waitCtx, cancelTimeout = context.WithTimeoutCause(waitCtx, l.cfg.LaunchTimeout,
			fmt.Errorf("API not ready after %s", l.cfg.LaunchTimeout))
		defer cancelTimeout()
	}
	go func() {
		select {
		case <-proc.done:
			cancel(fmt.Errorf("RoadRunner exited before its API was ready: %v", proc.exitErr()))
		case <-waitCtx.Done():
		}
	}()

	if err := app.WaitReady(waitCtx); err != nil {
		_ = app.Close()
		return nil, failed(fmt.Errorf("launching RoadRunner: %w", err))
	}
	return app, succeeded("RoadRunner launched and API ready on %s", l.cfg.target())
}

// process is a started command whose Wait runs in the background.
type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func startProcess(cmd *exec.Cmd) (*process, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = p.cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *process) pid() int { return p.cmd.Process.Pid }

// exitErr is only valid after done is closed.
func (p *process) exitErr() error {
	if p.err == nil {
		return errors.New("exit status 0")
	}
	return p.err
}

// stop waits up to grace for the process to exit on its own, then kills it.
func (p *process) stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing RoadRunner: %w", err)
	}
	<-p.done
	return nil
}
