package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	helperSeqPattern   = regexp.MustCompile(`'_OK_(\d+)__'`)
	helperErrorPattern = regexp.MustCompile(`error\('([^']*)'\)`)
)

// TestHelperProcess is not a real test. It is re-executed by the tests below
// as a stand-in engine REPL that answers the marker protocol.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	var log *os.File
	if path := os.Getenv("HELPER_LOG"); path != "" {
		log, _ = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	}
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := in.Text()
		if os.Getenv("HELPER_ECHO") == "1" {
			fmt.Println(line)
		}
		if strings.TrimSpace(line) == "exit" {
			if os.Getenv("HELPER_IGNORE_EXIT") == "1" {
				continue
			}
			os.Exit(0)
		}
		m := helperSeqPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		stmt := strings.TrimPrefix(line, "try, ")
		stmt = stmt[:strings.Index(stmt, "; disp([")]
		if log != nil {
			fmt.Fprintln(log, stmt)
		}
		switch {
		case strings.Contains(stmt, "hang_forever"):
			continue
		case helperErrorPattern.MatchString(stmt):
			msg := helperErrorPattern.FindStringSubmatch(stmt)[1]
			fmt.Printf(">> __INDIASIM_ERR_%s__ %s\n", m[1], msg)
		default:
			fmt.Println("engine chatter")
			fmt.Printf(">> __INDIASIM_OK_%s__\n", m[1])
		}
	}
	time.Sleep(time.Hour)
}

func helperConfig(t *testing.T, env ...string) (ProcessConfig, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "statements.log")
	return ProcessConfig{
		Command:     []string{os.Args[0], "-test.run=TestHelperProcess", "--"},
		Env:         append([]string{"GO_WANT_HELPER_PROCESS=1", "HELPER_LOG=" + logPath}, env...),
		QuitTimeout: 2 * time.Second,
	}, logPath
}

func statements(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func startHelper(t *testing.T, env ...string) (*ProcessEngine, string) {
	t.Helper()
	cfg, logPath := helperConfig(t, env...)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e, err := StartProcess(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Quit() })
	return e, logPath
}

func TestProcessEngine_FullSequence_SendsExpectedStatements(t *testing.T) {
	// GIVEN a running engine
	e, logPath := startHelper(t)
	ctx := context.Background()

	// WHEN the simulation sequence runs
	require.NoError(t, e.AddPath(ctx, "/proj/simulation", true))
	v, err := e.Call(ctx, "run_sim", SimConfig{ScenePath: "/proj/out/S.xodr", NumSteps: 400}.Record())
	require.NoError(t, err)
	require.NoError(t, e.Assign(ctx, "trajectoryHistory", v))
	require.NoError(t, e.Eval(ctx, "utils.plotXYTrajectories(trajectoryHistory);"))
	require.NoError(t, e.Quit())

	// THEN the engine saw them in order, after the readiness check
	assert.Equal(t, []string{
		"0",
		"addpath(genpath('/proj/simulation'))",
		v.Ref() + " = run_sim(struct('scene_path', '/proj/out/S.xodr', 'num_steps', 400))",
		"trajectoryHistory = " + v.Ref(),
		"utils.plotXYTrajectories(trajectoryHistory)",
	}, statements(t, logPath))
}

func TestProcessEngine_EngineError_ReturnsEvalError(t *testing.T) {
	e, _ := startHelper(t)

	err := e.Eval(context.Background(), "error('Undefined function run_sim')")

	var evalErr *EvalError
	require.True(t, errors.As(err, &evalErr), "got %v", err)
	assert.Equal(t, "Undefined function run_sim", evalErr.Message)

	// AND the engine stays usable
	assert.NoError(t, e.Eval(context.Background(), "disp(1)"))
}

func TestProcessEngine_EchoedInput_NotMistakenForMarker(t *testing.T) {
	e, _ := startHelper(t, "HELPER_ECHO=1")

	err := e.Eval(context.Background(), "error('boom')")

	var evalErr *EvalError
	require.True(t, errors.As(err, &evalErr), "got %v", err)
	assert.Equal(t, "boom", evalErr.Message)
}

func TestProcessEngine_ContextCancelled_ReturnsAndLaterCallsWork(t *testing.T) {
	e, _ := startHelper(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := e.Eval(ctx, "hang_forever()")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.NoError(t, e.Eval(context.Background(), "disp(2)"))
}

func TestProcessEngine_QuitTwice_SecondIsNoop(t *testing.T) {
	e, _ := startHelper(t)

	require.NoError(t, e.Quit())
	require.NoError(t, e.Quit())
	assert.ErrorIs(t, e.Eval(context.Background(), "disp(1)"), ErrClosed)
}

func TestProcessEngine_IgnoresExit_KilledAfterTimeout(t *testing.T) {
	cfg, _ := helperConfig(t, "HELPER_IGNORE_EXIT=1")
	cfg.QuitTimeout = 200 * time.Millisecond
	e, err := StartProcess(context.Background(), cfg)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, e.Quit())

	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	select {
	case <-e.done:
	default:
		t.Fatal("engine process still running")
	}
}

func TestProcessEngine_RejectsMultilineAndBadNames(t *testing.T) {
	e, _ := startHelper(t)
	ctx := context.Background()

	assert.Error(t, e.Eval(ctx, "a = 1\nb = 2"))
	_, err := e.Call(ctx, "run_sim; delete('x')", nil)
	assert.Error(t, err)
	assert.Error(t, e.Assign(ctx, "bad name", ValueOf("x")))
	assert.Error(t, e.Assign(ctx, "ok", Value{}))
}

func TestStartProcess_MissingExecutable_Fails(t *testing.T) {
	_, err := StartProcess(context.Background(), ProcessConfig{Command: []string{filepath.Join(t.TempDir(), "matlab")}})
	assert.Error(t, err)
}
