package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/indiasim/indiasim/pipeline/engine"
	"github.com/indiasim/indiasim/pipeline/events"
	"github.com/indiasim/indiasim/pipeline/scene"
)

// ErrBootstrap marks a run that stopped before the pipeline proper started.
var ErrBootstrap = errors.New("environment bootstrap failed")

// UnexpectedErrorMessage prefixes every orchestration failure in the log.
const UnexpectedErrorMessage = "An unexpected error occurred during orchestration"

// Bootstrapper prepares the local environment.
type Bootstrapper interface {
	EnsureReady(ctx context.Context) error
}

// SceneApp is a running authoring application.
type SceneApp interface {
	LoadScene(ctx context.Context, name string) scene.Result
	ImportMap(ctx context.Context, path string) scene.Result
	ExportScene(ctx context.Context, path string) scene.Result
	Close() error
}

// SimSession is one engine session.
type SimSession interface {
	Run(ctx context.Context, cfg engine.SimConfig) (engine.Value, error)
	Plot(ctx context.Context, v engine.Value) error
	Close() error
}

// LaunchFunc starts the authoring application. app is nil unless the result is OK.
type LaunchFunc func(ctx context.Context) (app SceneApp, res scene.Result)

// OpenFunc starts an engine session.
type OpenFunc func(ctx context.Context) (SimSession, error)

// LaunchWith adapts a scene.Launcher.
func LaunchWith(l *scene.Launcher) LaunchFunc {
	return func(ctx context.Context) (SceneApp, scene.Result) {
		app, res := l.Launch(ctx)
		if app == nil {
			return nil, res
		}
		return app, res
	}
}

// OpenWith adapts an engine.Bridge.
func OpenWith(b *engine.Bridge) OpenFunc {
	return func(ctx context.Context) (SimSession, error) {
		s, err := b.Open(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Deps are the collaborators of a run. Sink and Prompt may be nil.
type Deps struct {
	Bootstrap Bootstrapper
	Launch    LaunchFunc
	Open      OpenFunc
	Prompt    Prompter
	Sink      events.Sink
}

// SceneSource is what ends up exported: an imported map or a built-in scene.
type SceneSource struct {
	MapPath string // set when a map file is imported
	Scene   string // set when a named scene is loaded
}

// Stem is the export file name without extension.
func (s SceneSource) Stem() string {
	if s.MapPath != "" {
		base := filepath.Base(s.MapPath)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return s.Scene
}

func (s SceneSource) String() string {
	if s.MapPath != "" {
		return s.MapPath
	}
	return s.Scene
}

// RunReport describes how a run ended.
type RunReport struct {
	RunID      string
	State      State
	States     []State
	Scene      SceneSource
	ExportPath string
	Checksum   string
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Orchestrator runs the pipeline steps in order.
type Orchestrator struct {
	cfg   Config
	paths Paths
	deps  Deps

	now   func() time.Time
	newID func() string
}

// New creates an Orchestrator.
func New(cfg Config, paths Paths, deps Deps) *Orchestrator {
	if deps.Prompt == nil {
		deps.Prompt = NoPrompt{}
	}
	if deps.Sink == nil {
		deps.Sink = events.LogSink{}
	}
	return &Orchestrator{
		cfg:   cfg,
		paths: paths,
		deps:  deps,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// ChooseScene picks the map if it exists on disk, otherwise applies the
// missing-map policy.
func (o *Orchestrator) ChooseScene() (SceneSource, error) {
	mapPath := filepath.Join(o.paths.InputDir, o.cfg.Scene.SampleMap)
	if o.cfg.Scene.SampleMap != "" {
		if info, err := os.Stat(mapPath); err == nil && !info.IsDir() {
			return SceneSource{MapPath: mapPath}, nil
		}
	}
	if o.cfg.Scene.MissingMap == MissingMapFail {
		return SceneSource{}, fmt.Errorf("sample map %q not found in %s", o.cfg.Scene.SampleMap, o.paths.InputDir)
	}
	return SceneSource{Scene: o.cfg.Scene.DefaultScene}, nil
}

type run struct {
	o      *Orchestrator
	report *RunReport
	log    *logrus.Entry
	seq    int
}

func (r *run) enter(s State, msg string, fields map[string]any) {
	if len(r.report.States) > 0 && !r.report.State.canEnter(s) {
		r.log.Warnf("ignoring transition %s -> %s", r.report.State, s)
		return
	}
	r.report.State = s
	r.report.States = append(r.report.States, s)
	r.seq++
	level := events.LevelInfo
	if s == Failed {
		level = events.LevelError
	}
	err := r.o.deps.Sink.Emit(events.Event{
		RunID:     r.report.RunID,
		Seq:       r.seq,
		State:     s.String(),
		Level:     level,
		Message:   msg,
		Fields:    fields,
		Timestamp: r.o.now(),
	})
	if err != nil {
		r.log.WithError(err).Warn("event sink rejected event")
	}
}

func (r *run) fail(err error) *RunReport {
	r.report.Err = err
	r.enter(Failed, err.Error(), nil)
	return r.report
}

// Run executes one pipeline run and reports how far it got. It does not
// return an error: failures are in the report.
func (o *Orchestrator) Run(ctx context.Context) *RunReport {
	r := &run{
		o: o,
		report: &RunReport{
			RunID:     o.newID(),
			StartedAt: o.now(),
		},
	}
	r.log = logrus.WithField("run_id", r.report.RunID)
	r.enter(BootstrapPending, "", nil)
	defer func() { r.report.FinishedAt = o.now() }()

	r.log.Info("Running project setup verification")
	if err := o.deps.Bootstrap.EnsureReady(ctx); err != nil {
		r.log.WithError(err).Error("Setup verification failed")
		return r.fail(fmt.Errorf("%w: %w", ErrBootstrap, err))
	}
	r.log.Info("Setup verified")
	r.enter(Bootstrapped, "", nil)

	var app SceneApp
	var session SimSession
	defer func() {
		if session != nil {
			if err := session.Close(); err != nil {
				r.log.WithError(err).Warn("engine shutdown reported an error")
			}
			r.log.Info("MATLAB engine shut down")
		}
		if app != nil {
			if err := app.Close(); err != nil {
				r.log.WithError(err).Warn("RoadRunner shutdown reported an error")
			}
		}
	}()

	app, res := o.deps.Launch(ctx)
	if !res.OK() {
		app = nil
		r.log.Errorf("FATAL ERROR: %s", res)
		return r.fail(res.Err)
	}
	r.log.Info(res.Message)
	r.enter(AppLaunched, res.Message, nil)

	if err := r.orchestrate(ctx, app, &session); err != nil {
		r.log.Errorf("%s: %v", UnexpectedErrorMessage, err)
		return r.fail(err)
	}
	r.enter(Done, "", nil)
	return r.report
}

func (r *run) orchestrate(ctx context.Context, app SceneApp, session *SimSession) error {
	o := r.o
	src, err := o.ChooseScene()
	if err != nil {
		return err
	}
	r.report.Scene = src

	if src.MapPath != "" {
		res := app.ImportMap(ctx, src.MapPath)
		if !res.OK() {
			return fmt.Errorf("could not import OSM map: %w", res.Err)
		}
		r.log.Info(res.Message)
	} else {
		r.log.Warnf("Sample map %q not found; loading default scene %q instead", o.cfg.Scene.SampleMap, src.Scene)
		res := app.LoadScene(ctx, src.Scene)
		if !res.OK() {
			return fmt.Errorf("could not load default scene: %w", res.Err)
		}
	}
	r.enter(SceneReady, "", map[string]any{"scene": src.String()})

	if err := os.MkdirAll(o.paths.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	exportPath := o.paths.ExportPath(src.Stem())
	res := app.ExportScene(ctx, exportPath)
	if !res.OK() {
		return fmt.Errorf("could not export scene to OpenDRIVE: %w", res.Err)
	}
	r.log.Info(res.Message)
	r.report.ExportPath = exportPath
	if sum, err := Checksum(exportPath); err != nil {
		r.log.WithError(err).Warn("could not checksum exported scene")
	} else {
		r.report.Checksum = sum
	}
	r.enter(Exported, "", map[string]any{"path": exportPath, "checksum": r.report.Checksum})

	r.log.Info("Starting MATLAB engine")
	s, err := o.deps.Open(ctx)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	*session = s
	r.log.Info("MATLAB engine started and paths configured")
	r.enter(EngineStarted, "", nil)

	simCfg := engine.SimConfig{ScenePath: exportPath, NumSteps: o.cfg.Simulation.NumSteps}
	r.log.Infof("Sending command to MATLAB to run simulation on %q", filepath.Base(exportPath))
	trajectories, err := s.Run(ctx, simCfg)
	if err != nil {
		return err
	}
	r.log.Info("Simulation complete; trajectory data received")
	r.enter(SimulationRun, "", map[string]any{"num_steps": simCfg.NumSteps})

	r.log.Info("Asking MATLAB to plot the results")
	if err := s.Plot(ctx, trajectories); err != nil {
		return err
	}
	r.log.Info("Plot generated; check the MATLAB figure window")
	r.enter(Plotted, "", nil)

	if o.cfg.ConfirmExit {
		if err := o.deps.Prompt.Confirm(ctx, ConfirmMessage); err != nil {
			return fmt.Errorf("waiting for confirmation: %w", err)
		}
	}
	return nil
}
