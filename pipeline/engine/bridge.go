package engine

import (
	"context"
	"fmt"
	"sync"
)

// SimConfig is the configuration record handed to the simulation entry point.
type SimConfig struct {
	ScenePath string
	NumSteps  int
}

// Record renders the configuration as the engine struct argument.
func (c SimConfig) Record() Record {
	return Record{
		{Key: "scene_path", Value: c.ScenePath},
		{Key: "num_steps", Value: c.NumSteps},
	}
}

// BridgeConfig names the scripts and entry points used on the engine side.
type BridgeConfig struct {
	ScriptsDir   string
	EntryPoint   string // called with SimConfig, returns the trajectory dataset
	PlotVariable string // workspace name the dataset is bound to before plotting
	PlotExpr     string
}

// Bridge opens engine sessions for simulation runs.
type Bridge struct {
	cfg   BridgeConfig
	start StartFunc
}

// NewBridge returns a Bridge that starts engines with start.
func NewBridge(cfg BridgeConfig, start StartFunc) *Bridge {
	return &Bridge{cfg: cfg, start: start}
}

// Open starts a fresh engine and puts the scripts directory tree on its path.
// If path setup fails the engine is shut down before returning.
func (b *Bridge) Open(ctx context.Context) (*Session, error) {
	eng, err := b.start(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting engine: %w", err)
	}
	s := &Session{cfg: b.cfg, eng: eng}
	if err := eng.AddPath(ctx, b.cfg.ScriptsDir, true); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("adding %s to engine path: %w", b.cfg.ScriptsDir, err)
	}
	return s, nil
}

// Session is one engine instance owned by one run.
type Session struct {
	cfg BridgeConfig
	eng Engine

	closeOnce sync.Once
	closeErr  error
}

// Run calls the entry point and returns the trajectory dataset handle.
func (s *Session) Run(ctx context.Context, cfg SimConfig) (Value, error) {
	v, err := s.eng.Call(ctx, s.cfg.EntryPoint, cfg.Record())
	if err != nil {
		return Value{}, fmt.Errorf("running %s: %w", s.cfg.EntryPoint, err)
	}
	return v, nil
}

// Plot binds the dataset in the workspace and evaluates the plot expression.
func (s *Session) Plot(ctx context.Context, v Value) error {
	if err := s.eng.Assign(ctx, s.cfg.PlotVariable, v); err != nil {
		return fmt.Errorf("binding %s: %w", s.cfg.PlotVariable, err)
	}
	if err := s.eng.Eval(ctx, s.cfg.PlotExpr); err != nil {
		return fmt.Errorf("plotting: %w", err)
	}
	return nil
}

// Close shuts the engine down. Only the first call reaches the engine.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.eng.Quit()
	})
	return s.closeErr
}
