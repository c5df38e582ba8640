// Package pipeline runs the map to road network to simulation workflow.
//
// # Reading Guide
//
// Start with these files:
//   - config.go: indiasim.yaml, defaults, env overrides and validation
//   - paths.go: the project layout every step resolves against
//   - orchestrator.go: the linear run and its guaranteed cleanup
//   - state.go: the states a run passes through
//
// # Architecture
//
// Each external system has its own sub-package:
//   - pipeline/bootstrap/: Python venv and RPC stub generation
//   - pipeline/scene/: RoadRunner process and gRPC client
//   - pipeline/engine/: MATLAB-syntax engine REPL and the simulation session
//   - pipeline/events/: run events fanned out to logs, MQTT and Postgres
//
// The orchestrator depends only on small interfaces (Bootstrapper, SceneApp,
// SimSession, Prompter, events.Sink). The cmd package wires the concrete
// implementations.
package pipeline
