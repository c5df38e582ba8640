// Package engine drives a MATLAB-syntax numerical engine: a long-lived
// process whose workspace holds the simulation results between calls.
package engine

import (
	"context"
	"errors"
)

// ErrClosed is returned by calls on an engine that has quit.
var ErrClosed = errors.New("engine closed")

// Value is an opaque handle to a variable in the engine workspace.
type Value struct {
	name string
}

// ValueOf returns a handle to the workspace variable ref.
func ValueOf(ref string) Value { return Value{name: ref} }

// Ref is the workspace variable the handle refers to.
func (v Value) Ref() string { return v.name }

// IsZero reports whether v refers to nothing.
func (v Value) IsZero() bool { return v.name == "" }

// Engine is one running engine instance.
type Engine interface {
	// AddPath puts dir on the engine search path, with all subdirectories when recursive.
	AddPath(ctx context.Context, dir string, recursive bool) error
	// Call invokes fn with a single struct argument and keeps its one return value in the workspace.
	Call(ctx context.Context, fn string, arg Record) (Value, error)
	// Assign binds name in the workspace to v.
	Assign(ctx context.Context, name string, v Value) error
	// Eval runs a statement that returns nothing.
	Eval(ctx context.Context, expr string) error
	// Quit shuts the engine down.
	Quit() error
}

// StartFunc starts a new engine instance.
type StartFunc func(ctx context.Context) (Engine, error)
