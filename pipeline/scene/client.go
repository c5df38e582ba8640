// Package scene drives the RoadRunner authoring application over its gRPC
// API: launch, load or import a scene, and export it to OpenDRIVE.
//
// Every operation reports its outcome as a Result; none panics or returns a
// bare error past the package boundary.
package scene

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

// defaultExitGrace bounds the Exit call and the wait for the process afterwards.
const defaultExitGrace = 10 * time.Second

// App is a connected RoadRunner instance. Close releases it.
type App struct {
	conn        *grpc.ClientConn
	schema      *Schema
	callTimeout time.Duration
	proc        *process // nil when attached to an already running instance
	exitGrace   time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to a RoadRunner API at target without waiting for readiness.
// Insecure transport credentials are used unless opts override them.
func Dial(target string, callTimeout time.Duration, opts ...grpc.DialOption) (*App, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating RoadRunner client for %s: %w", target, err)
	}
	return &App{conn: conn, schema: RoadRunner, callTimeout: callTimeout}, nil
}

// WaitReady blocks until the connection is READY or ctx is done.
func (a *App) WaitReady(ctx context.Context) error {
	a.conn.Connect()
	for {
		state := a.conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			a.conn.Connect()
		case connectivity.Shutdown:
			return errors.New("connection shut down")
		}
		if !a.conn.WaitForStateChange(ctx, state) {
			return context.Cause(ctx)
		}
	}
}

func (a *App) invoke(ctx context.Context, method string, req, resp proto.Message) error {
	if a.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.callTimeout)
		defer cancel()
	}
	if err := a.conn.Invoke(ctx, method, req, resp); err != nil {
		st := status.Convert(err)
		return fmt.Errorf("%s (%s)", st.Message(), st.Code())
	}
	return nil
}

// LoadScene opens a scene from the project by name.
func (a *App) LoadScene(ctx context.Context, name string) Result {
	req := a.schema.NewLoadScene(name)
	if err := a.invoke(ctx, MethodLoadScene, req, dynamicpb.NewMessage(a.schema.LoadSceneResponse)); err != nil {
		return failed(fmt.Errorf("loading scene %q: %w", name, err))
	}
	return succeeded("Scene %q loaded", name)
}

// ImportMap imports an OpenStreetMap file into a new scene.
func (a *App) ImportMap(ctx context.Context, path string) Result {
	if _, err := os.Stat(path); err != nil {
		return failed(fmt.Errorf("map file %q: %w", path, err))
	}
	req := a.schema.NewImport(path, FormatOpenStreetMap)
	if err := a.invoke(ctx, MethodImport, req, dynamicpb.NewMessage(a.schema.ImportResponse)); err != nil {
		return failed(fmt.Errorf("importing map %q: %w", path, err))
	}
	return succeeded("Map %q imported", path)
}

// ExportScene writes the current scene to path as OpenDRIVE.
func (a *App) ExportScene(ctx context.Context, path string) Result {
	req := a.schema.NewExport(path, FormatOpenDRIVE)
	if err := a.invoke(ctx, MethodExport, req, dynamicpb.NewMessage(a.schema.ExportResponse)); err != nil {
		return failed(fmt.Errorf("exporting scene to %q: %w", path, err))
	}
	return succeeded("Scene exported to %q", path)
}

// Close asks a launched instance to exit, stops its process if it lingers,
// and closes the connection. Safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if a.proc != nil {
			grace := a.exitGrace
			if grace <= 0 {
				grace = defaultExitGrace
			}
			ctx, cancel := context.WithTimeout(context.Background(), grace)
			err := a.conn.Invoke(ctx, MethodExit,
				dynamicpb.NewMessage(a.schema.ExitRequest), dynamicpb.NewMessage(a.schema.ExitResponse))
			cancel()
			if err != nil {
				logrus.Debugf("RoadRunner Exit call failed: %v", err)
			}
			a.closeErr = a.proc.stop(grace)
		}
		if err := a.conn.Close(); err != nil && a.closeErr == nil {
			a.closeErr = err
		}
	})
	return a.closeErr
}
