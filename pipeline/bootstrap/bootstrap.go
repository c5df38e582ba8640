// Package bootstrap prepares the local Python environment and generates the
// RoadRunner gRPC stubs the authoring-application tooling expects.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
)

var (
	// ErrProtoPathMissing means the interface-definition directory does not exist.
	// The install path is operator configuration and must be edited.
	ErrProtoPathMissing = errors.New("proto path not found")
	// ErrGeneratorNotFound means the code generator's interpreter could not be located.
	ErrGeneratorNotFound = errors.New("code generator executable not found")
	// ErrCodegenFailed means the code generator ran and exited non-zero.
	ErrCodegenFailed = errors.New("code generation failed")
)

// Config is everything the bootstrapper needs. All paths are absolute.
type Config struct {
	Root          string // working directory for code generation
	VenvDir       string
	GeneratedDir  string
	ProtoPath     string
	ProtoFiles    []string // relative to ProtoPath
	CodegenModule string   // python module run with -m
	SystemPython  string   // interpreter used to create the venv
	Requirements  string   // optional requirements file installed into the venv
}

// Bootstrapper ensures the environment exists before the pipeline runs.
type Bootstrapper struct {
	cfg    Config
	runner Runner
	goos   string
}

// New creates a Bootstrapper. A nil runner means ExecRunner.
func New(cfg Config, runner Runner) *Bootstrapper {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Bootstrapper{cfg: cfg, runner: runner, goos: runtime.GOOS}
}

// VenvPython returns the interpreter path inside venvDir for goos.
func VenvPython(venvDir, goos string) string {
	if goos == "windows" {
		return filepath.Join(venvDir, "Scripts", "python.exe")
	}
	return filepath.Join(venvDir, "bin", "python")
}

// CodegenArgs builds the argument list passed to the venv interpreter.
func CodegenArgs(module, protoPath string, files []string) []string {
	args := []string{
		"-m", module,
		"--proto_path=" + protoPath,
		"--python_out=.",
		"--grpc_python_out=.",
	}
	return append(args, files...)
}

// EnsureReady creates the venv and generated stubs when they are missing.
// Only proto path, generator lookup and generator failures are returned;
// the remaining steps are best effort and logged.
func (b *Bootstrapper) EnsureReady(ctx context.Context) error {
	logrus.Info("--- Running project setup verification ---")

	needCodegen := !exists(b.cfg.GeneratedDir)
	if needCodegen && !exists(b.cfg.ProtoPath) {
		logrus.Errorf("RoadRunner proto path not found at %q; edit roadrunner.install_path", b.cfg.ProtoPath)
		if !exists(b.cfg.VenvDir) {
			logrus.Warnf("skipping virtual environment creation at %q until the proto path is fixed", b.cfg.VenvDir)
		}
		return fmt.Errorf("%w: %s", ErrProtoPathMissing, b.cfg.ProtoPath)
	}

	b.ensureVenv(ctx)

	if needCodegen {
		if err := b.generate(ctx); err != nil {
			return err
		}
	}

	b.verifyDependencies(ctx)
	logrus.Info("--- Setup verified ---")
	return nil
}

func (b *Bootstrapper) ensureVenv(ctx context.Context) {
	if exists(b.cfg.VenvDir) {
		return
	}
	logrus.Infof("[1/3] Creating Python virtual environment at %q", b.cfg.VenvDir)
	err := b.runner.Run(ctx, b.cfg.Root, b.cfg.SystemPython,
		"-m", "venv", "--system-site-packages", b.cfg.VenvDir)
	if err != nil {
		logrus.Warnf("virtual environment creation failed: %v", err)
	}
}

func (b *Bootstrapper) generate(ctx context.Context) error {
	logrus.Infof("[2/3] %q not found; generating gRPC code bundle", filepath.Base(b.cfg.GeneratedDir))

	python := VenvPython(b.cfg.VenvDir, b.goos)
	if !exists(python) {
		logrus.Errorf("venv interpreter missing at %q; install grpcio-tools into the venv", python)
		return fmt.Errorf("%w: %s", ErrGeneratorNotFound, python)
	}

	args := CodegenArgs(b.cfg.CodegenModule, b.cfg.ProtoPath, b.cfg.ProtoFiles)
	if err := b.runner.Run(ctx, b.cfg.Root, python, args...); err != nil {
		logrus.Errorf("failed to generate gRPC code: %v", err)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %w", ErrGeneratorNotFound, err)
		}
		return fmt.Errorf("%w: %w", ErrCodegenFailed, err)
	}
	logrus.Info("gRPC code bundle generated")
	return nil
}

// verifyDependencies installs the requirements file when one is configured.
func (b *Bootstrapper) verifyDependencies(ctx context.Context) {
	logrus.Info("[3/3] Verifying Python dependencies")
	if b.cfg.Requirements == "" || !exists(b.cfg.Requirements) {
		return
	}
	python := VenvPython(b.cfg.VenvDir, b.goos)
	if err := b.runner.Run(ctx, b.cfg.Root, python, "-m", "pip", "install", "-r", b.cfg.Requirements); err != nil {
		logrus.Warnf("dependency install failed: %v", err)
	}
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
