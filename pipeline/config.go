package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/indiasim/indiasim/pipeline/bootstrap"
	"github.com/indiasim/indiasim/pipeline/engine"
	"github.com/indiasim/indiasim/pipeline/scene"
)

// DefaultConfigFile is looked up in the project root when --config is not given.
const DefaultConfigFile = "indiasim.yaml"

// Environment overrides applied on top of the config file.
const (
	EnvRoadRunnerInstall = "INDIASIM_RR_INSTALL"
	EnvMQTTURL           = "INDIASIM_MQTT_URL"
	EnvPostgresDSN       = "INDIASIM_PG_DSN"
)

// MissingMapPolicy decides what happens when the sample map is not on disk.
type MissingMapPolicy string

const (
	// MissingMapDefaultScene loads the configured built-in scene instead.
	MissingMapDefaultScene MissingMapPolicy = "default-scene"
	// MissingMapFail ends the run in the Failed state.
	MissingMapFail MissingMapPolicy = "fail"
)

var validMissingMapPolicies = map[MissingMapPolicy]bool{
	MissingMapDefaultScene: true,
	MissingMapFail:         true,
}

// IsValidMissingMapPolicy reports whether name is a recognized policy.
func IsValidMissingMapPolicy(name string) bool {
	return validMissingMapPolicies[MissingMapPolicy(name)]
}

// Config is the full indiasim.yaml structure.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	Root        string            `yaml:"root,omitempty"`
	ConfirmExit bool              `yaml:"confirm_exit"`
	Bootstrap   BootstrapSection  `yaml:"bootstrap"`
	RoadRunner  RoadRunnerSection `yaml:"roadrunner"`
	Scene       SceneSection      `yaml:"scene"`
	Engine      EngineSection     `yaml:"engine"`
	Simulation  SimulationSection `yaml:"simulation"`
	Events      EventsSection     `yaml:"events"`
}

// BootstrapSection configures virtual environment and stub generation.
type BootstrapSection struct {
	SystemPython  string   `yaml:"system_python"`
	CodegenModule string   `yaml:"codegen_module"`
	ProtoFiles    []string `yaml:"proto_files"`
	Requirements  string   `yaml:"requirements,omitempty"` // relative to root; empty skips pip install
}

// RoadRunnerSection locates the authoring application and its API.
type RoadRunnerSection struct {
	InstallPath   string        `yaml:"install_path"`
	Executable    string        `yaml:"executable"` // relative to install_path
	ProtoDir      string        `yaml:"proto_dir"`  // relative to install_path
	APIPort       int           `yaml:"api_port"`
	LaunchTimeout time.Duration `yaml:"launch_timeout"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	ExitTimeout   time.Duration `yaml:"exit_timeout"`
}

// SceneSection picks the scene that gets exported.
type SceneSection struct {
	SampleMap    string           `yaml:"sample_map"` // file name under data/input
	DefaultScene string           `yaml:"default_scene"`
	MissingMap   MissingMapPolicy `yaml:"missing_map"`
}

// EngineSection configures the numerical engine process.
type EngineSection struct {
	Command      []string      `yaml:"command"`
	EntryPoint   string        `yaml:"entry_point"`
	PlotVariable string        `yaml:"plot_variable"`
	PlotExpr     string        `yaml:"plot_expr"`
	QuitTimeout  time.Duration `yaml:"quit_timeout"`
}

// SimulationSection holds the parameters sent to the entry point.
type SimulationSection struct {
	NumSteps int `yaml:"num_steps"`
}

// EventsSection configures optional external event sinks.
type EventsSection struct {
	MQTTURL     string `yaml:"mqtt_url,omitempty"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

// DefaultProtoFiles are the interface definitions compiled into mathworks/.
var DefaultProtoFiles = []string{
	"mathworks/roadrunner/core.proto",
	"mathworks/roadrunner/import_settings.proto",
	"mathworks/roadrunner/export_settings.proto",
	"mathworks/scenario/common/geometry.proto",
	"mathworks/scenario/common/array.proto",
	"mathworks/roadrunner/roadrunner_service_messages.proto",
	"mathworks/roadrunner/roadrunner_service.proto",
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		ConfirmExit: true,
		Bootstrap: BootstrapSection{
			SystemPython:  "python3",
			CodegenModule: "grpc_tools.protoc",
			ProtoFiles:    append([]string(nil), DefaultProtoFiles...),
		},
		RoadRunner: RoadRunnerSection{
			InstallPath:   "C:/Program Files/RoadRunner R2025a",
			Executable:    "bin/win64/AppRoadRunner.exe",
			ProtoDir:      "bin/win64/Proto",
			APIPort:       35707,
			LaunchTimeout: 2 * time.Minute,
			CallTimeout:   5 * time.Minute,
			ExitTimeout:   10 * time.Second,
		},
		Scene: SceneSection{
			SampleMap:    "bengaluru_kadirenahalli_cross.osm",
			DefaultScene: "FourWaySignal",
			MissingMap:   MissingMapDefaultScene,
		},
		Engine: EngineSection{
			Command:      []string{"matlab", "-nodesktop", "-nosplash"},
			EntryPoint:   "run_sim",
			PlotVariable: "trajectoryHistory",
			PlotExpr:     "utils.plotXYTrajectories(trajectoryHistory);",
			QuitTimeout:  30 * time.Second,
		},
		Simulation: SimulationSection{NumSteps: 400},
	}
}

// LoadConfig reads path on top of DefaultConfig. Unknown keys are rejected.
// A missing file is not an error when allowMissing is set.
func LoadConfig(path string, allowMissing bool) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvRoadRunnerInstall); v != "" {
		c.RoadRunner.InstallPath = v
	}
	if v := getenv(EnvMQTTURL); v != "" {
		c.Events.MQTTURL = v
	}
	if v := getenv(EnvPostgresDSN); v != "" {
		c.Events.PostgresDSN = v
	}
}

// Validate checks that all fields hold usable values.
func (c *Config) Validate() error {
	if !IsValidMissingMapPolicy(string(c.Scene.MissingMap)) {
		return fmt.Errorf("unknown scene.missing_map %q; valid: default-scene, fail", c.Scene.MissingMap)
	}
	if c.Scene.MissingMap == MissingMapDefaultScene && c.Scene.DefaultScene == "" {
		return fmt.Errorf("scene.default_scene is required with missing_map %q", MissingMapDefaultScene)
	}
	if c.Simulation.NumSteps <= 0 {
		return fmt.Errorf("simulation.num_steps must be positive, got %d", c.Simulation.NumSteps)
	}
	if len(c.Bootstrap.ProtoFiles) == 0 {
		return fmt.Errorf("bootstrap.proto_files must list at least one file")
	}
	if len(c.Engine.Command) == 0 {
		return fmt.Errorf("engine.command must not be empty")
	}
	if c.Engine.EntryPoint == "" {
		return fmt.Errorf("engine.entry_point must not be empty")
	}
	if c.RoadRunner.APIPort <= 0 || c.RoadRunner.APIPort > 65535 {
		return fmt.Errorf("roadrunner.api_port out of range: %d", c.RoadRunner.APIPort)
	}
	return nil
}

// BootstrapConfig builds the bootstrapper configuration for paths.
func (c *Config) BootstrapConfig(p Paths) bootstrap.Config {
	var requirements string
	if c.Bootstrap.Requirements != "" {
		requirements = p.Resolve(c.Bootstrap.Requirements)
	}
	return bootstrap.Config{
		Root:          p.Root,
		VenvDir:       p.VenvDir,
		GeneratedDir:  p.GeneratedDir,
		ProtoPath:     filepath.Join(c.RoadRunner.InstallPath, c.RoadRunner.ProtoDir),
		ProtoFiles:    append([]string(nil), c.Bootstrap.ProtoFiles...),
		CodegenModule: c.Bootstrap.CodegenModule,
		SystemPython:  c.Bootstrap.SystemPython,
		Requirements:  requirements,
	}
}

// LauncherConfig builds the RoadRunner launcher configuration for paths.
func (c *Config) LauncherConfig(p Paths) scene.LauncherConfig {
	return scene.LauncherConfig{
		Executable:    filepath.Join(c.RoadRunner.InstallPath, c.RoadRunner.Executable),
		ProjectPath:   p.Root,
		APIPort:       c.RoadRunner.APIPort,
		LaunchTimeout: c.RoadRunner.LaunchTimeout,
		CallTimeout:   c.RoadRunner.CallTimeout,
		ExitTimeout:   c.RoadRunner.ExitTimeout,
	}
}

// ProcessConfig builds the engine process configuration. The engine starts in
// the project root.
func (c *Config) ProcessConfig(p Paths) engine.ProcessConfig {
	return engine.ProcessConfig{
		Command:     append([]string(nil), c.Engine.Command...),
		Dir:         p.Root,
		QuitTimeout: c.Engine.QuitTimeout,
	}
}

// BridgeConfig builds the simulation bridge configuration for paths.
func (c *Config) BridgeConfig(p Paths) engine.BridgeConfig {
	return engine.BridgeConfig{
		ScriptsDir:   p.SimulationDir,
		EntryPoint:   c.Engine.EntryPoint,
		PlotVariable: c.Engine.PlotVariable,
		PlotExpr:     c.Engine.PlotExpr,
	}
}
