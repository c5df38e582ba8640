package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/indiasim/indiasim/pipeline"
	"github.com/indiasim/indiasim/pipeline/events"
)

// withRoot points the package-level root and config flags at dir for one test.
func withRoot(t *testing.T, dir, config string) {
	t.Helper()
	oldRoot, oldConfig := projectRoot, configPath
	projectRoot, configPath = dir, config
	t.Cleanup(func() { projectRoot, configPath = oldRoot, oldConfig })
}

func TestLoadSettings_NoFile_DefaultsUnderRoot(t *testing.T) {
	// GIVEN an empty project root
	dir := t.TempDir()
	withRoot(t, dir, "")

	// WHEN settings load
	cfg, paths, err := loadSettings(&cobra.Command{})

	// THEN defaults apply and the layout hangs off the root
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Simulation.NumSteps)
	assert.Equal(t, filepath.Join(paths.Root, "data", "output"), paths.OutputDir)
}

func TestLoadSettings_ExplicitMissingFile_Fails(t *testing.T) {
	withRoot(t, t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))

	_, _, err := loadSettings(&cobra.Command{})

	assert.Error(t, err)
}

func TestLoadSettings_DotEnvFillsUnsetVariables(t *testing.T) {
	// GIVEN a .env naming a broker, and no such variable in the environment
	dir := t.TempDir()
	withRoot(t, dir, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(pipeline.EnvMQTTURL+"=tcp://from-dotenv:1883\n"), 0o644))
	t.Setenv(pipeline.EnvMQTTURL, "")
	require.NoError(t, os.Unsetenv(pipeline.EnvMQTTURL))

	// WHEN settings load
	cfg, _, err := loadSettings(&cobra.Command{})

	// THEN the .env value is used
	require.NoError(t, err)
	assert.Equal(t, "tcp://from-dotenv:1883", cfg.Events.MQTTURL)
}

func TestLoadSettings_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	withRoot(t, dir, "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, pipeline.DefaultConfigFile),
		[]byte("roadrunner:\n  install_path: /from/file\nsimulation:\n  num_steps: 12\n"), 0o644))
	t.Setenv(pipeline.EnvRoadRunnerInstall, "/from/env")

	cfg, _, err := loadSettings(&cobra.Command{})

	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.RoadRunner.InstallPath)
	assert.Equal(t, 12, cfg.Simulation.NumSteps)
}

func TestApplyRunFlags_OnlyChangedFlagsOverride(t *testing.T) {
	// GIVEN a command where only --num-steps and --no-wait were given
	c := &cobra.Command{}
	c.Flags().IntVar(&numSteps, "num-steps", 400, "")
	c.Flags().BoolVar(&noWait, "no-wait", false, "")
	c.Flags().StringVar(&sampleMap, "map", "default.osm", "")
	require.NoError(t, c.Flags().Set("num-steps", "25"))
	require.NoError(t, c.Flags().Set("no-wait", "true"))
	cfg := pipeline.DefaultConfig()
	cfg.Scene.SampleMap = "from-file.osm"

	// WHEN flags are applied
	applyRunFlags(c, &cfg)

	// THEN the given flags win and the rest keep the file's values
	assert.Equal(t, 25, cfg.Simulation.NumSteps)
	assert.False(t, cfg.ConfirmExit)
	assert.Equal(t, "from-file.osm", cfg.Scene.SampleMap)
}

func TestRunRecord_CopiesReport(t *testing.T) {
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	r := &pipeline.RunReport{
		RunID: "r1", State: pipeline.Failed, StartedAt: start, FinishedAt: start.Add(time.Minute),
		Scene: pipeline.SceneSource{Scene: "FourWaySignal"}, Err: errors.New("export failed"),
	}

	rec := runRecord(r)

	assert.Equal(t, "Failed", rec.FinalState)
	assert.Equal(t, "FourWaySignal", rec.SceneSource)
	assert.Equal(t, "export failed", rec.Error)
	assert.Empty(t, rec.ExportChecksum)
}

func TestPrintReport_IncludesExportAndError(t *testing.T) {
	var buf bytes.Buffer
	start := time.Now()
	printReport(&buf, &pipeline.RunReport{
		RunID: "r1", State: pipeline.Done, StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond),
		Scene: pipeline.SceneSource{Scene: "FourWaySignal"}, ExportPath: "/out/FourWaySignal.xodr", Checksum: "abc",
	}, nil)

	out := buf.String()
	assert.Contains(t, out, "finished in state Done (1.5s)")
	assert.Contains(t, out, "/out/FourWaySignal.xodr")
	assert.Contains(t, out, "blake2b-256: abc")
	assert.NotContains(t, out, "error")
}

func TestPrintReport_SummarizesRecordedEvents(t *testing.T) {
	// GIVEN events recorded for a run that failed after bootstrapping
	rec := &events.Recorder{}
	start := time.Now()
	for i, ev := range []struct {
		state string
		level string
	}{
		{"BootstrapPending", events.LevelInfo},
		{"Bootstrapped", events.LevelInfo},
		{"Failed", events.LevelError},
	} {
		require.NoError(t, rec.Emit(events.Event{RunID: "r2", Seq: i + 1, State: ev.state, Level: ev.level, Timestamp: start}))
	}

	// WHEN the report is printed with their summary
	var buf bytes.Buffer
	printReport(&buf, &pipeline.RunReport{
		RunID: "r2", State: pipeline.Failed, StartedAt: start, FinishedAt: start.Add(time.Second),
		Err: errors.New("scene export failed"),
	}, events.Summarize(rec.Events()))

	// THEN event totals and the error count are shown
	out := buf.String()
	assert.Contains(t, out, "events: 3 across 3 states")
	assert.Contains(t, out, "error events: 1")
	assert.Contains(t, out, "error: scene export failed")
}

func TestWriteConfig_RoundTripsThroughLoadConfig(t *testing.T) {
	// GIVEN the default config printed as YAML
	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, pipeline.DefaultConfig()))

	// WHEN it is read back with strict parsing
	path := filepath.Join(t.TempDir(), "printed.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	cfg, err := pipeline.LoadConfig(path, false)

	// THEN nothing is lost
	require.NoError(t, err)
	assert.Equal(t, pipeline.DefaultConfig(), cfg)

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &raw))
	assert.Contains(t, raw, "roadrunner")
}
