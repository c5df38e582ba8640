package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/indiasim/indiasim/pipeline"
	"github.com/indiasim/indiasim/pipeline/bootstrap"
	"github.com/indiasim/indiasim/pipeline/engine"
	"github.com/indiasim/indiasim/pipeline/events"
	"github.com/indiasim/indiasim/pipeline/scene"
)

var (
	noWait       bool   // Skip the confirmation prompt before teardown
	numSteps     int    // Simulation steps passed to the entry point
	sampleMap    string // Map file name under data/input
	defaultScene string // Built-in scene loaded when the map is missing
	missingMap   string // Policy when the map is missing
	rrInstall    string // RoadRunner installation directory
	mqttURL      string // Broker for run events
	pgDSN        string // Postgres DSN for run history
)

// runCmd executes the full pipeline
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bootstrap, export the scene, simulate and plot",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, paths, err := loadSettings(cmd)
		if err != nil {
			logrus.Fatalf("Failed to load configuration: %v", err)
		}
		applyRunFlags(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		sinks, store := openSinks(cfg)
		rec := &events.Recorder{}
		sinks = append(sinks, rec)
		defer func() {
			if err := sinks.Close(); err != nil {
				logrus.Warnf("Closing event sinks: %v", err)
			}
		}()

		orch := pipeline.New(cfg, paths, pipeline.Deps{
			Bootstrap: bootstrap.New(cfg.BootstrapConfig(paths), nil),
			Launch:    pipeline.LaunchWith(scene.NewLauncher(cfg.LauncherConfig(paths))),
			Open:      pipeline.OpenWith(engine.NewBridge(cfg.BridgeConfig(paths), engine.Starter(cfg.ProcessConfig(paths)))),
			Prompt:    pipeline.LinePrompter{In: os.Stdin, Out: cmd.OutOrStdout()},
			Sink:      sinks,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		report := orch.Run(ctx)
		stop()

		if store != nil {
			if err := store.SaveRun(runRecord(report)); err != nil {
				logrus.Warnf("Saving run %s: %v", report.RunID, err)
			}
		}
		printReport(cmd.OutOrStdout(), report, events.Summarize(rec.Events()))

		if errors.Is(report.Err, pipeline.ErrBootstrap) {
			_ = sinks.Close()
			os.Exit(1)
		}
	},
}

// applyRunFlags overrides config values with flags the user actually set.
func applyRunFlags(cmd *cobra.Command, cfg *pipeline.Config) {
	flags := cmd.Flags()
	if flags.Changed("no-wait") {
		cfg.ConfirmExit = !noWait
	}
	if flags.Changed("num-steps") {
		cfg.Simulation.NumSteps = numSteps
	}
	if flags.Changed("map") {
		cfg.Scene.SampleMap = sampleMap
	}
	if flags.Changed("default-scene") {
		cfg.Scene.DefaultScene = defaultScene
	}
	if flags.Changed("missing-map") {
		cfg.Scene.MissingMap = pipeline.MissingMapPolicy(missingMap)
	}
	if flags.Changed("rr-install") {
		cfg.RoadRunner.InstallPath = rrInstall
	}
	if flags.Changed("mqtt-url") {
		cfg.Events.MQTTURL = mqttURL
	}
	if flags.Changed("pg-dsn") {
		cfg.Events.PostgresDSN = pgDSN
	}
}

// openSinks always logs events and adds MQTT and Postgres when configured.
// A sink that cannot connect is skipped with a warning.
func openSinks(cfg pipeline.Config) (events.MultiSink, *events.Postgres) {
	sinks := events.MultiSink{events.LogSink{}}
	if cfg.Events.MQTTURL != "" {
		m, err := events.NewMQTTSink(cfg.Events.MQTTURL, "indiasim-"+fmt.Sprint(os.Getpid()))
		if err != nil {
			logrus.Warnf("MQTT events disabled: %v", err)
		} else {
			sinks = append(sinks, m)
		}
	}
	var store *events.Postgres
	if cfg.Events.PostgresDSN != "" {
		p, err := events.OpenPostgres(cfg.Events.PostgresDSN)
		if err != nil {
			logrus.Warnf("Run history disabled: %v", err)
		} else {
			store = p
			sinks = append(sinks, p)
		}
	}
	return sinks, store
}

func runRecord(r *pipeline.RunReport) events.RunRecord {
	rec := events.RunRecord{
		RunID:          r.RunID,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		FinalState:     r.State.String(),
		SceneSource:    r.Scene.String(),
		ExportPath:     r.ExportPath,
		ExportChecksum: r.Checksum,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// printReport writes the run outcome; s may be nil when no events were kept.
func printReport(w io.Writer, r *pipeline.RunReport, s *events.Summary) {
	fmt.Fprintf(w, "Run %s finished in state %s (%s)\n", r.RunID, r.State, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.ExportPath != "" {
		fmt.Fprintf(w, "  scene:  %s\n", r.Scene)
		fmt.Fprintf(w, "  export: %s\n", r.ExportPath)
	}
	if r.Checksum != "" {
		fmt.Fprintf(w, "  blake2b-256: %s\n", r.Checksum)
	}
	if s != nil && s.TotalEvents > 0 {
		fmt.Fprintf(w, "  events: %d across %d states\n", s.TotalEvents, len(s.StateCounts))
		if s.ErrorCount > 0 {
			fmt.Fprintf(w, "  error events: %d\n", s.ErrorCount)
		}
	}
	if r.Err != nil {
		fmt.Fprintf(w, "  error: %v\n", r.Err)
	}
}

func init() {
	runCmd.Flags().BoolVar(&noWait, "no-wait", false, "Do not wait for Enter before closing the engine")
	runCmd.Flags().IntVar(&numSteps, "num-steps", 400, "Simulation steps")
	runCmd.Flags().StringVar(&sampleMap, "map", "bengaluru_kadirenahalli_cross.osm", "OSM map file under data/input")
	runCmd.Flags().StringVar(&defaultScene, "default-scene", "FourWaySignal", "Scene loaded when the map is missing")
	runCmd.Flags().StringVar(&missingMap, "missing-map", string(pipeline.MissingMapDefaultScene), "Policy when the map is missing (default-scene, fail)")
	runCmd.Flags().StringVar(&rrInstall, "rr-install", "", "RoadRunner installation directory")
	runCmd.Flags().StringVar(&mqttURL, "mqtt-url", "", "MQTT broker for run events, e.g. tcp://localhost:1883")
	runCmd.Flags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN for run history")

	rootCmd.AddCommand(runCmd)
}
