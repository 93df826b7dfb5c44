package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"createqaplan/pkg/archive"
	"createqaplan/pkg/config"
	"createqaplan/pkg/metrics"
	"createqaplan/pkg/planning"
	"createqaplan/pkg/technique"
	"createqaplan/pkg/verification"
	"createqaplan/pkg/visualization"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create the QA plan for the current plan of a scenario",
		Example: `  createqaplan run --scenario patient.yaml --settings createQAPlan.setting
  QAPLAN_ARCHIVE=/var/lib/qaplan createqaplan run --scenario patient.yaml --out qa.yaml`,
		RunE: runQAPlan,
	}

	cmd.Flags().String("scenario", "", "patient scenario file (YAML)")
	cmd.Flags().String("settings", "", "QA phantom settings file")
	cmd.Flags().String("course", "", "QA course ID (default derived from the source course)")
	cmd.Flags().String("archive", "", "run archive directory")
	cmd.Flags().String("metrics-file", "", "write run counters to this file")
	cmd.Flags().String("bev-dir", "", "write beam's-eye-view snapshots to this directory")
	cmd.Flags().String("out", "", "write the QA plan to this file (YAML)")
	_ = cmd.MarkFlagRequired("scenario")
	for _, name := range []string{"settings", "course", "archive", "metrics-file", "bev-dir", "out"} {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func runQAPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	scenarioPath, _ := cmd.Flags().GetString("scenario")
	settingsPath := firstNonEmpty(viper.GetString("settings"), cfg.Settings.Path)
	archiveDir := firstNonEmpty(viper.GetString("archive"), cfg.Output.ArchiveDir)
	metricsFile := firstNonEmpty(viper.GetString("metrics-file"), cfg.Output.MetricsFile)
	bevDir := firstNonEmpty(viper.GetString("bev-dir"), cfg.Output.BEVDir)

	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return err
	}
	scenario, err := planning.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}

	fmt.Println("================================")
	fmt.Printf("Patient: %s %s\n", scenario.Host.Patient.ID, scenario.Host.Patient.Name)
	fmt.Printf("Course:  %s\n", scenario.Course.ID)
	fmt.Printf("Plan:    %s\n", scenario.Plan.ID)
	fmt.Println("================================")

	m := metrics.NewMetrics()
	planner := verification.NewPlanner(scenario.Host, verification.Options{
		Classifier:     technique.NewClassifier(cfg.Classifier),
		Logger:         logger,
		Messenger:      func(msg string) { fmt.Println(msg) },
		CourseSuffix:   cfg.Course.Suffix,
		CourseFallback: cfg.Course.Fallback,
		Metrics:        m,
	})

	startTime := time.Now()
	res, runErr := planner.Run(verification.Request{
		PatientID:  scenario.Host.Patient.ID,
		Course:     scenario.Course,
		Plan:       scenario.Plan,
		QACourseID: viper.GetString("course"),
		Settings:   settings,
	})
	logger.Info("Run finished",
		zap.String("run", res.RunID),
		zap.Duration("elapsed", time.Since(startTime)),
		zap.Bool("ok", runErr == nil))

	if archiveDir != "" {
		if err := archiveRun(archiveDir, res.Record(runErr)); err != nil {
			logger.Error("Failed to archive run", zap.Error(err))
		}
	}
	if metricsFile != "" {
		if err := m.WriteFile(metricsFile); err != nil {
			logger.Error("Failed to write metrics", zap.String("path", metricsFile), zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}

	if bevDir != "" {
		qa, _ := settings.ForMachine(res.MachineID)
		renderer := visualization.NewRenderer(256, 400)
		paths, err := renderer.SaveBeams(res.Plan.Beams, qa.PhantomLength+res.Shift.Offset, bevDir)
		if err != nil {
			return fmt.Errorf("beam's-eye-view snapshots: %w", err)
		}
		fmt.Printf("Saved %d beam's-eye-view snapshots to %s\n", len(paths), bevDir)
	}

	if out := viper.GetString("out"); out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := planning.WritePlan(f, res.Plan); err != nil {
			return err
		}
		fmt.Printf("QA plan written to %s\n", out)
	}

	fmt.Println("Ready.")
	return nil
}

func archiveRun(dir string, rec *archive.Record) error {
	store, err := archive.Open(dir, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Put(rec)
}
