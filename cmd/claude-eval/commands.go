package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/hochfrequenz/claude-eval-harness/internal/batch"
	"github.com/hochfrequenz/claude-eval-harness/internal/bridge"
	"github.com/hochfrequenz/claude-eval-harness/internal/config"
	"github.com/hochfrequenz/claude-eval-harness/internal/domain"
	"github.com/hochfrequenz/claude-eval-harness/internal/evalserver"
	"github.com/hochfrequenz/claude-eval-harness/internal/evalstore"
	"github.com/hochfrequenz/claude-eval-harness/internal/executor"
	"github.com/hochfrequenz/claude-eval-harness/internal/exercises"
	"github.com/hochfrequenz/claude-eval-harness/internal/report"
	"github.com/hochfrequenz/claude-eval-harness/internal/runner"
	"github.com/hochfrequenz/claude-eval-harness/internal/telemetry"
	"github.com/hochfrequenz/claude-eval-harness/internal/unittest"
)

var (
	runModel       string
	runConcurrency int
	listLimit      int
	batchSchedule  string
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run LANGUAGE[/EXERCISE]...",
		Short: "Run an evaluation batch",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runModel, "model", "", "override the configured model")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "override the configured concurrency")
	rootCmd.AddCommand(runCmd)

	// report command
	reportCmd := &cobra.Command{
		Use:   "report RUN_ID",
		Short: "Show the summary for a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runReport,
	}
	rootCmd.AddCommand(reportCmd)

	// list command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE:  runList,
	}
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(listCmd)

	// exercises command
	exercisesCmd := &cobra.Command{
		Use:   "exercises",
		Short: "List available languages and exercises",
		RunE:  runExercises,
	}
	rootCmd.AddCommand(exercisesCmd)

	// batch command
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Run scheduled evaluation batches",
		RunE:  runBatch,
	}
	batchCmd.Flags().StringVar(&batchSchedule, "schedule", "", "schedule file path (TOML)")
	rootCmd.AddCommand(batchCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// harness bundles the wired collaborators behind one setup call
type harness struct {
	cfg      *config.Config
	store    *evalstore.Store
	source   *exercises.Source
	bridge   *bridge.Bridge
	launcher executor.Launcher
	tests    *unittest.Runner
}

func setupHarness(cfg *config.Config) (*harness, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	store, err := evalstore.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, nil, err
	}

	source, err := exercises.NewSource(cfg.General.ExercisesRoot)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	br := bridge.New()
	tp := telemetry.NewTracerProvider(telemetry.NewTaskSpanProcessor(br, store))
	otel.SetTracerProvider(tp)

	h := &harness{
		cfg:      cfg,
		store:    store,
		source:   source,
		bridge:   br,
		launcher: &executor.CommandLauncher{Command: cfg.Host.Command, Env: cfg.Host.Env},
		tests:    unittest.NewRunner(cfg.Tests.Commands, cfg.Tests.Timeout),
	}
	cleanup := func() {
		tp.Shutdown(context.Background())
		store.Close()
	}
	return h, cleanup, nil
}

// newRunner builds a scheduler; concurrency <= 0 uses the configured default
func (h *harness) newRunner(concurrency int) *runner.Runner {
	if concurrency <= 0 {
		concurrency = h.cfg.Run.Concurrency
	}
	return runner.New(runner.Config{
		Concurrency: concurrency,
		Stagger:     h.cfg.Run.Stagger,
		Server:      evalserver.Config{Host: h.cfg.Server.Host, Port: h.cfg.Server.Port},
		Executor: executor.Config{
			ReadyTimeout:     h.cfg.Run.ReadyTimeout,
			HandshakeTimeout: h.cfg.Run.HandshakeTimeout,
			TaskTimeout:      h.cfg.Run.TaskTimeout,
			CancelGrace:      h.cfg.Run.CancelGrace,
			CloseGrace:       h.cfg.Run.CloseGrace,
		},
	}, h.store, h.source, h.bridge, h.launcher, h.tests)
}

func newRun(cfg *config.Config, model string) *domain.Run {
	if model == "" {
		model = cfg.Agent.Model
	}
	return &domain.Run{
		Model: model,
		AgentConfig: domain.AgentConfig{
			Model:           model,
			Provider:        cfg.Agent.Provider,
			ReasoningEffort: cfg.Agent.ReasoningEffort,
			AutoApprove:     cfg.Agent.AutoApprove,
			Settings:        cfg.Agent.Settings,
		},
	}
}

func parseSelections(args []string) ([]runner.Selection, error) {
	var sels []runner.Selection
	for _, arg := range args {
		parts := strings.SplitN(arg, "/", 2)
		if parts[0] == "" {
			return nil, fmt.Errorf("invalid selection %q", arg)
		}
		sel := runner.Selection{Language: parts[0]}
		if len(parts) == 2 {
			sel.Exercise = parts[1]
		}
		sels = append(sels, sel)
	}
	return sels, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runConcurrency > 0 {
		cfg.Run.Concurrency = runConcurrency
	}

	sels, err := parseSelections(args)
	if err != nil {
		return err
	}

	h, cleanup, err := setupHarness(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := newRun(cfg, runModel)
	summary, err := h.newRunner(cfg.Run.Concurrency).Run(ctx, run, sels)
	if err != nil {
		return err
	}

	rep, err := report.Build(h.store, summary.RunID)
	if err != nil {
		return err
	}
	return rep.Render(os.Stdout)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run id %q", args[0])
	}

	store, err := evalstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	rep, err := report.Build(store, runID)
	if err != nil {
		return err
	}
	return rep.Render(os.Stdout)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := evalstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(listLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODEL\tSTATUS\tPASSED\tFAILED\tSTARTED")
	for _, run := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n",
			run.ID, run.Model, run.Status, run.Passed, run.Failed, humanize.Time(run.CreatedAt))
	}
	return tw.Flush()
}

func runExercises(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	source, err := exercises.NewSource(cfg.General.ExercisesRoot)
	if err != nil {
		return err
	}

	langs, err := source.Languages()
	if err != nil {
		return err
	}
	for _, lang := range langs {
		names, err := source.Exercises(lang)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%d exercises)\n", lang, len(names))
		for _, name := range names {
			fmt.Printf("  %s/%s\n", lang, name)
		}
	}
	fmt.Printf("\nbuilt-in test commands: %s\n", strings.Join(unittest.SortedLanguages(), ", "))
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	schedule, err := batch.LoadScheduleConfig(batchSchedule)
	if err != nil {
		return err
	}
	if len(schedule.Batches) == 0 {
		return fmt.Errorf("no batches configured")
	}

	h, cleanup, err := setupHarness(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// Long-lived process: pick up exercise edits without a restart
	watcher, err := exercises.NewWatcher(h.source)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	watcher.Start(ctx)
	defer watcher.Stop()

	sched, err := batch.NewScheduler(schedule.Batches)
	if err != nil {
		return err
	}

	for _, name := range sched.ListBatches() {
		fmt.Printf("batch %s: next run %s\n", name, humanize.Time(sched.NextRun(name)))
	}

	sched.Start(ctx, func(runCtx context.Context, bc batch.BatchConfig) error {
		run := newRun(cfg, bc.Model)
		summary, err := h.newRunner(bc.Concurrency).Run(runCtx, run, bc.Selections())
		if err != nil {
			return err
		}
		fmt.Printf("batch %s: run %d finished, %d passed, %d failed in %s\n",
			bc.Name, summary.RunID, summary.Passed, summary.Failed,
			summary.Duration.Round(time.Second))
		return nil
	})
	return nil
}
