package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/alvtron/pbtgo/pkg/checkpoint"
	"github.com/alvtron/pbtgo/pkg/concurrency"
	"github.com/alvtron/pbtgo/pkg/controller"
	"github.com/alvtron/pbtgo/pkg/core"
	"github.com/alvtron/pbtgo/pkg/evolver"
	"github.com/alvtron/pbtgo/pkg/persistence"
	"github.com/alvtron/pbtgo/pkg/registry"
	"github.com/alvtron/pbtgo/pkg/task"
)

// runtimeErr marks an error as an unrecoverable runtime failure (a
// component failed to start, or the controller aborted mid-run) as
// opposed to a configuration mistake, so main can pick the right exit
// code: 0 success, 1 configuration error, 2 unrecoverable runtime
// failure.
type runtimeErr struct{ err error }

func (e *runtimeErr) Error() string { return e.err.Error() }
func (e *runtimeErr) Unwrap() error { return e.err }

func wrapRuntime(err error) error {
	if err == nil {
		return nil
	}
	return &runtimeErr{err}
}

func main() {
	var cliOverrides core.CLIOverrides
	var resumeRunID string

	rootCmd := &cobra.Command{
		Use:   "pbt",
		Short: "Population based training control plane",
		Long:  "Drives a population of training members through exploit/explore, differential evolution or particle swarm evolution, persisting checkpoints to a durable database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Flags(), &cliOverrides, resumeRunID)
		},
		SilenceUsage: true,
	}

	f := rootCmd.Flags()

	cliOverrides.ConfigPath = f.StringP("config", "f", "", "Path to YAML config file (overrides PBT_CONFIG env)")
	cliOverrides.Task = f.String("task", "", "Registered task to run (mnist|fraud)")
	cliOverrides.PopulationSize = f.Int("population-size", 0, "Number of members in the population")
	cliOverrides.StepSize = f.Int("step-size", 0, "Training steps run per member per generation")
	cliOverrides.MaxSteps = f.Int("max-steps", 0, "Maximum cumulative training steps before the run terminates")
	cliOverrides.MaxGenerations = f.Int("max-generations", 0, "Maximum number of generations before the run terminates")
	cliOverrides.ScoreTarget = f.Float64("score-target", 0, "End the run once the best member reaches this score")
	cliOverrides.NJobs = f.Int("n-jobs", 0, "Number of workers in the worker pool")
	f.String("devices", "", "Comma-separated devices workers cycle over")
	cliOverrides.DatabasePath = f.String("database-path", "", "Directory path the checkpoint database is located at")
	cliOverrides.Compress = f.Bool("compress", false, "Enable gzip compression of persisted checkpoint metadata")
	cliOverrides.EvolverStrategy = f.String("evolver", "", "Evolver strategy (exploit_explore|differential_evolution|particle_swarm)")
	cliOverrides.Verbose = f.Bool("verbose", false, "Log every controller state transition")
	f.StringVar(&resumeRunID, "run-id", "", "Resume run-registry bookkeeping under an existing run UUID instead of minting a new one")

	rootCmd.AddCommand(runsCmd())

	if err := rootCmd.Execute(); err != nil {
		var re *runtimeErr
		if errors.As(err, &re) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// runsCmd returns the `pbt runs` subcommand tree for inspecting the
// run registry of a checkpoint database without starting a run.
func runsCmd() *cobra.Command {
	var databasePath string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect runs recorded in a checkpoint database's run registry",
	}
	cmd.PersistentFlags().StringVar(&databasePath, "database-path", "", "Directory path the checkpoint database is located at")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every run registered in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.NewStore(databasePath)
			if err != nil {
				return wrapRuntime(err)
			}
			entries := reg.List()
			fmt.Printf("%d run(s) registered\n", reg.Count())
			for _, e := range entries {
				fmt.Printf("%s  task=%v evolver=%v status=%v\n", e.UUID, e.Metadata["task"], e.Metadata["evolver"], e.Metadata["status"])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one registered run's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.NewStore(databasePath)
			if err != nil {
				return wrapRuntime(err)
			}
			entry, ok := reg.Get(args[0])
			if !ok {
				return fmt.Errorf("run %s is not registered", args[0])
			}
			fmt.Printf("uuid: %s\ncreated: %s\nupdated: %s\nmetadata: %v\n", entry.UUID, entry.CreatedAt, entry.UpdatedAt, entry.Metadata)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <run-id>",
		Short: "Remove a run from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.NewStore(databasePath)
			if err != nil {
				return wrapRuntime(err)
			}
			return reg.Delete(args[0])
		},
	})

	return cmd
}

// run implements the startup sequence after CLI flags are parsed.
func run(flags *pflag.FlagSet, cliOverrides *core.CLIOverrides, resumeRunID string) error {
	core.PrintBanner("0.1.0")

	configPath := ""
	if cliOverrides.ConfigPath != nil && *cliOverrides.ConfigPath != "" {
		configPath = *cliOverrides.ConfigPath
	} else {
		configPath = os.Getenv("PBT_CONFIG")
	}

	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyExplicitFlags(flags, cfg, cliOverrides)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log.Printf("task: %s", cfg.Run.Task)
	log.Printf("database path: %s", cfg.Storage.DatabasePath)

	tk, err := task.Lookup(cfg.Run.Task)
	if err != nil {
		return fmt.Errorf("failed to resolve task: %w", err)
	}

	reg, err := registry.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		return wrapRuntime(fmt.Errorf("failed to initialize run registry: %w", err))
	}
	runMeta := map[string]any{"task": cfg.Run.Task, "evolver": cfg.Evolver.Strategy, "status": "running"}
	var runEntry *registry.Entry
	if resumeRunID != "" {
		runEntry, _, err = reg.FindOrCreate(resumeRunID, runMeta)
	} else {
		runEntry, err = reg.NewRun(runMeta)
	}
	if err != nil {
		return wrapRuntime(fmt.Errorf("failed to register run: %w", err))
	}
	log.Printf("run id: %s", runEntry.UUID)

	store, err := persistence.NewStoreWithDurability(
		cfg.Storage.DatabasePath,
		cfg.Storage.Compress,
		persistence.DurabilityConfig{
			WALEnabled:                 cfg.Storage.WALEnabled,
			FsyncPolicy:                cfg.Storage.FsyncPolicy,
			FsyncInterval:              cfg.Storage.FsyncInterval,
			ChecksumValidationInterval: cfg.Storage.ChecksumValidationInterval,
			StartupRepair:              cfg.Storage.StartupRepair,
		},
		nil, nil,
	)
	if err != nil {
		return wrapRuntime(fmt.Errorf("failed to initialize checkpoint database: %w", err))
	}
	log.Println("checkpoint database initialized")

	pool, err := concurrency.NewWorkerPool(cfg.Worker.NJobs, cfg.Worker.Devices)
	if err != nil {
		return wrapRuntime(fmt.Errorf("failed to initialize worker pool: %w", err))
	}
	log.Printf("worker pool initialized (n_jobs=%d, devices=%v)", cfg.Worker.NJobs, cfg.Worker.Devices)

	metricSplit := checkpoint.Split(cfg.Run.MetricSplit)
	metric := evolver.Metric{Split: metricSplit, Name: cfg.Run.MetricName, Higher: cfg.Run.HigherIsBetter}
	ev, err := buildEvolver(cfg, metric)
	if err != nil {
		return wrapRuntime(fmt.Errorf("failed to build evolver: %w", err))
	}
	log.Printf("evolver: %s", cfg.Evolver.Strategy)

	ctl, err := controller.New(controller.Config{
		Task:           tk,
		Evolver:        ev,
		Pool:           pool,
		Store:          store,
		PopulationSize: cfg.Run.PopulationSize,
		StepSize:       cfg.Run.StepSize,
		MaxSteps:       cfg.Run.MaxSteps,
		MaxGenerations: cfg.Run.MaxGenerations,
		ScoreTarget:    cfg.Run.ScoreTarget,
		MetricSplit:    metricSplit,
		MetricName:     cfg.Run.MetricName,
		HigherIsBetter: cfg.Run.HigherIsBetter,
		Verbose:        cfg.Logging.Verbose,
		Rng:            rand.New(rand.NewSource(1)),
	})
	if err != nil {
		return wrapRuntime(fmt.Errorf("failed to initialize controller: %w", err))
	}

	flushStop := store.StartFlushWorker(cfg.Storage.FsyncInterval)
	checksumStop := store.StartChecksumValidationWorker(cfg.Storage.ChecksumValidationInterval)

	ctx, cancel := context.WithCancel(context.Background())
	go core.WaitForShutdown(ctx, cancel)

	log.Println("controller is running")
	log.Println("--------------------------------------------")

	runErr := ctl.Run(ctx)
	cancel()

	log.Println("shutting down...")

	close(flushStop)
	if checksumStop != nil {
		close(checksumStop)
	}
	pool.Shutdown()

	status := "completed"
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			status = "canceled"
		} else {
			status = "failed"
		}
	}
	finalMeta := map[string]any{
		"task":       cfg.Run.Task,
		"evolver":    cfg.Evolver.Strategy,
		"status":     status,
		"generation": ctl.Generation(),
		"steps":      ctl.Steps(),
	}
	if _, uerr := reg.Update(runEntry.UUID, runEntry.UUID, finalMeta); uerr != nil {
		log.Printf("failed to record final run status: %v", uerr)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Printf("controller stopped with error: %v", runErr)
		return wrapRuntime(runErr)
	}

	log.Println("shutdown complete")
	return nil
}

func buildEvolver(cfg *core.Config, metric evolver.Metric) (evolver.Evolver, error) {
	switch cfg.Evolver.Strategy {
	case "exploit_explore":
		return evolver.NewExploitAndExplore(metric, cfg.Evolver.ExploitFactor, cfg.Evolver.ExploreLow, cfg.Evolver.ExploreHigh, cfg.Evolver.RandomWalk)
	case "differential_evolution":
		return evolver.NewDifferentialEvolution(metric, cfg.Evolver.F, cfg.Evolver.Cr)
	case "particle_swarm":
		return evolver.NewParticleSwarm(metric, cfg.Evolver.Inertia, cfg.Evolver.Cognition, cfg.Evolver.Social), nil
	default:
		return nil, fmt.Errorf("unknown evolver strategy %q", cfg.Evolver.Strategy)
	}
}

// applyExplicitFlags applies only the CLI flags that were explicitly
// set by the user, so unset flags never clobber values resolved from
// YAML or environment variables.
func applyExplicitFlags(flags *pflag.FlagSet, cfg *core.Config, o *core.CLIOverrides) {
	overrides := core.CLIOverrides{}

	if flags.Changed("task") {
		overrides.Task = o.Task
	}
	if flags.Changed("population-size") {
		overrides.PopulationSize = o.PopulationSize
	}
	if flags.Changed("step-size") {
		overrides.StepSize = o.StepSize
	}
	if flags.Changed("max-steps") {
		overrides.MaxSteps = o.MaxSteps
	}
	if flags.Changed("max-generations") {
		overrides.MaxGenerations = o.MaxGenerations
	}
	if flags.Changed("score-target") {
		overrides.ScoreTarget = o.ScoreTarget
	}
	if flags.Changed("n-jobs") {
		overrides.NJobs = o.NJobs
	}
	if flags.Changed("devices") {
		if v, err := flags.GetString("devices"); err == nil && v != "" {
			devices := strings.Split(v, ",")
			for i := range devices {
				devices[i] = strings.TrimSpace(devices[i])
			}
			overrides.Devices = &devices
		}
	}
	if flags.Changed("database-path") {
		overrides.DatabasePath = o.DatabasePath
	}
	if flags.Changed("compress") {
		overrides.Compress = o.Compress
	}
	if flags.Changed("evolver") {
		overrides.EvolverStrategy = o.EvolverStrategy
	}
	if flags.Changed("verbose") {
		overrides.Verbose = o.Verbose
	}

	cfg.ApplyCLIOverrides(&overrides)
}
