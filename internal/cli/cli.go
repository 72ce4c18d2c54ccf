// Package cli wires the scheduler's commands: recommend, run, reap, status
// and serve.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"regimecast/scheduler/internal/api"
	"regimecast/scheduler/internal/config"
	"regimecast/scheduler/internal/feedback"
	"regimecast/scheduler/internal/freshness"
	"regimecast/scheduler/internal/logging"
	"regimecast/scheduler/internal/metrics"
	"regimecast/scheduler/internal/pipeline"
	"regimecast/scheduler/internal/recommend"
	"regimecast/scheduler/internal/registry"
	tlsutil "regimecast/scheduler/internal/tls"
	"regimecast/scheduler/pkg/models"
)

// ErrTrainingRequired signals a non-inference recommendation through the
// process exit code, so cron wrappers can branch on it.
var ErrTrainingRequired = errors.New("training required")

// app holds the assembled scheduler components for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *registry.Registry
	engine   *recommend.Engine
	executor *pipeline.Executor
	history  feedback.HistoryStore
	metrics  *metrics.Collector
	pool     *pgxpool.Pool
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// bootstrap loads config and assembles the registry, recommendation engine
// and pipeline executor over the configured storage driver.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.NewLogger()

	a := &app{cfg: cfg, logger: logger}

	var store registry.Store
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.ConnString())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		pg := registry.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
		a.pool = pool
		store = pg
		a.history = feedback.NewPostgresHistoryStore(pool)
	case "memory":
		store = registry.NewMemoryStore()
		a.history = feedback.NewMemoryHistoryStore()
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	a.registry = registry.New(store)
	policy := freshness.NewPolicy(cfg.Thresholds())
	entities := cfg.EntityList()
	a.engine = recommend.NewEngine(a.registry, policy, entities)
	a.metrics = metrics.NewCollector()

	var collab pipeline.Collaborator = pipeline.NoopCollaborator{}
	if len(cfg.Pipeline.Commands) > 0 {
		collab = pipeline.NewExecCollaborator(cfg.Pipeline.Commands, logger)
	}

	coreStages := map[pipeline.Stage]models.Entity{}
	for _, e := range cfg.Entities {
		if !e.Core {
			continue
		}
		switch e.TrainStage {
		case "cluster":
			coreStages[pipeline.StageCluster] = models.Entity{Name: e.Name, Cadence: models.Cadence(e.Cadence), Core: true}
		case "classify":
			coreStages[pipeline.StageClassify] = models.Entity{Name: e.Name, Cadence: models.Cadence(e.Cadence), Core: true}
		case "":
			// Untracked core work: the stage still runs, nothing versioned.
		default:
			return nil, fmt.Errorf("core entity %q has unknown train_stage %q", e.Name, e.TrainStage)
		}
	}

	controller := feedback.NewController(
		cfg.Feedback.AbsoluteCeiling,
		cfg.Feedback.DegradationMargin,
		cfg.Feedback.MinSamples,
	)
	stages := pipeline.NewStages(pipeline.Deps{
		Registry:   a.registry,
		Entities:   entities,
		CoreStages: coreStages,
		Collab:     collab,
		Feedback:   controller,
		History:    a.history,
		Lookback:   time.Duration(cfg.Feedback.LookbackDays) * 24 * time.Hour,
		MaxWorkers: cfg.Pipeline.MaxTrainWorkers,
		Logger:     logger,
	})
	a.executor = pipeline.NewExecutor(stages, a.engine, logger).WithObserver(a.metrics)

	return a, nil
}

// BuildCLI assembles the command tree.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Regimecast scheduler: model lifecycle and pipeline orchestration",
		Long: `The regimecast scheduler tracks model artifact freshness, recommends
the cheapest sufficient workflow, and executes the training and
inference pipelines.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(buildRecommendCommand())
	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildReapCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildServeCommand())

	return rootCmd
}

func buildRecommendCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Print the recommended workflow for the current model state",
		Long: `Inspects every tracked model artifact and prints the cheapest workflow
that restores full freshness. Exits 0 when inference-only is sufficient
and non-zero when training is needed, so shell wrappers can branch on
the exit code.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.engine.Recommend(ctx, time.Now())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(rec); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "decision: %s\nreason:   %s\n", rec.Decision, rec.Reason)
				if len(rec.StaleEntities) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "stale:    %v\n", rec.StaleEntities)
				}
			}

			if rec.Decision != models.DecisionInference {
				return fmt.Errorf("%w (%s)", ErrTrainingRequired, rec.Decision)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the recommendation as JSON")
	return cmd
}

func buildRunCommand() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run",
		Long: `Runs the pipeline in the given mode. Mode "auto" asks the
recommendation engine to pick training, inference or full at run start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := pipeline.ParseMode(mode)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			state, err := a.executor.Run(ctx, parsed)
			printRunSummary(cmd, state)
			return err
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "auto", "workflow mode: auto, training, inference, full")
	return cmd
}

func printRunSummary(cmd *cobra.Command, state pipeline.RunState) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run:\t%s\nmode:\t%s\n", state.RunID, state.Mode)
	for _, stage := range state.CompletedStages {
		result, _ := state.Result(stage)
		status := "ok"
		if !result.Success {
			status = "failed: " + result.Error
		}
		fmt.Fprintf(w, "  %s\t%.2fs\t%s\n", stage, result.Elapsed.Seconds(), status)
	}
	w.Flush()
}

func buildReapCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Fail versions stuck in the training state",
		Long: `Scans every entity record for versions left in the training state by a
crashed run and marks them failed. Run it from cron, or before a
scheduled pipeline run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			reaped, err := a.registry.ReapAbandoned(ctx, olderThan)
			if err != nil {
				return err
			}
			if len(reaped) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no abandoned versions found")
				return nil
			}
			for _, r := range reaped {
				fmt.Fprintf(cmd.OutOrStdout(), "reaped %s v%d\n", r.Entity, r.Version)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "minimum age of a training version before it is reaped")
	return cmd
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every tracked entity's version state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.registry.ListRecords(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ENTITY\tACTIVE\tVERSIONS\tLAST TRAINED")
			for _, record := range records {
				active := "-"
				lastTrained := "-"
				if v := record.Active(); v != nil {
					active = fmt.Sprintf("v%d", v.Version)
					lastTrained = v.CreatedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", record.Entity, active, len(record.Versions), lastTrained)
			}
			return w.Flush()
		},
	}
}

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only inspection API",
		Long: `Starts an HTTP server exposing the current recommendation, per-entity
version records, health and Prometheus metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := api.NewServer(a.registry, a.engine, a.metrics.Handler())
			server := &http.Server{
				Addr:         a.cfg.HTTP.Addr,
				Handler:      srv.Router(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			serverErrors := make(chan error, 1)
			go func() {
				a.logger.Info("server starting on %s (tls=%t)", a.cfg.HTTP.Addr, a.cfg.TLS.Enable)
				if a.cfg.TLS.Enable {
					if a.cfg.TLS.SelfSigned {
						if _, statErr := os.Stat(a.cfg.TLS.CertFile); os.IsNotExist(statErr) {
							a.logger.Info("generating self-signed certificate at %s", a.cfg.TLS.CertFile)
							if genErr := tlsutil.GenerateSelfSignedCert(a.cfg.TLS.CertFile, a.cfg.TLS.KeyFile, []string{"localhost", "127.0.0.1"}); genErr != nil {
								serverErrors <- genErr
								return
							}
						}
					}
					serverErrors <- server.ListenAndServeTLS(a.cfg.TLS.CertFile, a.cfg.TLS.KeyFile)
					return
				}
				serverErrors <- server.ListenAndServe()
			}()

			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				a.logger.Info("shutdown signal received")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					server.Close()
					return err
				}
				return nil
			}
		},
	}
}

// Execute runs the CLI and exits the process on error.
func Execute() {
	if err := BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
