// cmd/root.go
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/microgrid-sim/microgrid-sim/internal/auction"
	"github.com/microgrid-sim/microgrid-sim/internal/bus"
	"github.com/microgrid-sim/microgrid-sim/internal/config"
	"github.com/microgrid-sim/microgrid-sim/internal/eventlog"
	"github.com/microgrid-sim/microgrid-sim/internal/failure"
	"github.com/microgrid-sim/microgrid-sim/internal/grid"
	"github.com/microgrid-sim/microgrid-sim/internal/metrics"
	"github.com/microgrid-sim/microgrid-sim/internal/orchestrator"
	"github.com/microgrid-sim/microgrid-sim/internal/registry"
	"github.com/microgrid-sim/microgrid-sim/internal/rng"
)

var (
	configPath string
	seed       int64
	rounds     int64
	logLevel   string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "microgrid-sim",
	Short: "Coordinator for the multi-agent smart microgrid auction",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the coordinator's round loop",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("invalid log level: %s", logLevel)
		}
		log := logrus.New()
		log.SetLevel(level)

		cfg, err := config.Load(configPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}

		sink, closeSink := buildSink(log)
		defer closeSink()

		o := buildOrchestrator(cfg, sink, log)
		runID := uuid.NewString()
		log.WithFields(logrus.Fields{"run_id": runID, "config": configPath, "seed": seed, "rounds": rounds}).Info("coordinator starting")

		o.Start()
		if rounds > 0 {
			for i := int64(0); i < rounds; i++ {
				o.RunRound()
			}
			log.Info("coordinator reached requested round count")
			return
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigs
			o.Stop()
		}()
		o.Run()
		log.Info("coordinator stopped")
	},
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate a scenario file without running it",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		fmt.Printf("%s: %s\n", cfg.Name, cfg.Description)
		fmt.Printf("  transmission_limit_kw: %.2f\n", cfg.Simulation.TransmissionLimitKW)
		fmt.Printf("  offers_timeout_s: %.2f\n", cfg.Simulation.OffersTimeout)
		fmt.Printf("  round_sleep_s: %.2f\n", cfg.Simulation.RoundSleepSeconds)
		fmt.Printf("  agent_limits_kw: consumer=%.2f prosumer=%.2f producer=%.2f storage=%.2f\n",
			cfg.Simulation.AgentLimitsKW.Consumer, cfg.Simulation.AgentLimitsKW.Prosumer,
			cfg.Simulation.AgentLimitsKW.Producer, cfg.Simulation.AgentLimitsKW.Storage)
		fmt.Printf("  external_grid_acceptance_prob: %.2f\n", cfg.ExternalGrid.AcceptanceProb)
		fmt.Printf("  producer_failure_prob: %.2f (duration %d-%d rounds)\n",
			cfg.Producers.FailureProb, cfg.Producers.FailureRoundsRange.Min, cfg.Producers.FailureRoundsRange.Max)
		fmt.Println("config OK")
	},
}

func buildSink(log *logrus.Logger) (eventlog.Sink, func()) {
	if dbPath == "" {
		return eventlog.NewMemorySink(), func() {}
	}
	sink, err := eventlog.OpenSQLiteSink(dbPath)
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	log.WithField("db", dbPath).Info("persisting events and auction results to sqlite")
	return sink, func() { sink.Close() }
}

func buildOrchestrator(cfg *config.ScenarioConfig, sink eventlog.Sink, log *logrus.Logger) *orchestrator.Orchestrator {
	b := bus.New()
	reg := registry.New(sink)
	r := rng.NewPartitionedRNG(rng.NewSimulationKey(seed))

	fc := failure.New(&cfg.Producers, r)
	ae := auction.NewEngine(cfg.Simulation.TransmissionLimitKW, sink)
	capEnforcer := auction.NewCapacityEnforcer(cfg.Simulation.AgentLimitsKW)
	ga := grid.NewAdapter(&cfg.ExternalGrid, r, sink)
	tr := metrics.NewTracker(cfg.Metrics.ReportIntervalRounds, log)

	return orchestrator.New(cfg, b, reg, fc, ae, capEnforcer, ga, tr, sink, log)
}

// Execute runs the root command, exiting with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "scenario.yaml", "Path to the scenario configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (debug, info, warn, error)")

	runCmd.Flags().Int64Var(&seed, "seed", 42, "Simulation key seeding every deterministic draw")
	runCmd.Flags().Int64Var(&rounds, "rounds", 0, "Number of rounds to run (0 runs until interrupted)")
	runCmd.Flags().StringVar(&dbPath, "db", "", "Optional SQLite database path for persisting events and auction results")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateConfigCmd)
}
