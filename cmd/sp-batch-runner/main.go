package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vitebski/sp-batch-runner/internal/analyzer"
	"github.com/vitebski/sp-batch-runner/internal/catalog"
	"github.com/vitebski/sp-batch-runner/internal/config"
	"github.com/vitebski/sp-batch-runner/internal/connector"
	"github.com/vitebski/sp-batch-runner/internal/executor"
	"github.com/vitebski/sp-batch-runner/internal/extractor"
	"github.com/vitebski/sp-batch-runner/internal/metrics"
	"github.com/vitebski/sp-batch-runner/internal/orchestrator"
	"github.com/vitebski/sp-batch-runner/internal/utils"
	"github.com/vitebski/sp-batch-runner/pkg/models"
)

// flagKeys maps command-line flags onto configuration keys
var flagKeys = map[string]string{
	"connection-string":    "database.connection_string",
	"dialect":              "database.dialect",
	"procedure-list":       "paths.procedure_list",
	"output-dir":           "paths.output_directory",
	"metrics-file":         "paths.metrics_file",
	"max-workers":          "processing.max_workers",
	"batch-size":           "processing.batch_size",
	"continue-on-error":    "processing.continue_on_error",
	"template-write-kinds": "processing.template_for_write_kinds",
	"sample-values":        "json_extraction.sample_values",
	"log-level":            "logging.level",
}

func main() {
	var (
		configFile     string
		envFile        string
		sequential     bool
		testConnection bool
		analyzeOnly    bool
	)

	rootCmd := &cobra.Command{
		Use:   "sp-batch-runner",
		Short: "A tool to execute stored procedures in bulk and capture their results",
		Long: `Stored Procedure Batch Runner

A Go tool that reads a list of stored procedures, fetches their definitions,
derives a JSON input payload for each one, executes them against SQL Server
or MySQL and saves the definition, input and output of every procedure.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup logging
			logLevel, _ := cmd.Flags().GetString("log-level")
			logger := utils.SetupLogging(logLevel)

			// Load environment variables
			utils.LoadEnvironmentVariables(envFile, logger)

			v := config.New()
			for flag, key := range flagKeys {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
			if sequential {
				v.Set("processing.parallel_processing", false)
			}

			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			if cfg.Logging.Level != "" && cfg.Logging.Level != logLevel {
				logger = utils.SetupLogging(cfg.Logging.Level)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, v, logger, testConnection, analyzeOnly)
		},
	}

	// Define flags
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to YAML config file (default: ./sp-batch.yaml when present)")
	rootCmd.Flags().StringVarP(&envFile, "env-file", "e", ".env", "Path to .env file")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringP("connection-string", "s", "", "Database connection string")
	rootCmd.Flags().StringP("dialect", "d", "sqlserver", "Database dialect (sqlserver, mysql)")
	rootCmd.Flags().StringP("procedure-list", "f", "", "CSV or YAML file listing the procedures to run")
	rootCmd.Flags().StringP("output-dir", "o", "output", "Directory for the saved artifacts")
	rootCmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this file after the run")
	rootCmd.Flags().IntP("max-workers", "w", 3, "Maximum number of procedures processed concurrently")
	rootCmd.Flags().IntP("batch-size", "b", 0, "Process procedures in batches of this size (0: one batch)")
	rootCmd.Flags().Bool("continue-on-error", true, "Keep processing after a failed procedure in sequential mode")
	rootCmd.Flags().Bool("template-write-kinds", false, "Generate input templates for Save, Delete, Update and Create procedures")
	rootCmd.Flags().Bool("sample-values", false, "Fill generated templates with realistic sample values")
	rootCmd.Flags().BoolVar(&sequential, "sequential", false, "Process procedures one at a time")
	rootCmd.Flags().BoolVarP(&testConnection, "test-connection", "t", false, "Only test the database connection")
	rootCmd.Flags().BoolVarP(&analyzeOnly, "analyze-only", "a", false, "Only analyze procedure signatures without executing them")

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, v *viper.Viper, logger *logrus.Logger, testConnection, analyzeOnly bool) error {
	logger.Debugf("Using database dialect %s with connection %s",
		cfg.Database.Dialect, utils.MaskConnectionString(cfg.Database.ConnectionString))
	if used := v.ConfigFileUsed(); used != "" {
		logger.Infof("Loaded configuration from %s", used)
	}

	// Create database connector
	db, err := connector.NewDatabaseConnector(cfg.ConnectionConfig(), cfg.PoolOptions(), logger)
	if err != nil {
		return err
	}
	if err := db.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Disconnect()

	if testConnection {
		if _, err := db.TestConnection(ctx); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		logger.Info("Database connection test succeeded")
		return nil
	}

	if cfg.Paths.ProcedureList == "" {
		return fmt.Errorf("no procedure list given: set paths.procedure_list or --procedure-list")
	}
	refs, err := catalog.Load(cfg.Paths.ProcedureList)
	if err != nil {
		return err
	}
	logger.Infof("Loaded %d stored procedures from %s", len(refs), cfg.Paths.ProcedureList)

	if analyzeOnly {
		analyze(ctx, db, refs, logger)
		logger.Info("Analyze-only mode, exiting without executing procedures")
		return nil
	}

	recorder := metrics.NewRecorder()
	recorder.RegisterPool(db.Pool.Stats)

	exec := executor.NewProcedureExecutor(db, recorder, logger)
	exec.MaxRetries = cfg.Processing.MaxRetries
	exec.RetryDelay = cfg.Processing.RetryDelay

	processor, err := orchestrator.NewBatchProcessor(
		db,
		extractor.NewJSONExtractor(cfg.ExtractionOptions(), logger),
		exec,
		cfg.ProcessingOptions(),
		recorder,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare output directory: %w", err)
	}

	// Process procedures
	logger.Info("Starting stored procedure processing...")
	summary := processor.Run(ctx, refs)

	// Print summary
	utils.PrintSummary(os.Stdout, summary)

	if cfg.Paths.MetricsFile != "" {
		if err := recorder.WriteTextfile(cfg.Paths.MetricsFile); err != nil {
			logger.Warnf("Failed to write metrics to %s: %v", cfg.Paths.MetricsFile, err)
		} else {
			logger.Infof("Metrics written to %s", cfg.Paths.MetricsFile)
		}
	}

	// Return appropriate exit code
	if !summary.Success {
		return fmt.Errorf("%d of %d stored procedures failed", summary.Failed, summary.Total)
	}
	return nil
}

// analyze fetches every definition and prints signatures and nested calls
func analyze(ctx context.Context, db *connector.DatabaseConnector, refs []models.ProcedureRef, logger *logrus.Logger) {
	sa := analyzer.NewSignatureAnalyzer(logger)
	sources := make(map[string]string, len(refs))
	signatures := make(map[string]models.ProcedureSignature, len(refs))

	for _, ref := range refs {
		source, err := db.FetchProcedureSource(ctx, ref.Name)
		if err != nil {
			logger.Warnf("Could not retrieve definition of %s: %v", ref.Name, err)
			continue
		}
		if source == "" {
			continue
		}
		sources[ref.Name] = source
		signatures[ref.Name] = sa.Analyze(source)
	}

	utils.PrintSignatureAnalysis(os.Stdout, refs, signatures, analyzer.BuildCallGraph(sources))
}
