package utils

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/sp-batch-runner/internal/analyzer"
	"github.com/vitebski/sp-batch-runner/pkg/models"
)

// SetupLogging configures the logging system
func SetupLogging(logLevel string) *logrus.Logger {
	// Create a new logger
	logger := logrus.New()

	// Get log level from environment variable or parameter
	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv("SPBATCH_LOG_LEVEL")
		if levelStr == "" {
			levelStr = "info"
		}
	}

	// Parse log level
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	// Configure logger
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stdout)

	logger.Debugf("Logging configured with level: %s", level)
	return logger
}

// LoadEnvironmentVariables loads environment variables from .env file and
// reports whether a connection string is available
func LoadEnvironmentVariables(envFile string, logger *logrus.Logger) bool {
	// Check if a sample .env file exists but not the actual .env file
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		sampleEnvFile := envFile + ".sample"
		if _, err := os.Stat(sampleEnvFile); err == nil {
			logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
				envFile, sampleEnvFile, sampleEnvFile, envFile)
		}
	}

	// Load environment variables from .env file if it exists
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.Warningf("Error loading %s file: %v", envFile, err)
		} else {
			logger.Infof("Loaded environment variables from %s", envFile)
		}
	} else {
		logger.Debugf("No %s file found, using existing environment variables", envFile)
	}

	if os.Getenv("SPBATCH_DATABASE_CONNECTION_STRING") == "" {
		logger.Debug("SPBATCH_DATABASE_CONNECTION_STRING is not set; expecting it from flags or the config file")
		return false
	}

	// Log the SPBATCH_* environment variables (for debugging)
	if logger.Level == logrus.DebugLevel {
		for _, env := range os.Environ() {
			if strings.HasPrefix(env, "SPBATCH_") {
				parts := strings.SplitN(env, "=", 2)
				if len(parts) == 2 {
					if parts[0] == "SPBATCH_DATABASE_CONNECTION_STRING" {
						logger.Debugf("%s=%s", parts[0], MaskConnectionString(parts[1]))
					} else {
						logger.Debugf("%s=%s", parts[0], parts[1])
					}
				}
			}
		}
	}

	return true
}

// MaskConnectionString hides password values in a key=value connection string
func MaskConnectionString(connectionString string) string {
	parts := strings.Split(connectionString, ";")
	for i, part := range parts {
		key, _, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "password", "pwd":
			parts[i] = key + "=********"
		}
	}
	return strings.Join(parts, ";")
}

// PrintSummary prints a summary of the batch run
func PrintSummary(w io.Writer, summary *models.BatchSummary) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 60))
	fmt.Fprintln(w, "STORED PROCEDURE BATCH SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Run ID: %s\n", summary.RunID)
	fmt.Fprintf(w, "Total procedures processed: %d\n", summary.Total)
	fmt.Fprintf(w, "Successful: %d\n", summary.Successful)
	fmt.Fprintf(w, "Failed: %d\n", summary.Failed)
	fmt.Fprintf(w, "Definitions saved: %d\n", summary.DefinitionsSaved)
	fmt.Fprintf(w, "Inputs saved: %d\n", summary.InputsSaved)
	fmt.Fprintf(w, "Outputs saved: %d\n", summary.OutputsSaved)
	fmt.Fprintf(w, "Total time: %.2fs\n", summary.Timing.TotalSeconds)
	fmt.Fprintf(w, "Average time: %.2fs per procedure\n", summary.Timing.AverageSeconds)
	fmt.Fprintf(w, "Fastest: %.2fs, slowest: %.2fs\n", summary.Timing.FastestSeconds, summary.Timing.SlowestSeconds)
	fmt.Fprintf(w, "Output directory: %s\n", summary.OutputDirectory)

	var executionErrors int
	for _, r := range summary.Results {
		if r.Success && r.ExecutionStatus == models.StatusError {
			executionErrors++
		}
	}
	if executionErrors > 0 {
		fmt.Fprintf(w, "Saved with execution errors: %d (see the Output artifacts)\n", executionErrors)
	}

	if len(summary.Errors) > 0 {
		fmt.Fprintln(w, "\nFailed procedures:")
		for _, e := range summary.Errors {
			fmt.Fprintf(w, "  - %s: %s\n", e.Procedure, e.Error)
		}
	}

	fmt.Fprintln(w, strings.Repeat("=", 60))
}

// PrintSignatureAnalysis prints the analyzed contract of every procedure and
// the nested call graph between them
func PrintSignatureAnalysis(w io.Writer, refs []models.ProcedureRef, signatures map[string]models.ProcedureSignature, callGraph *analyzer.CallGraph) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(w, "STORED PROCEDURE SIGNATURE ANALYSIS REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "\n1. SIGNATURES")
	for _, ref := range refs {
		signature, ok := signatures[ref.Name]
		if !ok {
			fmt.Fprintf(w, "   %3d. %s (%s): definition not found\n", ref.Ordinal, ref.Name, ref.Kind)
			continue
		}

		fmt.Fprintf(w, "   %3d. %s (%s)\n", ref.Ordinal, ref.Name, ref.Kind)
		for _, p := range signature.InputParams {
			fmt.Fprintf(w, "        in   @%s %s%s\n", p.Name, p.FullType, describeParam(p))
		}
		for _, p := range signature.OutputParams {
			fmt.Fprintf(w, "        out  @%s %s\n", p.Name, p.FullType)
		}
		if signature.HasReturnValue {
			fmt.Fprintln(w, "        captures a return value")
		}
	}

	if callGraph == nil {
		fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
		return
	}

	fmt.Fprintln(w, "\n2. NESTED CALLS")
	for _, name := range callGraph.Names {
		if callees := callGraph.Callees(name); len(callees) > 0 {
			fmt.Fprintf(w, "   %s -> %s\n", name, strings.Join(callees, ", "))
		}
	}

	if len(callGraph.Cycles) > 0 {
		fmt.Fprintln(w, "\n3. CIRCULAR CALLS")
		for _, cycle := range callGraph.Cycles {
			members := append([]string(nil), cycle...)
			sort.Strings(members)
			fmt.Fprintf(w, "   %s\n", strings.Join(members, " <-> "))
		}
	} else if order, ok := callGraph.CalleeFirstOrder(); ok {
		fmt.Fprintln(w, "\n3. CALLEE-FIRST ORDER")
		for i, name := range order {
			fmt.Fprintf(w, "   %3d. %s\n", i+1, name)
		}
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
}

func describeParam(p models.ParameterInfo) string {
	var notes []string
	if !p.Nullable {
		notes = append(notes, "NOT NULL")
	}
	if p.DefaultLiteral != nil {
		notes = append(notes, "= "+*p.DefaultLiteral)
	}
	if len(notes) == 0 {
		return ""
	}
	return " " + strings.Join(notes, " ")
}
