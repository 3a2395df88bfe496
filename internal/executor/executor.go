package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/sp-batch-runner/internal/analyzer"
	"github.com/vitebski/sp-batch-runner/internal/connector"
	"github.com/vitebski/sp-batch-runner/internal/metrics"
	"github.com/vitebski/sp-batch-runner/pkg/models"
)

const (
	// DefaultMaxRetries is the number of attempts per execution
	DefaultMaxRetries = 3
	// DefaultRetryDelay is multiplied by the attempt number between attempts
	DefaultRetryDelay = time.Second
)

// Database hands out pooled sessions. *connector.DatabaseConnector
// satisfies it.
type Database interface {
	WithConnection(ctx context.Context, fn func(conn connector.Conn) error) error
}

// ProcedureExecutor runs stored procedures and captures their result sets
// and output parameters
type ProcedureExecutor struct {
	DB             Database
	Dialect        connector.Dialect
	Analyzer       *analyzer.SignatureAnalyzer
	MaxRetries     int
	RetryDelay     time.Duration
	CommandTimeout time.Duration
	Metrics        *metrics.Recorder
	Logger         *logrus.Logger

	// Sleep waits between attempts
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewProcedureExecutor creates an executor over a connected database connector
func NewProcedureExecutor(dc *connector.DatabaseConnector, recorder *metrics.Recorder, logger *logrus.Logger) *ProcedureExecutor {
	return &ProcedureExecutor{
		DB:             dc,
		Dialect:        dc.Dialect,
		Analyzer:       analyzer.NewSignatureAnalyzer(logger),
		MaxRetries:     DefaultMaxRetries,
		RetryDelay:     DefaultRetryDelay,
		CommandTimeout: dc.Config.CommandTimeout,
		Metrics:        recorder,
		Logger:         logger,
		Sleep:          sleepContext,
	}
}

// Execute runs the procedure with the JSON payload bound to its first
// parameter. It never returns an error: failures are reported in the
// envelope's ErrorMessage and ErrorCategory.
func (e *ProcedureExecutor) Execute(ctx context.Context, name, source, inputJSON string) *models.ExecutionResult {
	log := e.Logger.WithField("procedure", name)

	if strings.TrimSpace(inputJSON) == "" {
		inputJSON = "{}"
	}

	if err := connector.ValidateProcedureName(name); err != nil {
		log.Errorf("Rejected procedure name: %v", err)
		return e.errorResult(err.Error(), models.CategoryValidation)
	}

	signature := e.Analyzer.Analyze(source)
	outputs := e.outputVars(log, signature)

	maxRetries := e.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, err := e.executeOnce(ctx, name, inputJSON, outputs)
		if err == nil {
			log.WithField("attempt", attempt).Infof("Executed with %d result sets", len(result.ResultSets))
			e.Metrics.ObserveExecution(models.StatusSuccess, "")
			return result
		}

		category := Classify(err)
		log.WithFields(logrus.Fields{
			"attempt":  attempt,
			"category": category,
		}).Warnf("Execution attempt failed: %v", err)

		if !category.Retryable() {
			return e.errorResult(err.Error(), category)
		}
		if attempt == maxRetries {
			return e.errorResult(
				fmt.Sprintf("Execution failed after %d attempts: %v", maxRetries, err),
				models.CategoryMaxRetriesExceeded)
		}

		e.Metrics.IncRetry(category)
		delay := e.RetryDelay * time.Duration(attempt)
		log.Infof("Retrying in %s", delay)
		if err := e.sleep(ctx, delay); err != nil {
			return e.errorResult(err.Error(), Classify(err))
		}
	}

	return e.errorResult("Execution was not attempted", models.CategoryUnknown)
}

// executeOnce runs one attempt on a pooled session
func (e *ProcedureExecutor) executeOnce(ctx context.Context, name, inputJSON string, outputs []connector.OutputVar) (*models.ExecutionResult, error) {
	if e.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.CommandTimeout)
		defer cancel()
	}

	query := e.Dialect.SimpleCall(name)
	if len(outputs) > 0 {
		query = e.Dialect.OutputCall(name, outputs)
	}

	var sets []models.ResultSet
	err := e.DB.WithConnection(ctx, func(conn connector.Conn) error {
		rows, err := conn.QueryContext(ctx, query, inputJSON)
		if err != nil {
			return err
		}
		defer rows.Close()

		sets, err = connector.ReadResultSets(rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, set := range sets {
		for _, row := range set.Rows {
			decodeJSONCells(row)
		}
	}

	result := &models.ExecutionResult{
		ExecutionStatus: models.StatusSuccess,
		ResultSets:      sets,
		Timestamp:       time.Now(),
	}

	// the trailing SELECT of the output batch carries the OUTPUT values
	if len(outputs) > 0 && len(sets) > 0 {
		last := sets[len(sets)-1]
		if len(last.Rows) > 0 {
			result.OutputParameters = last.Rows[0]
			result.OutputColumns = last.Columns
		}
		result.ResultSets = sets[:len(sets)-1]
	}

	return result, nil
}

// outputVars declares one typed local per OUTPUT parameter
func (e *ProcedureExecutor) outputVars(log *logrus.Entry, signature models.ProcedureSignature) []connector.OutputVar {
	outputs := make([]connector.OutputVar, 0, len(signature.OutputParams))
	for _, param := range signature.OutputParams {
		sqlType, known := NormalizeSQLType(param)
		if !known {
			log.Warnf("Unknown SQL type %s for @%s, using %s", param.BaseType, param.Name, sqlType)
		}
		outputs = append(outputs, connector.OutputVar{Name: param.Name, SQLType: sqlType})
	}
	return outputs
}

func (e *ProcedureExecutor) errorResult(message string, category models.ErrorCategory) *models.ExecutionResult {
	e.Metrics.ObserveExecution(models.StatusError, category)
	return &models.ExecutionResult{
		ExecutionStatus: models.StatusError,
		ErrorMessage:    message,
		ErrorCategory:   category,
		ResultSets:      []models.ResultSet{},
		Timestamp:       time.Now(),
	}
}

func (e *ProcedureExecutor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decodeJSONCells replaces string cells holding a JSON object or array
// with the decoded value
func decodeJSONCells(row models.Row) {
	for column, value := range row {
		text, ok := value.(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(text)
		if !(strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) &&
			!(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
			continue
		}

		dec := json.NewDecoder(strings.NewReader(trimmed))
		dec.UseNumber()
		var decoded interface{}
		if err := dec.Decode(&decoded); err == nil && !dec.More() {
			row[column] = decoded
		}
	}
}
