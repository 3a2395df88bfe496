package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/sp-batch-runner/internal/extractor"
	"github.com/vitebski/sp-batch-runner/internal/metrics"
	"github.com/vitebski/sp-batch-runner/pkg/models"
	"golang.org/x/sync/errgroup"
)

// errMissingDefinition is the failure message for procedures whose source
// could not be read
const errMissingDefinition = "Could not retrieve SP definition"

// SourceFetcher reads procedure source text. *connector.DatabaseConnector
// satisfies it.
type SourceFetcher interface {
	FetchProcedureSource(ctx context.Context, name string) (string, error)
}

// InputExtractor derives a JSON payload from procedure source.
// *extractor.JSONExtractor satisfies it.
type InputExtractor interface {
	ExtractInputJSON(ctx context.Context, name, source string) (string, error)
}

// ProcedureRunner executes a procedure. *executor.ProcedureExecutor
// satisfies it.
type ProcedureRunner interface {
	Execute(ctx context.Context, name, source, inputJSON string) *models.ExecutionResult
}

// Options controls batch scheduling and input synthesis
type Options struct {
	BatchSize             int
	ParallelProcessing    bool
	MaxWorkers            int
	ContinueOnError       bool
	CreateInputTemplates  bool
	TemplateForWriteKinds bool
	OutputDirectory       string
	WriteTimeout          time.Duration
}

// DefaultOptions returns the standard processing options
func DefaultOptions() Options {
	return Options{
		ParallelProcessing:   true,
		MaxWorkers:           3,
		ContinueOnError:      true,
		CreateInputTemplates: true,
		OutputDirectory:      "output",
		WriteTimeout:         DefaultWriteTimeout,
	}
}

// BatchProcessor runs the fetch, extract, execute and save pipeline over a
// list of procedures
type BatchProcessor struct {
	Fetcher   SourceFetcher
	Extractor InputExtractor
	Runner    ProcedureRunner
	Writer    *ArtifactWriter
	Options   Options
	Metrics   *metrics.Recorder
	Logger    *logrus.Logger
}

// NewBatchProcessor creates a batch processor and its output directory
func NewBatchProcessor(
	fetcher SourceFetcher,
	inputs InputExtractor,
	runner ProcedureRunner,
	opts Options,
	recorder *metrics.Recorder,
	logger *logrus.Logger,
) (*BatchProcessor, error) {
	writer, err := NewArtifactWriter(opts.OutputDirectory, opts.WriteTimeout, recorder, logger)
	if err != nil {
		return nil, err
	}

	return &BatchProcessor{
		Fetcher:   fetcher,
		Extractor: inputs,
		Runner:    runner,
		Writer:    writer,
		Options:   opts,
		Metrics:   recorder,
		Logger:    logger,
	}, nil
}

// Run processes every procedure and returns the aggregated summary. Refs
// without an ordinal are numbered by position, starting at 1.
func (bp *BatchProcessor) Run(ctx context.Context, refs []models.ProcedureRef) *models.BatchSummary {
	runID := uuid.NewString()
	log := bp.Logger.WithField("run_id", runID)
	start := time.Now()

	refs = numbered(refs)
	bp.logKinds(log, refs)

	mode := "sequentially"
	if bp.Options.ParallelProcessing {
		mode = fmt.Sprintf("with %d parallel workers", bp.workers(len(refs)))
	}
	log.Infof("Processing %d stored procedures %s", len(refs), mode)

	var results []models.ProcessingResult
	var progress atomic.Int64
	for _, chunk := range chunks(refs, bp.Options.BatchSize) {
		var (
			chunkResults []models.ProcessingResult
			stopped      bool
		)
		if bp.Options.ParallelProcessing {
			chunkResults = bp.processParallel(ctx, log, chunk, len(refs), &progress)
		} else {
			chunkResults, stopped = bp.processSequential(ctx, log, chunk, len(refs), &progress)
		}
		results = append(results, chunkResults...)

		if stopped {
			log.Warn("Stopping processing due to error (continue on error disabled)")
			break
		}
		if ctx.Err() != nil {
			log.Warnf("Processing cancelled: %v", ctx.Err())
			break
		}
	}

	summary := Summarize(runID, results, bp.Options.OutputDirectory, time.Since(start))
	log.Infof("Processing completed: %d/%d successful in %s", summary.Successful, summary.Total, summary.WallClock.Round(time.Millisecond))
	return summary
}

// processParallel fans a chunk out over at most MaxWorkers goroutines.
// Results keep the chunk's order.
func (bp *BatchProcessor) processParallel(ctx context.Context, log *logrus.Entry, chunk []models.ProcedureRef, total int, progress *atomic.Int64) []models.ProcessingResult {
	results := make([]models.ProcessingResult, len(chunk))

	var g errgroup.Group
	g.SetLimit(bp.workers(len(chunk)))
	for i, ref := range chunk {
		g.Go(func() error {
			results[i] = bp.processSafely(ctx, ref)
			bp.logProgress(log, results[i], progress.Add(1), total)
			return nil
		})
	}
	g.Wait()

	return results
}

// processSequential processes a chunk in order. It reports stopped when an
// item failed and ContinueOnError is off.
func (bp *BatchProcessor) processSequential(ctx context.Context, log *logrus.Entry, chunk []models.ProcedureRef, total int, progress *atomic.Int64) ([]models.ProcessingResult, bool) {
	results := make([]models.ProcessingResult, 0, len(chunk))

	for _, ref := range chunk {
		if ctx.Err() != nil {
			break
		}
		result := bp.processSafely(ctx, ref)
		results = append(results, result)
		bp.logProgress(log, result, progress.Add(1), total)

		if !result.Success && !bp.Options.ContinueOnError {
			return results, true
		}
	}

	return results, false
}

// processSafely turns a panic in one item into that item's failure
func (bp *BatchProcessor) processSafely(ctx context.Context, ref models.ProcedureRef) (result models.ProcessingResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			bp.Logger.WithField("procedure", ref.Name).Errorf("Critical error processing procedure: %v\n%s", r, debug.Stack())
			result = models.ProcessingResult{
				Procedure:      ref,
				ErrorMessage:   fmt.Sprintf("panic: %v", r),
				ElapsedSeconds: time.Since(start).Seconds(),
			}
		}
	}()

	return bp.ProcessOne(ctx, ref)
}

// ProcessOne fetches, executes and saves a single procedure. Success means
// the definition artifact was saved, whatever the execution outcome.
func (bp *BatchProcessor) ProcessOne(ctx context.Context, ref models.ProcedureRef) (result models.ProcessingResult) {
	start := time.Now()
	result.Procedure = ref
	defer func() {
		result.ElapsedSeconds = time.Since(start).Seconds()
		bp.Metrics.ObserveProcedure(ref.Kind, result.Success, time.Since(start))
	}()

	log := bp.Logger.WithFields(logrus.Fields{
		"procedure": ref.Name,
		"kind":      ref.Kind,
		"ordinal":   ref.Ordinal,
	})

	source, err := bp.Fetcher.FetchProcedureSource(ctx, ref.Name)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("%s: %v", errMissingDefinition, err)
		return result
	}
	if source == "" {
		result.ErrorMessage = errMissingDefinition
		return result
	}

	inputJSON, err := bp.inputFor(ctx, ref, source)
	if err != nil {
		log.Errorf("Input extraction failed: %v", err)
		result.ErrorMessage = err.Error()
		return result
	}

	payload := inputJSON
	if payload == "" {
		payload = "{}"
	}

	execution := bp.Runner.Execute(ctx, ref.Name, source, payload)
	result.ExecutionStatus = execution.ExecutionStatus
	if execution.ExecutionStatus == models.StatusError {
		result.ErrorMessage = execution.ErrorMessage
		log.WithField("category", execution.ErrorCategory).Warnf("Execution failed: %s", execution.ErrorMessage)
	}

	artifacts := []Artifact{{
		Kind:     ArtifactDefinition,
		Filename: DefinitionFilename(ref.Ordinal, ref.Kind),
		Content:  source,
	}}
	if inputJSON != "" {
		artifacts = append(artifacts, Artifact{
			Kind:     ArtifactInput,
			Filename: InputFilename(ref.Ordinal),
			Content:  inputJSON,
		})
	}
	if output, err := execution.JSON(); err != nil {
		log.Errorf("Failed to serialize execution result: %v", err)
	} else {
		artifacts = append(artifacts, Artifact{
			Kind:     ArtifactOutput,
			Filename: OutputFilename(ref.Ordinal),
			Content:  output,
		})
	}

	saved := bp.Writer.SaveAll(ctx, artifacts)
	for i, artifact := range artifacts {
		switch artifact.Kind {
		case ArtifactDefinition:
			result.DefinitionSaved = saved[i]
		case ArtifactInput:
			result.InputSaved = saved[i]
		case ArtifactOutput:
			result.OutputSaved = saved[i]
		}
	}

	result.Success = result.DefinitionSaved
	if !result.Success && result.ErrorMessage == "" {
		result.ErrorMessage = "Failed to save SP definition"
	}
	return result
}

// inputFor extracts the payload for read kinds and falls back to the kind
// template when requested. Write kinds get a template only when
// TemplateForWriteKinds is set.
func (bp *BatchProcessor) inputFor(ctx context.Context, ref models.ProcedureRef, source string) (string, error) {
	if !ref.Kind.IsRead() {
		if bp.Options.TemplateForWriteKinds {
			return extractor.KindTemplate(ref.Kind).String(), nil
		}
		return "", nil
	}

	inputJSON, err := bp.Extractor.ExtractInputJSON(ctx, ref.Name, source)
	if err != nil {
		return "", err
	}
	if inputJSON == "" && bp.Options.CreateInputTemplates {
		inputJSON = extractor.KindTemplate(ref.Kind).String()
	}
	return inputJSON, nil
}

func (bp *BatchProcessor) workers(n int) int {
	workers := bp.Options.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	return max(1, min(workers, n))
}

func (bp *BatchProcessor) logProgress(log *logrus.Entry, result models.ProcessingResult, completed int64, total int) {
	entry := log.WithFields(logrus.Fields{
		"procedure": result.Procedure.Name,
		"elapsed":   fmt.Sprintf("%.2fs", result.ElapsedSeconds),
	})
	if result.Success {
		entry.Infof("[%d/%d] Processed %s", completed, total, result.Procedure.Name)
		return
	}
	entry.Errorf("[%d/%d] Failed %s: %s", completed, total, result.Procedure.Name, result.ErrorMessage)
}

func (bp *BatchProcessor) logKinds(log *logrus.Entry, refs []models.ProcedureRef) {
	counts := make(map[models.ProcedureKind]int)
	for _, ref := range refs {
		counts[ref.Kind]++
	}
	for _, kind := range models.ProcedureKinds {
		if counts[kind] > 0 {
			log.Infof("%s: %d procedures", kind, counts[kind])
		}
	}
}

// numbered returns a copy of refs with missing ordinals set to position+1
func numbered(refs []models.ProcedureRef) []models.ProcedureRef {
	out := make([]models.ProcedureRef, len(refs))
	for i, ref := range refs {
		if ref.Ordinal <= 0 {
			ref.Ordinal = i + 1
		}
		out[i] = ref
	}
	return out
}

// chunks splits refs into consecutive groups of size; size <= 0 keeps one group
func chunks(refs []models.ProcedureRef, size int) [][]models.ProcedureRef {
	if len(refs) == 0 {
		return nil
	}
	if size <= 0 || size >= len(refs) {
		return [][]models.ProcedureRef{refs}
	}

	var out [][]models.ProcedureRef
	for start := 0; start < len(refs); start += size {
		out = append(out, refs[start:min(start+size, len(refs))])
	}
	return out
}
