package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/sp-batch-runner/internal/extractor"
	"github.com/vitebski/sp-batch-runner/pkg/models"
	"go.uber.org/goleak"
)

type fakeFetcher struct {
	sources map[string]string
	errs    map[string]error
}

func (f *fakeFetcher) FetchProcedureSource(ctx context.Context, name string) (string, error) {
	if err := f.errs[name]; err != nil {
		return "", err
	}
	return f.sources[name], nil
}

type call struct {
	name  string
	input string
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    []call
	active   atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	failures map[string]string
	panics   map[string]bool
}

func (r *fakeRunner) Execute(ctx context.Context, name, source, inputJSON string) *models.ExecutionResult {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	r.mu.Lock()
	r.calls = append(r.calls, call{name: name, input: inputJSON})
	r.mu.Unlock()

	if r.panics[name] {
		panic("driver exploded")
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if msg, ok := r.failures[name]; ok {
		return &models.ExecutionResult{
			ExecutionStatus: models.StatusError,
			ErrorMessage:    msg,
			ErrorCategory:   models.CategoryPermission,
			Timestamp:       time.Now(),
		}
	}
	return &models.ExecutionResult{
		ExecutionStatus: models.StatusSuccess,
		ResultSets:      []models.ResultSet{{Index: 0, Rows: []models.Row{{"Id": 1}}}},
		Timestamp:       time.Now(),
	}
}

func (r *fakeRunner) called() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, c := range r.calls {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

func (r *fakeRunner) inputOf(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.name == name {
			return c.input
		}
	}
	return ""
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newTestProcessor(t *testing.T, fetcher *fakeFetcher, runner *fakeRunner, opts Options) *BatchProcessor {
	t.Helper()
	logger := quietLogger()
	opts.OutputDirectory = t.TempDir()

	bp, err := NewBatchProcessor(fetcher, extractor.NewJSONExtractor(extractor.DefaultOptions(), logger), runner, opts, nil, logger)
	require.NoError(t, err)
	return bp
}

func readArtifact(t *testing.T, bp *BatchProcessor, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(bp.Options.OutputDirectory, name))
	require.NoError(t, err)
	return string(data)
}

func artifactExists(bp *BatchProcessor, name string) bool {
	_, err := os.Stat(filepath.Join(bp.Options.OutputDirectory, name))
	return err == nil
}

func fiveProcedures() ([]models.ProcedureRef, *fakeFetcher) {
	refs := []models.ProcedureRef{
		{Name: "dbo.GetUser", Kind: models.KindGet},
		{Name: "dbo.ListUsers", Kind: models.KindList},
		{Name: "dbo.SaveUser", Kind: models.KindSave},
		{Name: "dbo.DeleteUser", Kind: models.KindDelete},
		{Name: "dbo.UpdateUser", Kind: models.KindUpdate},
	}
	fetcher := &fakeFetcher{sources: map[string]string{}, errs: map[string]error{}}
	for _, ref := range refs {
		fetcher.sources[ref.Name] = "CREATE PROCEDURE " + ref.Name + " @Json NVARCHAR(MAX) AS SELECT 1"
	}
	return refs, fetcher
}

func TestRunParallelIsolatesFetchFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	refs, fetcher := fiveProcedures()
	fetcher.errs["dbo.SaveUser"] = errors.New("login failed")
	runner := &fakeRunner{delay: 10 * time.Millisecond}

	opts := DefaultOptions()
	opts.MaxWorkers = 2
	bp := newTestProcessor(t, fetcher, runner, opts)

	summary := bp.Run(context.Background(), refs)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 4, summary.Successful)
	assert.False(t, summary.Success)
	assert.NotEmpty(t, summary.RunID)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "dbo.SaveUser", summary.Errors[0].Procedure)
	assert.Equal(t, "Could not retrieve SP definition: login failed", summary.Errors[0].Error)

	assert.Equal(t, []string{"dbo.DeleteUser", "dbo.GetUser", "dbo.ListUsers", "dbo.UpdateUser"}, runner.called())
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))

	assert.Equal(t, 4, summary.DefinitionsSaved)
	assert.Equal(t, 4, summary.OutputsSaved)
	assert.Equal(t, 2, summary.InputsSaved)
	assert.True(t, artifactExists(bp, "SP1_Get.txt"))
	assert.True(t, artifactExists(bp, "SP2_Input.txt"))
	assert.False(t, artifactExists(bp, "SP3_Save.txt"))
	assert.True(t, artifactExists(bp, "SP5_Output.txt"))

	for i, r := range summary.Results {
		assert.Equal(t, i+1, r.Procedure.Ordinal)
	}
}

func TestRunSequentialStopsOnFailure(t *testing.T) {
	refs, fetcher := fiveProcedures()
	delete(fetcher.sources, "dbo.ListUsers")
	runner := &fakeRunner{}

	opts := DefaultOptions()
	opts.ParallelProcessing = false
	opts.ContinueOnError = false
	bp := newTestProcessor(t, fetcher, runner, opts)

	summary := bp.Run(context.Background(), refs)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "Could not retrieve SP definition", summary.Errors[0].Error)
	assert.Equal(t, []string{"dbo.GetUser"}, runner.called())
}

func TestRunSequentialContinuesOnFailure(t *testing.T) {
	refs, fetcher := fiveProcedures()
	delete(fetcher.sources, "dbo.ListUsers")
	runner := &fakeRunner{}

	opts := DefaultOptions()
	opts.ParallelProcessing = false
	bp := newTestProcessor(t, fetcher, runner, opts)

	summary := bp.Run(context.Background(), refs)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, runner.called(), 4)
}

func TestRunInBatches(t *testing.T) {
	refs, fetcher := fiveProcedures()
	runner := &fakeRunner{}

	opts := DefaultOptions()
	opts.BatchSize = 2
	opts.MaxWorkers = 5
	bp := newTestProcessor(t, fetcher, runner, opts)

	summary := bp.Run(context.Background(), refs)

	assert.Equal(t, 5, summary.Total)
	assert.True(t, summary.Success)
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
	for i, r := range summary.Results {
		assert.Equal(t, refs[i].Name, r.Procedure.Name)
	}
}

func TestRunRecoversPanics(t *testing.T) {
	refs, fetcher := fiveProcedures()
	runner := &fakeRunner{panics: map[string]bool{"dbo.DeleteUser": true}}

	bp := newTestProcessor(t, fetcher, runner, DefaultOptions())
	summary := bp.Run(context.Background(), refs)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "dbo.DeleteUser", summary.Errors[0].Procedure)
	assert.Equal(t, "panic: driver exploded", summary.Errors[0].Error)
}

func TestProcessOneReadKindExtractsInput(t *testing.T) {
	source := `CREATE PROCEDURE dbo.GetUser @Json NVARCHAR(MAX) AS
-- EXEC [dbo].[GetUser] '{"Id": 42,}'
SELECT 1`
	fetcher := &fakeFetcher{sources: map[string]string{"dbo.GetUser": source}}
	runner := &fakeRunner{}
	bp := newTestProcessor(t, fetcher, runner, DefaultOptions())

	result := bp.ProcessOne(context.Background(), models.ProcedureRef{Name: "dbo.GetUser", Kind: models.KindGet, Ordinal: 7})

	assert.True(t, result.Success)
	assert.True(t, result.DefinitionSaved)
	assert.True(t, result.InputSaved)
	assert.True(t, result.OutputSaved)
	assert.Equal(t, models.StatusSuccess, result.ExecutionStatus)

	expectedInput := "{\n    \"Id\": 42\n}"
	assert.Equal(t, expectedInput, runner.inputOf("dbo.GetUser"))
	assert.Equal(t, source, readArtifact(t, bp, "SP7_Get.txt"))
	assert.Equal(t, expectedInput, readArtifact(t, bp, "SP7_Input.txt"))
	assert.Contains(t, readArtifact(t, bp, "SP7_Output.txt"), `"ExecutionStatus": "Success"`)
}

func TestProcessOneWriteKindUsesEmptyPayload(t *testing.T) {
	fetcher := &fakeFetcher{sources: map[string]string{"dbo.SaveUser": "CREATE PROCEDURE dbo.SaveUser @Id INT AS SELECT 1"}}
	runner := &fakeRunner{}
	bp := newTestProcessor(t, fetcher, runner, DefaultOptions())

	result := bp.ProcessOne(context.Background(), models.ProcedureRef{Name: "dbo.SaveUser", Kind: models.KindSave, Ordinal: 1})

	assert.True(t, result.Success)
	assert.False(t, result.InputSaved)
	assert.Equal(t, "{}", runner.inputOf("dbo.SaveUser"))
	assert.False(t, artifactExists(bp, "SP1_Input.txt"))
}

func TestProcessOneWriteKindTemplate(t *testing.T) {
	fetcher := &fakeFetcher{sources: map[string]string{"dbo.DeleteUser": "CREATE PROCEDURE dbo.DeleteUser AS SELECT 1"}}
	runner := &fakeRunner{}
	opts := DefaultOptions()
	opts.TemplateForWriteKinds = true
	bp := newTestProcessor(t, fetcher, runner, opts)

	result := bp.ProcessOne(context.Background(), models.ProcedureRef{Name: "dbo.DeleteUser", Kind: models.KindDelete, Ordinal: 1})

	assert.True(t, result.InputSaved)
	assert.JSONEq(t, `{"Id":1,"UserId":1}`, runner.inputOf("dbo.DeleteUser"))
}

func TestProcessOneKindTemplateFallback(t *testing.T) {
	fetcher := &fakeFetcher{sources: map[string]string{"dbo.ListUsers": "CREATE PROCEDURE dbo.ListUsers AS SELECT 1"}}
	runner := &fakeRunner{}
	logger := quietLogger()

	opts := DefaultOptions()
	opts.OutputDirectory = t.TempDir()
	extractOpts := extractor.DefaultOptions()
	extractOpts.FallbackToTemplate = false
	bp, err := NewBatchProcessor(fetcher, extractor.NewJSONExtractor(extractOpts, logger), runner, opts, nil, logger)
	require.NoError(t, err)

	bp.ProcessOne(context.Background(), models.ProcedureRef{Name: "dbo.ListUsers", Kind: models.KindList, Ordinal: 1})

	assert.Equal(t, "{\n    \"PageNumber\": 1,\n    \"PageSize\": 10,\n    \"SearchTerm\": \"\"\n}", runner.inputOf("dbo.ListUsers"))
}

func TestProcessOneExecutionErrorStillSucceeds(t *testing.T) {
	fetcher := &fakeFetcher{sources: map[string]string{"dbo.UpdateUser": "CREATE PROCEDURE dbo.UpdateUser AS SELECT 1"}}
	runner := &fakeRunner{failures: map[string]string{"dbo.UpdateUser": "permission denied"}}
	bp := newTestProcessor(t, fetcher, runner, DefaultOptions())

	result := bp.ProcessOne(context.Background(), models.ProcedureRef{Name: "dbo.UpdateUser", Kind: models.KindUpdate, Ordinal: 3})

	assert.True(t, result.Success)
	assert.Equal(t, models.StatusError, result.ExecutionStatus)
	assert.Equal(t, "permission denied", result.ErrorMessage)
	output := readArtifact(t, bp, "SP3_Output.txt")
	assert.Contains(t, output, `"ErrorCategory": "PERMISSION"`)
	assert.Contains(t, output, `"ResultSets": []`)
}

func TestProcessOneOversizedSource(t *testing.T) {
	fetcher := &fakeFetcher{sources: map[string]string{"dbo.GetBig": "x"}}
	runner := &fakeRunner{}
	logger := quietLogger()

	opts := DefaultOptions()
	opts.OutputDirectory = t.TempDir()
	bp, err := NewBatchProcessor(fetcher, &stubExtractor{err: extractor.ErrSourceTooLarge}, runner, opts, nil, logger)
	require.NoError(t, err)

	result := bp.ProcessOne(context.Background(), models.ProcedureRef{Name: "dbo.GetBig", Kind: models.KindGet, Ordinal: 1})

	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "too large")
	assert.Empty(t, runner.called())
}

type stubExtractor struct {
	err error
}

func (s *stubExtractor) ExtractInputJSON(ctx context.Context, name, source string) (string, error) {
	return "", s.err
}

func TestChunks(t *testing.T) {
	refs := numbered(make([]models.ProcedureRef, 5))

	assert.Len(t, chunks(refs, 0), 1)
	assert.Len(t, chunks(refs, 10), 1)
	got := chunks(refs, 2)
	require.Len(t, got, 3)
	assert.Len(t, got[2], 1)
	assert.Equal(t, 5, got[2][0].Ordinal)
	assert.Nil(t, chunks(nil, 2))
}
