package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/sp-batch-runner/internal/metrics"
	"github.com/vitebski/sp-batch-runner/pkg/models"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultWriteTimeout bounds each artifact write
	DefaultWriteTimeout = 30 * time.Second
	// ioWorkers is the number of concurrent writes per procedure
	ioWorkers = 3
	// maxFilenameLength leaves room for the temp suffix
	maxFilenameLength = 200
)

// Artifact kinds
const (
	ArtifactDefinition = "definition"
	ArtifactInput      = "input"
	ArtifactOutput     = "output"
)

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\[\]]`)

// Artifact is one text file produced for a procedure
type Artifact struct {
	Kind     string
	Filename string
	Content  string
}

// DefinitionFilename returns SP<ordinal>_<kind>.txt
func DefinitionFilename(ordinal int, kind models.ProcedureKind) string {
	return fmt.Sprintf("SP%d_%s.txt", ordinal, kind)
}

// InputFilename returns SP<ordinal>_Input.txt
func InputFilename(ordinal int) string {
	return fmt.Sprintf("SP%d_Input.txt", ordinal)
}

// OutputFilename returns SP<ordinal>_Output.txt
func OutputFilename(ordinal int) string {
	return fmt.Sprintf("SP%d_Output.txt", ordinal)
}

// SanitizeFilename replaces characters that are invalid on common
// filesystems and bounds the length
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = strings.Trim(sanitized, ". ")
	if len(sanitized) > maxFilenameLength {
		sanitized = sanitized[:maxFilenameLength]
	}
	if sanitized == "" {
		sanitized = "unnamed_file"
	}
	return sanitized
}

// ArtifactWriter writes artifacts atomically into one output directory
type ArtifactWriter struct {
	Dir     string
	Timeout time.Duration
	Metrics *metrics.Recorder
	Logger  *logrus.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewArtifactWriter creates the output directory if needed
func NewArtifactWriter(dir string, timeout time.Duration, recorder *metrics.Recorder, logger *logrus.Logger) (*ArtifactWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &ArtifactWriter{
		Dir:     dir,
		Timeout: timeout,
		Metrics: recorder,
		Logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// Save writes content to the sanitized filename through a temp file and
// rename. Writers of the same path are serialized.
func (w *ArtifactWriter) Save(filename, content string) (string, error) {
	path := filepath.Join(w.Dir, SanitizeFilename(filename))

	lock := w.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	tmp, err := os.CreateTemp(w.Dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close %s: %w", filename, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to move %s into place: %w", filename, err)
	}

	return path, nil
}

// SaveAll writes the artifacts concurrently and reports which were saved,
// in input order
func (w *ArtifactWriter) SaveAll(ctx context.Context, artifacts []Artifact) []bool {
	saved := make([]bool, len(artifacts))

	var g errgroup.Group
	g.SetLimit(ioWorkers)
	for i, artifact := range artifacts {
		g.Go(func() error {
			saved[i] = w.saveWithTimeout(ctx, artifact)
			w.Metrics.ObserveArtifact(artifact.Kind, saved[i])
			return nil
		})
	}
	g.Wait()

	return saved
}

// saveWithTimeout abandons a write that outlives the timeout. The write
// itself still completes or fails on its own.
func (w *ArtifactWriter) saveWithTimeout(ctx context.Context, artifact Artifact) bool {
	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := w.Save(artifact.Filename, artifact.Content)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			w.Logger.WithField("file", artifact.Filename).Errorf("Failed to save %s artifact: %v", artifact.Kind, err)
			return false
		}
		return true
	case <-ctx.Done():
		w.Logger.WithField("file", artifact.Filename).Errorf("Saving %s artifact timed out: %v", artifact.Kind, ctx.Err())
		return false
	}
}

func (w *ArtifactWriter) lockFor(path string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()

	lock, ok := w.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		w.locks[path] = lock
	}
	return lock
}
