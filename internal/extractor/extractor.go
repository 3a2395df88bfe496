package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/sp-batch-runner/internal/analyzer"
	"github.com/vitebski/sp-batch-runner/internal/connector"
	"github.com/vitebski/sp-batch-runner/internal/generator"
	"github.com/vitebski/sp-batch-runner/pkg/models"
)

const (
	// MaxMatchInput is the largest prefix of a source scanned by the rules
	MaxMatchInput = 1024 * 1024
	// MaxFragmentSize is the largest candidate fragment considered
	MaxFragmentSize = 100 * 1024
	// DefaultMatchTimeout bounds each rule evaluation
	DefaultMatchTimeout = 5 * time.Second
)

// ErrSourceTooLarge is returned when a source exceeds the configured ceiling
var ErrSourceTooLarge = fmt.Errorf("%w: procedure source too large", connector.ErrValidation)

// Options controls extraction and template fallback
type Options struct {
	FallbackToTemplate    bool
	ValidateExtractedJSON bool
	MaxJSONSizeMB         int
	SampleValues          bool
	MatchTimeout          time.Duration
}

// DefaultOptions returns the standard extraction options
func DefaultOptions() Options {
	return Options{
		FallbackToTemplate:    true,
		ValidateExtractedJSON: true,
		MaxJSONSizeMB:         10,
		MatchTimeout:          DefaultMatchTimeout,
	}
}

// JSONExtractor finds or synthesizes an input payload for a procedure
type JSONExtractor struct {
	Options   Options
	Rules     []Rule
	Analyzer  *analyzer.SignatureAnalyzer
	Generator *generator.SampleGenerator
	Logger    *logrus.Logger
}

// NewJSONExtractor creates an extractor with the default rule set
func NewJSONExtractor(opts Options, logger *logrus.Logger) *JSONExtractor {
	if opts.MatchTimeout <= 0 {
		opts.MatchTimeout = DefaultMatchTimeout
	}
	je := &JSONExtractor{
		Options:  opts,
		Rules:    DefaultRules(),
		Analyzer: analyzer.NewSignatureAnalyzer(logger),
		Logger:   logger,
	}
	if opts.SampleValues {
		je.Generator = generator.NewSampleGenerator(logger)
	}
	return je
}

// ExtractInputJSON returns an indented JSON payload for the procedure. It
// returns "" when the source is empty or nothing usable was found and the
// template fallback is disabled.
func (je *JSONExtractor) ExtractInputJSON(ctx context.Context, name, source string) (string, error) {
	log := je.Logger.WithField("procedure", name)

	if source == "" {
		log.Warn("No procedure definition provided for JSON extraction")
		return "", nil
	}

	if limit := je.Options.MaxJSONSizeMB * 1024 * 1024; limit > 0 && len(source) > limit {
		return "", fmt.Errorf("%w: %d bytes exceeds %d MB", ErrSourceTooLarge, len(source), je.Options.MaxJSONSizeMB)
	}

	extracted := je.extractWithRules(ctx, name, source)
	if extracted != "" {
		if !je.Options.ValidateExtractedJSON || ValidJSON(extracted) {
			return extracted, nil
		}
		log.Warn("Extracted JSON is invalid")
	}

	if je.Options.FallbackToTemplate {
		log.Debug("Falling back to template generation")
		return je.TemplateFromSource(name, source), nil
	}

	return "", nil
}

// extractWithRules tries each rule in order and returns the first fragment
// that parses as JSON
func (je *JSONExtractor) extractWithRules(ctx context.Context, name, source string) string {
	log := je.Logger.WithField("procedure", name)

	if len(source) > MaxMatchInput {
		log.Warnf("Procedure definition too large for pattern matching, truncating to %d bytes", MaxMatchInput)
		source = source[:MaxMatchInput]
	}

	for i, rule := range je.Rules {
		fragments, err := matchWithTimeout(ctx, rule, source, je.Options.MatchTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ""
			}
			log.Warnf("Pattern %d (%s) skipped: %v", i+1, rule.Name, err)
			continue
		}

		for _, fragment := range fragments {
			if len(fragment) > MaxFragmentSize {
				log.Warnf("JSON fragment of %d bytes too large, skipping", len(fragment))
				continue
			}

			// a fragment the cleanup breaks is retried as written
			for _, candidate := range []string{CleanJSON(fragment), fragment} {
				if formatted, err := FormatJSON(candidate); err == nil {
					log.Debugf("Pattern %d (%s) matched", i+1, rule.Name)
					return formatted
				}
			}
		}
	}

	return ""
}

// TemplateFromSource synthesizes a payload from the procedure's declared
// input parameters
func (je *JSONExtractor) TemplateFromSource(name, source string) string {
	signature := je.Analyzer.Analyze(source)
	if len(signature.InputParams) == 0 {
		je.Logger.WithField("procedure", name).Debug("No parameters found for template generation")
		return BasicTemplate().String()
	}

	var sample func(models.ParameterInfo) interface{}
	if je.Generator != nil {
		sample = je.Generator.GenerateValue
	}

	template := ParameterTemplate(signature.InputParams, sample)
	je.Logger.WithField("procedure", name).Debugf("Generated template with %d parameters", len(template))
	return template.String()
}
