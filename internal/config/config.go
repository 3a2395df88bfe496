package config

import (
	"time"

	"github.com/vitebski/sp-batch-runner/internal/connector"
	"github.com/vitebski/sp-batch-runner/internal/extractor"
	"github.com/vitebski/sp-batch-runner/internal/orchestrator"
	"github.com/vitebski/sp-batch-runner/pkg/models"
)

// Config is the complete runtime configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Extraction ExtractionConfig `mapstructure:"json_extraction"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DatabaseConfig holds connection settings
type DatabaseConfig struct {
	ConnectionString string        `mapstructure:"connection_string"`
	Dialect          string        `mapstructure:"dialect"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout"`
}

// PoolConfig sizes the connection pool
type PoolConfig struct {
	Size           int           `mapstructure:"size"`
	MaxOverflow    int           `mapstructure:"max_overflow"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

// ProcessingConfig controls scheduling and retries
type ProcessingConfig struct {
	BatchSize             int           `mapstructure:"batch_size"`
	ParallelProcessing    bool          `mapstructure:"parallel_processing"`
	MaxWorkers            int           `mapstructure:"max_workers"`
	ContinueOnError       bool          `mapstructure:"continue_on_error"`
	CreateInputTemplates  bool          `mapstructure:"create_input_templates"`
	TemplateForWriteKinds bool          `mapstructure:"template_for_write_kinds"`
	MaxRetries            int           `mapstructure:"max_retries"`
	RetryDelay            time.Duration `mapstructure:"retry_delay"`
}

// ExtractionConfig controls JSON extraction and templates
type ExtractionConfig struct {
	FallbackToTemplate    bool `mapstructure:"fallback_to_template"`
	ValidateExtractedJSON bool `mapstructure:"validate_extracted_json"`
	MaxJSONSizeMB         int  `mapstructure:"max_json_size_mb"`
	SampleValues          bool `mapstructure:"sample_values"`
}

// PathsConfig holds input and output locations
type PathsConfig struct {
	ProcedureList   string `mapstructure:"procedure_list"`
	OutputDirectory string `mapstructure:"output_directory"`
	MetricsFile     string `mapstructure:"metrics_file"`
}

// LoggingConfig holds the log level
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// ConnectionConfig returns the connector settings
func (c *Config) ConnectionConfig() models.ConnectionConfig {
	return models.ConnectionConfig{
		ConnectionString: c.Database.ConnectionString,
		Dialect:          c.Database.Dialect,
		ConnectTimeout:   c.Database.ConnectTimeout,
		CommandTimeout:   c.Database.CommandTimeout,
	}
}

// PoolOptions returns the pool sizing
func (c *Config) PoolOptions() connector.PoolOptions {
	opts := connector.DefaultPoolOptions()
	opts.PoolSize = c.Pool.Size
	opts.MaxOverflow = c.Pool.MaxOverflow
	if c.Pool.AcquireTimeout > 0 {
		opts.AcquireTimeout = c.Pool.AcquireTimeout
	}
	return opts
}

// ProcessingOptions returns the batch processor options
func (c *Config) ProcessingOptions() orchestrator.Options {
	return orchestrator.Options{
		BatchSize:             c.Processing.BatchSize,
		ParallelProcessing:    c.Processing.ParallelProcessing,
		MaxWorkers:            c.Processing.MaxWorkers,
		ContinueOnError:       c.Processing.ContinueOnError,
		CreateInputTemplates:  c.Processing.CreateInputTemplates,
		TemplateForWriteKinds: c.Processing.TemplateForWriteKinds,
		OutputDirectory:       c.Paths.OutputDirectory,
		WriteTimeout:          orchestrator.DefaultWriteTimeout,
	}
}

// ExtractionOptions returns the JSON extractor options
func (c *Config) ExtractionOptions() extractor.Options {
	opts := extractor.DefaultOptions()
	opts.FallbackToTemplate = c.Extraction.FallbackToTemplate
	opts.ValidateExtractedJSON = c.Extraction.ValidateExtractedJSON
	opts.MaxJSONSizeMB = c.Extraction.MaxJSONSizeMB
	opts.SampleValues = c.Extraction.SampleValues
	return opts
}
