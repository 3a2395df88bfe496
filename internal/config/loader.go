package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"github.com/vitebski/sp-batch-runner/internal/connector"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// SPBATCH_DATABASE_CONNECTION_STRING
	EnvPrefix = "SPBATCH"

	configName = "sp-batch"
	configType = "yaml"
)

// New returns a viper instance with defaults and environment overrides
// applied. Command-line flags are bound onto it by the caller.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.connection_string", "")
	v.SetDefault("database.dialect", "sqlserver")
	v.SetDefault("database.connect_timeout", "30s")
	v.SetDefault("database.command_timeout", "300s")

	v.SetDefault("pool.size", 3)
	v.SetDefault("pool.max_overflow", 7)
	v.SetDefault("pool.acquire_timeout", "30s")

	v.SetDefault("processing.batch_size", 0)
	v.SetDefault("processing.parallel_processing", true)
	v.SetDefault("processing.max_workers", 3)
	v.SetDefault("processing.continue_on_error", true)
	v.SetDefault("processing.create_input_templates", true)
	v.SetDefault("processing.template_for_write_kinds", false)
	v.SetDefault("processing.max_retries", 3)
	v.SetDefault("processing.retry_delay", "1s")

	v.SetDefault("json_extraction.fallback_to_template", true)
	v.SetDefault("json_extraction.validate_extracted_json", true)
	v.SetDefault("json_extraction.max_json_size_mb", 10)
	v.SetDefault("json_extraction.sample_values", false)

	v.SetDefault("paths.procedure_list", "")
	v.SetDefault("paths.output_directory", "output")
	v.SetDefault("paths.metrics_file", "")

	v.SetDefault("logging.level", "")
}

// Load reads the config file into v and decodes the result. An empty path
// searches for sp-batch.yaml in the working directory and tolerates its
// absence; an explicit path must exist.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs *multierror.Error

	if strings.TrimSpace(c.Database.ConnectionString) == "" {
		errs = multierror.Append(errs, errors.New("database.connection_string is required"))
	}
	if _, err := connector.DialectFor(c.Database.Dialect); err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.Pool.Size < 1 {
		errs = multierror.Append(errs, fmt.Errorf("pool.size must be at least 1, got %d", c.Pool.Size))
	}
	if c.Pool.MaxOverflow < 0 {
		errs = multierror.Append(errs, fmt.Errorf("pool.max_overflow must not be negative, got %d", c.Pool.MaxOverflow))
	}
	if c.Processing.MaxWorkers < 1 {
		errs = multierror.Append(errs, fmt.Errorf("processing.max_workers must be at least 1, got %d", c.Processing.MaxWorkers))
	}
	if c.Processing.BatchSize < 0 {
		errs = multierror.Append(errs, fmt.Errorf("processing.batch_size must not be negative, got %d", c.Processing.BatchSize))
	}
	if c.Processing.MaxRetries < 1 {
		errs = multierror.Append(errs, fmt.Errorf("processing.max_retries must be at least 1, got %d", c.Processing.MaxRetries))
	}
	if c.Extraction.MaxJSONSizeMB < 1 {
		errs = multierror.Append(errs, fmt.Errorf("json_extraction.max_json_size_mb must be at least 1, got %d", c.Extraction.MaxJSONSizeMB))
	}
	if strings.TrimSpace(c.Paths.OutputDirectory) == "" {
		errs = multierror.Append(errs, errors.New("paths.output_directory is required"))
	}

	return errs.ErrorOrNil()
}
