package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/sp-batch-runner/pkg/models"
)

var (
	// ErrValidation marks input rejected before any database work
	ErrValidation = errors.New("validation error")
	// ErrInvalidProcedureName is returned for names matching injection patterns
	ErrInvalidProcedureName = fmt.Errorf("%w: invalid stored procedure name", ErrValidation)
	// ErrDatabase wraps driver failures surfaced by the facade
	ErrDatabase = errors.New("database error")
	// ErrNotConnected is returned when the connector has no pool
	ErrNotConnected = errors.New("database connector is not connected")
)

// dangerousPatterns are rejected anywhere in a procedure name
var dangerousPatterns = []string{";", "--", "/*", "*/"}

// DatabaseConnector handles pooled database access
type DatabaseConnector struct {
	Config      models.ConnectionConfig
	Dialect     Dialect
	PoolOptions PoolOptions
	DB          *sql.DB
	Pool        *ConnectionPool
	Logger      *logrus.Logger
}

// NewDatabaseConnector creates a new database connector for the configured dialect
func NewDatabaseConnector(cfg models.ConnectionConfig, opts PoolOptions, logger *logrus.Logger) (*DatabaseConnector, error) {
	dialect, err := DialectFor(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	return &DatabaseConnector{
		Config:      cfg,
		Dialect:     dialect,
		PoolOptions: opts,
		Logger:      logger,
	}, nil
}

// Connect normalizes the connection string, opens the driver and builds the pool
func (dc *DatabaseConnector) Connect(ctx context.Context) error {
	normalized, err := NormalizeConnectionString(dc.Config.ConnectionString)
	if err != nil {
		return fmt.Errorf("invalid connection string format: %w", err)
	}

	dsn, err := dc.Dialect.DSN(normalized, dc.Config)
	if err != nil {
		return fmt.Errorf("invalid connection string format: %w", err)
	}

	db, err := sql.Open(dc.Dialect.DriverName(), dsn)
	if err != nil {
		dc.Logger.Errorf("Error opening %s database: %v", dc.Dialect.Name(), err)
		return err
	}

	// The pool owns session reuse; database/sql keeps none idle
	db.SetMaxIdleConns(0)
	db.SetMaxOpenConns(dc.capacity())

	if dc.Config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dc.Config.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		dc.Logger.Errorf("Error pinging %s database: %v", dc.Dialect.Name(), err)
		db.Close()
		return err
	}

	dc.Attach(ctx, db)
	dc.Logger.Infof("Connected to %s database", dc.Dialect.Name())
	return nil
}

// Attach builds the connection pool over an already opened *sql.DB
func (dc *DatabaseConnector) Attach(ctx context.Context, db *sql.DB) {
	dc.DB = db
	dc.Pool = NewConnectionPool(ctx, SQLDialer(db), dc.PoolOptions, dc.Logger)
}

// Disconnect closes the pool and the database handle
func (dc *DatabaseConnector) Disconnect() {
	if dc.Pool != nil {
		if err := dc.Pool.CloseAll(); err != nil {
			dc.Logger.Errorf("Error closing pooled connections: %v", err)
		}
	}
	if dc.DB != nil {
		if err := dc.DB.Close(); err != nil {
			dc.Logger.Errorf("Error closing database connection: %v", err)
		} else {
			dc.Logger.Infof("%s connection closed", dc.Dialect.Name())
		}
	}
}

// WithConnection runs fn with a pooled session and always releases it,
// including when fn panics
func (dc *DatabaseConnector) WithConnection(ctx context.Context, fn func(conn Conn) error) error {
	if dc.Pool == nil {
		return ErrNotConnected
	}

	conn, err := dc.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	defer dc.Pool.Release(conn)

	return fn(conn)
}

// TestConnection runs the dialect's probe query
func (dc *DatabaseConnector) TestConnection(ctx context.Context) (bool, error) {
	if _, err := dc.ExecuteQuery(ctx, dc.Dialect.ProbeQuery()); err != nil {
		return false, err
	}
	return true, nil
}

// ExecuteQuery executes a SQL query and returns the rows of its first result set
func (dc *DatabaseConnector) ExecuteQuery(ctx context.Context, query string, params ...interface{}) ([]map[string]interface{}, error) {
	var results []map[string]interface{}

	err := dc.WithConnection(ctx, func(conn Conn) error {
		rows, err := conn.QueryContext(ctx, query, params...)
		if err != nil {
			return err
		}
		defer rows.Close()

		sets, err := ReadResultSets(rows)
		if err != nil {
			return err
		}
		if len(sets) > 0 {
			for _, row := range sets[0].Rows {
				results = append(results, row)
			}
		}
		return nil
	})
	if err != nil {
		dc.Logger.Errorf("Error executing query: %v", err)
		return nil, err
	}

	return results, nil
}

// FetchProcedureSource returns the source text of a stored procedure, or ""
// when the procedure does not exist
func (dc *DatabaseConnector) FetchProcedureSource(ctx context.Context, name string) (string, error) {
	if err := ValidateProcedureName(name); err != nil {
		return "", err
	}

	var source sql.NullString
	err := dc.WithConnection(ctx, func(conn Conn) error {
		rows, err := conn.QueryContext(ctx, dc.Dialect.DefinitionQuery(), dc.Dialect.DefinitionArg(name))
		if err != nil {
			return err
		}
		defer rows.Close()

		if rows.Next() {
			if err := rows.Scan(&source); err != nil {
				return err
			}
		}
		return rows.Err()
	})
	if err != nil {
		dc.Logger.WithField("procedure", name).Errorf("Database error fetching procedure definition: %v", err)
		return "", fmt.Errorf("%w: failed to fetch procedure definition: %w", ErrDatabase, err)
	}

	if !source.Valid || source.String == "" {
		dc.Logger.WithField("procedure", name).Warn("Stored procedure not found")
		return "", nil
	}
	return source.String, nil
}

// ValidateProcedureName rejects names carrying SQL injection patterns.
// Extended procedures (xp_) are only accepted as [dbo].[xp_...].
func ValidateProcedureName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidProcedureName)
	}

	lower := strings.ToLower(name)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("%w: %s", ErrInvalidProcedureName, name)
		}
	}

	if strings.Contains(lower, "xp_") && !strings.HasPrefix(lower, "[dbo].[xp_") {
		return fmt.Errorf("%w: %s", ErrInvalidProcedureName, name)
	}

	return nil
}

func (dc *DatabaseConnector) capacity() int {
	opts := dc.PoolOptions
	defaults := DefaultPoolOptions()
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaults.PoolSize
	}
	if opts.MaxOverflow < 0 {
		opts.MaxOverflow = 0
	}
	return opts.PoolSize + opts.MaxOverflow
}
