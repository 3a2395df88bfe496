package connector

import (
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/vitebski/sp-batch-runner/pkg/models"
)

func TestNormalizeConnectionString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "ado style keys",
			input:    "Data Source=db01,1433;Initial Catalog=Sales;User ID=app;Password=secret",
			expected: "DRIVER={ODBC Driver 17 for SQL Server};SERVER=db01,1433;DATABASE=Sales;UID=app;PWD=secret;",
		},
		{
			name:     "boolean keys collapse to yes",
			input:    "Server=db01;Database=Sales;Integrated Security=SSPI;TrustServerCertificate=True;Encrypt=yes",
			expected: "DRIVER={ODBC Driver 17 for SQL Server};SERVER=db01;DATABASE=Sales;Trusted_Connection=yes;TrustServerCertificate=yes;Encrypt=yes;",
		},
		{
			name:     "unknown keys dropped and quotes stripped",
			input:    `server=db01;database="Sales";Application Name=runner;pwd='p@ss'`,
			expected: "DRIVER={ODBC Driver 17 for SQL Server};SERVER=db01;DATABASE=Sales;PWD=p@ss;",
		},
		{
			name:     "escaped semicolon stays in value",
			input:    `Server=db01;Password=a\;b;Database=Sales`,
			expected: `DRIVER={ODBC Driver 17 for SQL Server};SERVER=db01;PWD=a\;b;DATABASE=Sales;`,
		},
		{
			name:     "timeouts mapped",
			input:    "Server=db01;Connection Timeout=15;Command Timeout=60",
			expected: "DRIVER={ODBC Driver 17 for SQL Server};SERVER=db01;Connection Timeout=15;Command Timeout=60;",
		},
		{
			name:     "native form passes through",
			input:    "Driver={ODBC Driver 18 for SQL Server};Server=db01;",
			expected: "Driver={ODBC Driver 18 for SQL Server};Server=db01;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeConnectionString(tt.input)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestNormalizeConnectionStringIdempotent(t *testing.T) {
	inputs := []string{
		"Data Source=db01;Initial Catalog=Sales;User ID=app;Password=secret",
		"Server=db01;Integrated Security=true",
		"server=db01;uid=sa;pwd=x;encrypt=false",
	}

	for _, input := range inputs {
		once, err := NormalizeConnectionString(input)
		if err != nil {
			t.Fatalf("Unexpected error for '%s': %v", input, err)
		}
		twice, err := NormalizeConnectionString(once)
		if err != nil {
			t.Fatalf("Unexpected error re-normalizing '%s': %v", once, err)
		}
		if once != twice {
			t.Errorf("Expected normalization to be idempotent, got '%s' then '%s'", once, twice)
		}
	}
}

func TestNormalizeConnectionStringErrors(t *testing.T) {
	if _, err := NormalizeConnectionString("   "); err == nil {
		t.Error("Expected error for empty connection string")
	}
	if _, err := NormalizeConnectionString("just-a-hostname"); err == nil {
		t.Error("Expected error for connection string without pairs")
	}
}

func TestParseNormalized(t *testing.T) {
	values := ParseNormalized("DRIVER={ODBC Driver 17 for SQL Server};SERVER=db01;Database=Sales;uid=app;")

	if values["SERVER"] != "db01" {
		t.Errorf("Expected SERVER to be 'db01', got '%s'", values["SERVER"])
	}
	if values["DATABASE"] != "Sales" {
		t.Errorf("Expected DATABASE to be 'Sales', got '%s'", values["DATABASE"])
	}
	if values["UID"] != "app" {
		t.Errorf("Expected UID to be 'app', got '%s'", values["UID"])
	}
	if values["DRIVER"] != "{ODBC Driver 17 for SQL Server}" {
		t.Errorf("Expected DRIVER to be kept, got '%s'", values["DRIVER"])
	}
}

func TestParseNormalizedUnescapesSemicolons(t *testing.T) {
	normalized, err := NormalizeConnectionString(`Server=db01;User ID=app;Password=a\;b`)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	values := ParseNormalized(normalized)
	if values["PWD"] != "a;b" {
		t.Errorf("Expected PWD to be 'a;b', got '%s'", values["PWD"])
	}
}

func TestDSNKeepsEscapedSemicolonInPassword(t *testing.T) {
	normalized, err := NormalizeConnectionString(`Server=db01;Database=Sales;User ID=app;Password=a\;b`)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	dsn, err := SQLServerDialect{}.DSN(normalized, models.ConnectionConfig{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(dsn, `password="a;b"`) {
		t.Errorf("Expected quoted password 'a;b' in DSN, got '%s'", dsn)
	}
	if strings.Contains(dsn, `\`) {
		t.Errorf("Expected no backslash in DSN, got '%s'", dsn)
	}

	dsn, err = MySQLDialect{}.DSN(normalized, models.ConnectionConfig{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("Failed to parse MySQL DSN %q: %v", dsn, err)
	}
	if cfg.Passwd != "a;b" {
		t.Errorf("Expected MySQL password to be 'a;b', got '%s'", cfg.Passwd)
	}
	if cfg.User != "app" || cfg.DBName != "Sales" {
		t.Errorf("Unexpected MySQL user/database: %s/%s", cfg.User, cfg.DBName)
	}
}
