package connector

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/vitebski/sp-batch-runner/pkg/models"
)

// OutputVar is a declared local variable that receives an OUTPUT parameter
type OutputVar struct {
	Name    string
	SQLType string
}

// Dialect captures the engine-specific SQL and DSN details
type Dialect interface {
	Name() string
	DriverName() string
	DSN(normalized string, cfg models.ConnectionConfig) (string, error)
	ProbeQuery() string
	DefinitionQuery() string
	DefinitionArg(procedure string) string
	SimpleCall(procedure string) string
	OutputCall(procedure string, outputs []OutputVar) string
}

// DialectFor resolves a dialect by name; empty selects SQL Server
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlserver", "mssql":
		return SQLServerDialect{}, nil
	case "mysql":
		return MySQLDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database dialect: %s", name)
	}
}

// SQLServerDialect talks to SQL Server through go-mssqldb. The "mssql"
// driver name keeps ODBC-style ? placeholders.
type SQLServerDialect struct{}

func (SQLServerDialect) Name() string       { return "sqlserver" }
func (SQLServerDialect) DriverName() string { return "mssql" }
func (SQLServerDialect) ProbeQuery() string { return "SELECT 1" }

func (SQLServerDialect) DefinitionQuery() string {
	return "SELECT OBJECT_DEFINITION(OBJECT_ID(?))"
}

func (SQLServerDialect) DefinitionArg(procedure string) string {
	return procedure
}

// DSN builds an ADO-style go-mssqldb connection string
func (SQLServerDialect) DSN(normalized string, cfg models.ConnectionConfig) (string, error) {
	values := ParseNormalized(normalized)

	server := strings.TrimPrefix(values["SERVER"], "tcp:")
	if server == "" {
		return "", fmt.Errorf("connection string has no server")
	}

	var parts []string
	add := func(key, value string) {
		parts = append(parts, key+"="+adoQuote(value))
	}

	if host, port, found := strings.Cut(server, ","); found {
		add("server", strings.TrimSpace(host))
		add("port", strings.TrimSpace(port))
	} else {
		add("server", server)
	}
	if db := values["DATABASE"]; db != "" {
		add("database", db)
	}
	if uid := values["UID"]; uid != "" {
		add("user id", uid)
		add("password", values["PWD"])
	}
	if v, ok := values["ENCRYPT"]; ok {
		add("encrypt", odbcBool(v))
	}
	if v, ok := values["TRUSTSERVERCERTIFICATE"]; ok {
		add("TrustServerCertificate", odbcBool(v))
	}

	timeout := cfg.ConnectTimeout
	if v := values["CONNECTION TIMEOUT"]; v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			timeout = time.Duration(secs) * time.Second
		}
	}
	if timeout > 0 {
		add("dial timeout", strconv.Itoa(int(timeout.Seconds())))
	}

	return strings.Join(parts, ";"), nil
}

func (SQLServerDialect) SimpleCall(procedure string) string {
	return fmt.Sprintf("EXEC %s ?", procedure)
}

// OutputCall declares each output as a typed local, binds it by name and
// selects the locals as the final result set
func (SQLServerDialect) OutputCall(procedure string, outputs []OutputVar) string {
	lines := []string{"DECLARE @Json NVARCHAR(MAX) = ?;"}
	var bindings, selects []string
	for _, out := range outputs {
		lines = append(lines, fmt.Sprintf("DECLARE @%s %s;", out.Name, out.SQLType))
		bindings = append(bindings, fmt.Sprintf("@%s = @%s OUTPUT", out.Name, out.Name))
		selects = append(selects, fmt.Sprintf("@%s AS [%s]", out.Name, out.Name))
	}

	call := "EXEC " + procedure + " @Json"
	if len(bindings) > 0 {
		call += ", " + strings.Join(bindings, ", ")
	}
	lines = append(lines, call+";")

	if len(selects) > 0 {
		lines = append(lines, "SELECT "+strings.Join(selects, ", ")+";")
	} else {
		lines = append(lines, "SELECT 'No output parameters' AS Message;")
	}
	return strings.Join(lines, "\n")
}

// MySQLDialect talks to MySQL through go-sql-driver/mysql. Procedure source
// is reassembled from information_schema so the header reads like a T-SQL
// parameter list.
type MySQLDialect struct{}

func (MySQLDialect) Name() string       { return "mysql" }
func (MySQLDialect) DriverName() string { return "mysql" }
func (MySQLDialect) ProbeQuery() string { return "SELECT 1" }

func (MySQLDialect) DefinitionQuery() string {
	return `
		SELECT CONCAT(
			'CREATE PROCEDURE ', r.ROUTINE_NAME, '\n',
			COALESCE((
				SELECT GROUP_CONCAT(
					CONCAT('@', p.PARAMETER_NAME, ' ', p.DTD_IDENTIFIER,
						IF(p.PARAMETER_MODE IN ('OUT', 'INOUT'), ' OUTPUT', ''))
					ORDER BY p.ORDINAL_POSITION SEPARATOR ',\n')
				FROM information_schema.PARAMETERS p
				WHERE p.SPECIFIC_SCHEMA = r.ROUTINE_SCHEMA
				AND p.SPECIFIC_NAME = r.ROUTINE_NAME
				AND p.ORDINAL_POSITION > 0
			), ''),
			'\nAS\n', r.ROUTINE_DEFINITION)
		FROM information_schema.ROUTINES r
		WHERE r.ROUTINE_SCHEMA = DATABASE()
		AND r.ROUTINE_TYPE = 'PROCEDURE'
		AND r.ROUTINE_NAME = ?
	`
}

func (MySQLDialect) DefinitionArg(procedure string) string {
	segments := identifierSegments(procedure)
	if len(segments) == 0 {
		return procedure
	}
	return segments[len(segments)-1]
}

// DSN builds a go-sql-driver/mysql DSN. Multi statements and client side
// interpolation are required by the output-parameter batch.
func (MySQLDialect) DSN(normalized string, cfg models.ConnectionConfig) (string, error) {
	values := ParseNormalized(normalized)

	server := values["SERVER"]
	if server == "" {
		return "", fmt.Errorf("connection string has no server")
	}
	host, port := server, "3306"
	if h, p, found := strings.Cut(server, ","); found {
		host, port = strings.TrimSpace(h), strings.TrimSpace(p)
	} else if h, p, err := net.SplitHostPort(server); err == nil {
		host, port = h, p
	}

	mc := mysql.NewConfig()
	mc.User = values["UID"]
	mc.Passwd = values["PWD"]
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, port)
	mc.DBName = values["DATABASE"]
	mc.MultiStatements = true
	mc.InterpolateParams = true
	mc.ParseTime = true
	if cfg.ConnectTimeout > 0 {
		mc.Timeout = cfg.ConnectTimeout
	}
	if odbcBool(values["TRUSTSERVERCERTIFICATE"]) == "true" {
		mc.TLSConfig = "skip-verify"
	} else if odbcBool(values["ENCRYPT"]) == "true" {
		mc.TLSConfig = "true"
	}

	return mc.FormatDSN(), nil
}

func (MySQLDialect) SimpleCall(procedure string) string {
	return fmt.Sprintf("CALL %s(?)", mysqlIdentifier(procedure))
}

func (MySQLDialect) OutputCall(procedure string, outputs []OutputVar) string {
	lines := []string{"SET @Json = ?;"}
	args := []string{"@Json"}
	var selects []string
	for _, out := range outputs {
		lines = append(lines, fmt.Sprintf("SET @%s = NULL;", out.Name))
		args = append(args, "@"+out.Name)
		selects = append(selects, fmt.Sprintf("@%s AS `%s`", out.Name, out.Name))
	}
	lines = append(lines, fmt.Sprintf("CALL %s(%s);", mysqlIdentifier(procedure), strings.Join(args, ", ")))

	if len(selects) > 0 {
		lines = append(lines, "SELECT "+strings.Join(selects, ", ")+";")
	} else {
		lines = append(lines, "SELECT 'No output parameters' AS Message;")
	}
	return strings.Join(lines, "\n")
}

// mysqlIdentifier backtick-quotes a procedure name, dropping a SQL Server
// style dbo schema
func mysqlIdentifier(procedure string) string {
	segments := identifierSegments(procedure)
	if len(segments) > 1 && strings.EqualFold(segments[0], "dbo") {
		segments = segments[1:]
	}
	for i, s := range segments {
		segments[i] = "`" + strings.ReplaceAll(s, "`", "``") + "`"
	}
	return strings.Join(segments, ".")
}

func identifierSegments(name string) []string {
	var segments []string
	for _, s := range strings.Split(name, ".") {
		s = strings.Trim(strings.TrimSpace(s), "[]`\"")
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func odbcBool(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "true", "sspi", "1", "mandatory", "strict":
		return "true"
	case "no", "false", "0", "optional":
		return "false"
	}
	return value
}

func adoQuote(value string) string {
	if strings.ContainsAny(value, ";\"'") || strings.TrimSpace(value) != value {
		return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
	}
	return value
}
