package executor

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/vitebski/sp-batch-runner/internal/connector"
	"github.com/vitebski/sp-batch-runner/pkg/models"
)

// SQL Server error numbers
var (
	mssqlPermission = map[int32]bool{229: true, 230: true, 262: true, 297: true, 300: true, 916: true}
	mssqlSyntax     = map[int32]bool{102: true, 105: true, 156: true, 170: true}
	mssqlTimeout    = map[int32]bool{-2: true, 1222: true}
)

// MySQL error numbers
var (
	mysqlPermission = map[uint16]bool{1044: true, 1045: true, 1142: true, 1143: true, 1370: true}
	mysqlSyntax     = map[uint16]bool{1064: true, 1149: true}
	mysqlTimeout    = map[uint16]bool{1205: true, 3024: true}
)

// Classify maps an execution error to its category. Typed driver errors are
// matched by number first, then by message.
func Classify(err error) models.ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, connector.ErrValidation):
		return models.CategoryValidation
	case errors.Is(err, context.DeadlineExceeded):
		return models.CategoryTimeout
	case errors.Is(err, connector.ErrPoolExhausted),
		errors.Is(err, connector.ErrPoolClosed),
		errors.Is(err, connector.ErrNotConnected),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysql.ErrInvalidConn):
		return models.CategoryConnection
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		switch {
		case mssqlTimeout[msErr.Number]:
			return models.CategoryTimeout
		case mssqlPermission[msErr.Number]:
			return models.CategoryPermission
		case mssqlSyntax[msErr.Number]:
			return models.CategorySyntax
		}
		return classifyDriverMessage(msErr.Message)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch {
		case mysqlTimeout[myErr.Number]:
			return models.CategoryTimeout
		case mysqlPermission[myErr.Number]:
			return models.CategoryPermission
		case mysqlSyntax[myErr.Number]:
			return models.CategorySyntax
		}
		return classifyDriverMessage(myErr.Message)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return models.CategoryTimeout
		}
		return models.CategoryConnection
	}

	return classifyMessage(err.Error())
}

// classifyDriverMessage categorizes a server-reported error by its text
func classifyDriverMessage(message string) models.ErrorCategory {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "timeout"):
		return models.CategoryTimeout
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "access denied"):
		return models.CategoryPermission
	case strings.Contains(msg, "syntax error"), strings.Contains(msg, "invalid syntax"):
		return models.CategorySyntax
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"):
		return models.CategoryConnection
	}
	return models.CategoryDatabase
}

// classifyMessage categorizes any other error by its text
func classifyMessage(message string) models.ErrorCategory {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return models.CategoryTimeout
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"):
		return models.CategoryConnection
	case strings.Contains(msg, "permission"), strings.Contains(msg, "access denied"):
		return models.CategoryPermission
	case strings.Contains(msg, "syntax"), strings.Contains(msg, "invalid"):
		return models.CategorySyntax
	}
	return models.CategoryUnknown
}
