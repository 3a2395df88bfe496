package executor

import (
	"fmt"
	"strings"

	"github.com/vitebski/sp-batch-runner/pkg/models"
)

// simpleTypes are declared without size or precision
var simpleTypes = map[string]bool{
	"INT": true, "BIGINT": true, "SMALLINT": true, "TINYINT": true, "BIT": true,
	"REAL": true, "MONEY": true, "SMALLMONEY": true, "DATETIME": true, "DATE": true,
	"UNIQUEIDENTIFIER": true, "TEXT": true, "NTEXT": true, "IMAGE": true,
	"TIMESTAMP": true, "ROWVERSION": true,
}

// FallbackSQLType declares outputs of unrecognized types
const FallbackSQLType = "NVARCHAR(4000)"

// NormalizeSQLType returns the DECLARE type for an output parameter. Types
// declared with arguments are used as written. The boolean is false when the
// type was not recognized and FallbackSQLType was returned.
func NormalizeSQLType(param models.ParameterInfo) (string, bool) {
	if strings.Contains(param.FullType, "(") {
		return strings.ToUpper(param.FullType), true
	}

	base := strings.ToUpper(strings.TrimSpace(param.BaseType))
	switch base {
	case "DECIMAL", "NUMERIC":
		if param.Precision != nil && param.Scale != nil {
			return fmt.Sprintf("%s(%d,%d)", base, *param.Precision, *param.Scale), true
		}
		return base + "(18,2)", true

	case "VARCHAR", "NVARCHAR", "CHAR", "NCHAR":
		if param.Size != "" {
			return fmt.Sprintf("%s(%s)", base, strings.ToUpper(param.Size)), true
		}
		if base == "VARCHAR" || base == "NVARCHAR" {
			return base + "(4000)", true
		}
		return base + "(255)", true

	case "VARBINARY", "BINARY":
		if param.Size != "" {
			return fmt.Sprintf("%s(%s)", base, strings.ToUpper(param.Size)), true
		}
		return base + "(8000)", true

	case "FLOAT":
		if param.Precision != nil {
			return fmt.Sprintf("FLOAT(%d)", *param.Precision), true
		}
		return "FLOAT", true

	case "DATETIME2", "TIME", "DATETIMEOFFSET":
		if param.Precision != nil {
			return fmt.Sprintf("%s(%d)", base, *param.Precision), true
		}
		return base + "(7)", true
	}

	if simpleTypes[base] {
		return base, true
	}
	return FallbackSQLType, false
}
