package connector

import (
	"database/sql"
	"unicode/utf8"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/vitebski/sp-batch-runner/pkg/models"
)

// ReadResultSets consumes every result set exposed by rows. Sets without
// columns (row counts from DML or DECLARE statements) are skipped and do not
// consume an index.
func ReadResultSets(rows *sql.Rows) ([]models.ResultSet, error) {
	var sets []models.ResultSet

	for {
		columns, err := rows.Columns()
		if err != nil {
			return nil, err
		}

		if len(columns) > 0 {
			scanned, err := scanRows(rows, columns)
			if err != nil {
				return nil, err
			}
			sets = append(sets, models.ResultSet{Index: len(sets), Columns: columns, Rows: scanned})
		}

		if !rows.NextResultSet() {
			break
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sets, nil
}

func scanRows(rows *sql.Rows, columns []string) ([]models.Row, error) {
	result := []models.Row{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(models.Row, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		result = append(result, row)
	}

	return result, rows.Err()
}

// convertValue turns driver values into JSON-friendly ones. Byte slices
// become strings, except 16-byte binary values which go-mssqldb uses for
// UNIQUEIDENTIFIER columns and which are rendered in canonical GUID form.
func convertValue(val interface{}) interface{} {
	b, ok := val.([]byte)
	if !ok {
		return val
	}

	if len(b) == 16 && !utf8.Valid(b) {
		var guid mssql.UniqueIdentifier
		if err := guid.Scan(b); err == nil {
			return guid.String()
		}
	}
	return string(b)
}
