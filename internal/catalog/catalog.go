package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/vitebski/sp-batch-runner/pkg/models"
	"gopkg.in/yaml.v3"
)

// ErrEmptyCatalog is returned when a list holds no usable procedure rows
var ErrEmptyCatalog = errors.New("no valid stored procedure data found")

// Column headers of the spreadsheet export
const (
	NameColumn = "SP Name"
	TypeColumn = "Type"
)

type yamlEntry struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type yamlCatalog struct {
	Procedures []yamlEntry `yaml:"procedures"`
}

type row struct {
	line int
	name string
	kind string
}

// Load reads a procedure list from a .yaml, .yml or .csv file
func Load(path string) ([]models.ProcedureRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open procedure list: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(f)
	case ".csv":
		return ParseCSV(f)
	default:
		return nil, fmt.Errorf("unsupported procedure list format: %s", filepath.Ext(path))
	}
}

// ParseYAML reads a document of the form
//
//	procedures:
//	  - name: dbo.GetUser
//	    type: Get
func ParseYAML(r io.Reader) ([]models.ProcedureRef, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc yamlCatalog
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyCatalog
		}
		return nil, fmt.Errorf("failed to parse procedure list: %w", err)
	}

	rows := make([]row, 0, len(doc.Procedures))
	for i, entry := range doc.Procedures {
		rows = append(rows, row{line: i + 1, name: entry.Name, kind: entry.Type})
	}
	return toRefs(rows)
}

// ParseCSV reads a list with "SP Name" and "Type" header columns. Header
// matching ignores case and surrounding spaces; other columns are ignored.
func ParseCSV(r io.Reader) ([]models.ProcedureRef, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyCatalog
		}
		return nil, fmt.Errorf("failed to read procedure list header: %w", err)
	}

	nameCol, typeCol := -1, -1
	for i, column := range header {
		column = strings.TrimSpace(strings.TrimPrefix(column, "\ufeff"))
		switch {
		case strings.EqualFold(column, NameColumn):
			nameCol = i
		case strings.EqualFold(column, TypeColumn):
			typeCol = i
		}
	}
	if nameCol < 0 || typeCol < 0 {
		return nil, fmt.Errorf("missing required columns %q and %q, available columns: %v", NameColumn, TypeColumn, header)
	}

	var rows []row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read procedure list: %w", err)
		}
		rows = append(rows, row{line: line, name: field(record, nameCol), kind: field(record, typeCol)})
	}
	return toRefs(rows)
}

// toRefs skips incomplete rows, validates kinds and numbers the remaining
// procedures from 1
func toRefs(rows []row) ([]models.ProcedureRef, error) {
	var refs []models.ProcedureRef
	var errs *multierror.Error

	for _, r := range rows {
		name, kindText := strings.TrimSpace(r.name), strings.TrimSpace(r.kind)
		if name == "" || kindText == "" {
			continue
		}
		kind, err := models.ParseProcedureKind(kindText)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("row %d: %w", r.line, err))
			continue
		}
		refs = append(refs, models.ProcedureRef{Name: name, Kind: kind, Ordinal: len(refs) + 1})
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, ErrEmptyCatalog
	}
	return refs, nil
}

func field(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}
