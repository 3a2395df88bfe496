package extractor

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/vitebski/sp-batch-runner/pkg/models"
)

// DefaultDateTime is the placeholder for temporal parameters
const DefaultDateTime = "2024-01-01T00:00:00"

// Field is one key of an ordered JSON object
type Field struct {
	Key   string
	Value interface{}
}

// Template is a JSON object that keeps its keys in declaration order
type Template []Field

// MarshalJSON writes the fields in order
func (t Template) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(field.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// String renders the template with four-space indentation
func (t Template) String() string {
	data, err := json.MarshalIndent(t, "", "    ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// BasicTemplate is used when a procedure declares no usable parameters
func BasicTemplate() Template {
	return Template{{"Id", 0}, {"UserId", 1}, {"BizUnit", 1}}
}

// KindTemplate returns the fixed template for a procedure kind
func KindTemplate(kind models.ProcedureKind) Template {
	switch kind {
	case models.KindGet:
		return Template{{"Id", 1}}
	case models.KindList:
		return Template{{"PageNumber", 1}, {"PageSize", 10}, {"SearchTerm", ""}}
	case models.KindSave:
		return Template{{"Id", 0}, {"UserId", 1}, {"BizUnit", 1}}
	case models.KindUpdate:
		return Template{{"Id", 1}, {"UserId", 1}, {"BizUnit", 1}}
	case models.KindDelete:
		return Template{{"Id", 1}, {"UserId", 1}}
	default:
		return Template{{"Id", 0}}
	}
}

// ParameterTemplate builds a template from analyzed input parameters. The
// sample function, when set, replaces the type default.
func ParameterTemplate(params []models.ParameterInfo, sample func(models.ParameterInfo) interface{}) Template {
	template := make(Template, 0, len(params))
	for _, param := range params {
		var value interface{}
		if sample != nil {
			value = sample(param)
		} else {
			value = TypeDefault(param.BaseType)
		}

		if param.DefaultLiteral != nil {
			if parsed, ok := ParseDefaultLiteral(*param.DefaultLiteral); ok {
				value = parsed
			}
		}

		template = append(template, Field{Key: param.Name, Value: value})
	}
	return template
}

// TypeDefault returns the placeholder value for a declared type
func TypeDefault(baseType string) interface{} {
	t := strings.ToLower(baseType)
	switch {
	case strings.Contains(t, "int"):
		return 0
	case strings.Contains(t, "bit") || strings.Contains(t, "bool"):
		return false
	case strings.Contains(t, "decimal") || strings.Contains(t, "numeric") ||
		strings.Contains(t, "float") || strings.Contains(t, "real") || strings.Contains(t, "money"):
		return json.Number("0.0")
	case strings.Contains(t, "date") || strings.Contains(t, "time"):
		return DefaultDateTime
	case strings.Contains(t, "char"):
		return ""
	default:
		return nil
	}
}

// ParseDefaultLiteral converts a declared default into a JSON value. NULL
// and unparseable numbers are reported as unusable.
func ParseDefaultLiteral(literal string) (interface{}, bool) {
	literal = strings.TrimSpace(literal)
	lower := strings.ToLower(literal)
	if literal == "" || lower == "null" || lower == "none" {
		return nil, false
	}

	switch {
	case isDigits(literal):
		n, err := strconv.Atoi(literal)
		if err != nil {
			return nil, false
		}
		return n, true
	case isDigits(strings.ReplaceAll(literal, ".", "")):
		f, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return nil, false
		}
		text := strconv.FormatFloat(f, 'f', -1, 64)
		if !strings.Contains(text, ".") {
			text += ".0"
		}
		return json.Number(text), true
	case lower == "true" || lower == "false":
		return lower == "true", true
	}

	if strings.HasPrefix(literal, "N'") {
		literal = literal[1:]
	}
	return strings.Trim(literal, `'"`), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
