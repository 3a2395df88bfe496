package connector

import (
	"fmt"
	"strings"
)

// ODBCDriverPrefix leads every normalized connection string
const ODBCDriverPrefix = "DRIVER={ODBC Driver 17 for SQL Server}"

// keyMapping maps lower-cased source keys to their ODBC names
var keyMapping = map[string]string{
	"data source":            "SERVER",
	"server":                 "SERVER",
	"initial catalog":        "DATABASE",
	"database":               "DATABASE",
	"user id":                "UID",
	"uid":                    "UID",
	"user":                   "UID",
	"password":               "PWD",
	"pwd":                    "PWD",
	"integrated security":    "Trusted_Connection",
	"connection timeout":     "Connection Timeout",
	"command timeout":        "Command Timeout",
	"trustservercertificate": "TrustServerCertificate",
	"encrypt":                "Encrypt",
}

// booleanKeys are ODBC keys whose truthy values collapse to "yes"
var booleanKeys = map[string]bool{
	"Trusted_Connection":     true,
	"TrustServerCertificate": true,
	"Encrypt":                true,
}

type keyValue struct {
	key   string
	value string
}

// NormalizeConnectionString converts a key=value connection string in any of
// the supported dialects into ODBC form. Strings that already name a DRIVER
// are returned unchanged.
func NormalizeConnectionString(connectionString string) (string, error) {
	if strings.TrimSpace(connectionString) == "" {
		return "", fmt.Errorf("connection string is empty")
	}

	if strings.Contains(strings.ToUpper(connectionString), "DRIVER=") {
		return connectionString, nil
	}

	components := parseKeyValues(connectionString)
	if len(components) == 0 {
		return "", fmt.Errorf("connection string contains no key=value pairs")
	}

	parts := []string{ODBCDriverPrefix}
	for _, kv := range components {
		odbcKey, ok := keyMapping[kv.key]
		if !ok {
			continue
		}
		value := kv.value
		if booleanKeys[odbcKey] && isTruthy(value) {
			value = "yes"
		}
		parts = append(parts, odbcKey+"="+value)
	}

	return strings.Join(parts, ";") + ";", nil
}

// ParseNormalized reads an ODBC connection string into a map keyed by
// upper-cased key names. Escaped semicolons in values are unescaped.
func ParseNormalized(normalized string) map[string]string {
	result := make(map[string]string)
	for _, kv := range parseKeyValues(normalized) {
		result[strings.ToUpper(kv.key)] = strings.ReplaceAll(kv.value, `\;`, ";")
	}
	return result
}

// parseKeyValues splits on unescaped semicolons. Keys are lower-cased and a
// repeated key keeps its first position but takes the last value.
func parseKeyValues(connectionString string) []keyValue {
	var components []keyValue
	index := make(map[string]int)

	for _, part := range splitUnescaped(connectionString) {
		part = strings.TrimSpace(part)
		eq := strings.Index(part, "=")
		if eq < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(part[:eq]))
		value := unquote(strings.TrimSpace(part[eq+1:]))
		if key == "" {
			continue
		}

		if i, seen := index[key]; seen {
			components[i].value = value
			continue
		}
		index[key] = len(components)
		components = append(components, keyValue{key: key, value: value})
	}

	return components
}

func splitUnescaped(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ';' && (i == 0 || s[i-1] != '\\') {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "sspi":
		return true
	}
	return false
}
