package analyzer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/sp-batch-runner/pkg/models"
)

var (
	// headerPattern captures the text between the procedure keyword and the
	// first AS outside a quoted literal, where the parameter list lives
	headerPattern = regexp.MustCompile(`(?is)\b(?:CREATE|ALTER)\s+(?:OR\s+ALTER\s+)?PROC(?:EDURE)?\b((?:'(?:[^']|'')*'|[^'])*?)\bAS\b`)

	// parameterPattern matches "@name type(args) modifiers = default"
	parameterPattern = regexp.MustCompile(`(?i)@(\w+)\s+(\w+(?:\.\w+)?(?:\s*\(\s*[^)]*\))?)((?:\s+(?:NOT\s+NULL|NULL|IDENTITY|VARYING|READONLY))*)(?:\s*=\s*('(?:[^']|'')*'|N'(?:[^']|'')*'|[^,\s)]+))?`)

	outputPattern      = regexp.MustCompile(`(?i)^\s*(?:OUT|OUTPUT)\b`)
	notNullPattern     = regexp.MustCompile(`(?i)\bNOT\s+NULL\b`)
	returnValuePattern = regexp.MustCompile(`(?i)\bEXEC(?:UTE)?\s+@\w+\s*=`)
	typeArgsPattern    = regexp.MustCompile(`^([\w.]+)\s*(?:\(\s*([^)]*)\))?$`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// outputLookahead is how many characters after a declaration are inspected
// for the OUTPUT keyword
const outputLookahead = 20

// reservedParameters are plumbing parameters that never appear in generated input
var reservedParameters = map[string]bool{
	"json":         true,
	"guid":         true,
	"errornumber":  true,
	"errormessage": true,
}

// precisionTypes take a single argument as precision rather than size
var precisionTypes = map[string]bool{
	"DECIMAL":        true,
	"NUMERIC":        true,
	"FLOAT":          true,
	"TIME":           true,
	"DATETIME2":      true,
	"DATETIMEOFFSET": true,
}

// SignatureAnalyzer derives procedure calling contracts from source text
type SignatureAnalyzer struct {
	Logger *logrus.Logger
}

// NewSignatureAnalyzer creates a new signature analyzer
func NewSignatureAnalyzer(logger *logrus.Logger) *SignatureAnalyzer {
	return &SignatureAnalyzer{Logger: logger}
}

// Analyze scans the declared parameters of a procedure. It never fails:
// text it cannot read yields an empty signature.
func (sa *SignatureAnalyzer) Analyze(source string) models.ProcedureSignature {
	signature := models.ProcedureSignature{
		InputParams:    []models.ParameterInfo{},
		OutputParams:   []models.ParameterInfo{},
		HasReturnValue: returnValuePattern.MatchString(source),
	}

	header := source
	if m := headerPattern.FindStringSubmatch(source); m != nil {
		header = m[1]
	}

	seen := make(map[string]bool)
	for _, loc := range parameterPattern.FindAllStringSubmatchIndex(header, -1) {
		param := parseDeclaration(header, loc)

		key := strings.ToLower(param.Name)
		if seen[key] {
			continue
		}
		seen[key] = true

		// the payload parameter is always bound positionally
		if key == "json" {
			continue
		}
		if param.IsOutput {
			signature.OutputParams = append(signature.OutputParams, param)
			continue
		}
		if reservedParameters[key] {
			continue
		}
		signature.InputParams = append(signature.InputParams, param)
	}

	if sa.Logger != nil {
		sa.Logger.Debugf("Analyzed signature: %d input, %d output parameters, return value: %t",
			len(signature.InputParams), len(signature.OutputParams), signature.HasReturnValue)
	}

	return signature
}

// parseDeclaration builds a ParameterInfo from one parameterPattern match
func parseDeclaration(text string, loc []int) models.ParameterInfo {
	group := func(i int) string {
		if loc[2*i] < 0 {
			return ""
		}
		return text[loc[2*i]:loc[2*i+1]]
	}

	param := parseType(group(2))
	param.Name = group(1)
	param.Nullable = !notNullPattern.MatchString(group(3))

	if def := group(4); def != "" {
		param.DefaultLiteral = &def
	}

	end := loc[1]
	tail := text[end:min(len(text), end+outputLookahead)]
	param.IsOutput = outputPattern.MatchString(tail)

	return param
}

// parseType splits a declared type into base type, size, precision and
// scale. Unreadable arguments are ignored.
func parseType(declared string) models.ParameterInfo {
	declared = whitespacePattern.ReplaceAllString(strings.TrimSpace(declared), " ")
	param := models.ParameterInfo{
		BaseType: strings.ToUpper(declared),
		FullType: strings.ToUpper(declared),
	}

	m := typeArgsPattern.FindStringSubmatch(declared)
	if m == nil {
		return param
	}
	param.BaseType = strings.ToUpper(m[1])

	var args []string
	for _, arg := range strings.Split(m[2], ",") {
		if arg = strings.TrimSpace(arg); arg != "" {
			args = append(args, arg)
		}
	}

	switch len(args) {
	case 0:
		param.FullType = param.BaseType
	case 1:
		arg := strings.ToUpper(args[0])
		param.FullType = param.BaseType + "(" + arg + ")"
		n, err := strconv.Atoi(arg)
		switch {
		case arg == "MAX":
			param.Size = arg
		case err != nil:
		case precisionTypes[param.BaseType]:
			param.Precision = &n
		default:
			param.Size = arg
		}
	default:
		param.FullType = param.BaseType + "(" + strings.ToUpper(strings.Join(args, ",")) + ")"
		if p, err := strconv.Atoi(args[0]); err == nil {
			param.Precision = &p
		}
		if s, err := strconv.Atoi(args[1]); err == nil {
			param.Scale = &s
		}
	}

	return param
}
