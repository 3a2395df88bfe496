package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/sp-batch-runner/internal/connector"
	"github.com/vitebski/sp-batch-runner/pkg/models"
	"go.uber.org/goleak"
)

func newTestExtractor(opts Options) *JSONExtractor {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewJSONExtractor(opts, logger)
}

func compact(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.Compact(&buf, []byte(s)))
	return buf.String()
}

func TestExtractTrailingComma(t *testing.T) {
	je := newTestExtractor(DefaultOptions())
	source := `CREATE PROCEDURE [dbo].[X] @Json NVARCHAR(MAX) AS
-- usage:
EXEC [dbo].[X] '{"Id":1,}'`

	got, err := je.ExtractInputJSON(context.Background(), "dbo.X", source)
	require.NoError(t, err)
	assert.Equal(t, "{\n    \"Id\": 1\n}", got)
	assert.JSONEq(t, `{"Id": 1}`, got)
}

func TestExtractRules(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		expected string
	}{
		{
			name:     "exec array literal",
			source:   `EXEC [dbo].[ListUsers] '[{"Id":1},{"Id":2}]'`,
			expected: `[{"Id":1},{"Id":2}]`,
		},
		{
			name:     "exec double quoted",
			source:   `EXEC [dbo].[GetUser] "{'Id': 7}"`,
			expected: `{"Id":7}`,
		},
		{
			name:     "json assignment",
			source:   "DECLARE @Json NVARCHAR(MAX)\nSET @Json = '{\n  \"PageNumber\": 1,\n  \"PageSize\": 25\n}'",
			expected: `{"PageNumber":1,"PageSize":25}`,
		},
		{
			name:     "unicode json assignment",
			source:   `SET @Json = N'{"Name":"Ada"}'`,
			expected: `{"Name":"Ada"}`,
		},
		{
			name:     "execute keyword",
			source:   `EXECUTE [dbo].[SaveUser] '{"UserId":3}'`,
			expected: `{"UserId":3}`,
		},
		{
			name:     "block comment",
			source:   "/* sample input: {\"Id\": 42} */\nCREATE PROCEDURE dbo.X AS SELECT 1",
			expected: `{"Id":42}`,
		},
		{
			name:     "line comment",
			source:   "-- input {\"SearchTerm\": \"abc\"}\nCREATE PROCEDURE dbo.X AS SELECT 1",
			expected: `{"SearchTerm":"abc"}`,
		},
		{
			name:     "key order and numbers preserved",
			source:   `EXEC [dbo].[X] '{"Zeta":1.50,"Alpha":12345678901234567890}'`,
			expected: `{"Zeta":1.50,"Alpha":12345678901234567890}`,
		},
	}

	je := newTestExtractor(DefaultOptions())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := je.ExtractInputJSON(context.Background(), "dbo.X", tt.source)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, compact(t, got))
		})
	}
}

func TestExtractSkipsUnparseableFragments(t *testing.T) {
	je := newTestExtractor(DefaultOptions())
	source := `EXEC [dbo].[X] '{not json}'
EXEC [dbo].[X] '{"Id":5}'`

	got, err := je.ExtractInputJSON(context.Background(), "dbo.X", source)
	require.NoError(t, err)
	assert.Equal(t, `{"Id":5}`, compact(t, got))
}

func TestTemplateFallbackFromParameters(t *testing.T) {
	je := newTestExtractor(DefaultOptions())
	source := `CREATE PROCEDURE dbo.ListOrders
    @Json NVARCHAR(MAX),
    @CustomerId INT,
    @IsActive BIT = 1,
    @MinTotal DECIMAL(10,2),
    @Since DATETIME,
    @Search NVARCHAR(100) = N'abc',
    @Shape GEOGRAPHY,
    @Total INT OUTPUT
AS SELECT 1`

	got, err := je.ExtractInputJSON(context.Background(), "dbo.ListOrders", source)
	require.NoError(t, err)
	assert.Equal(t,
		`{"CustomerId":0,"IsActive":1,"MinTotal":0.0,"Since":"2024-01-01T00:00:00","Search":"abc","Shape":null}`,
		compact(t, got))
}

func TestTemplateFallbackBasic(t *testing.T) {
	je := newTestExtractor(DefaultOptions())

	got, err := je.ExtractInputJSON(context.Background(), "dbo.X", "CREATE PROCEDURE dbo.X AS SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, `{"Id":0,"UserId":1,"BizUnit":1}`, compact(t, got))
}

func TestNoFallback(t *testing.T) {
	opts := DefaultOptions()
	opts.FallbackToTemplate = false
	je := newTestExtractor(opts)

	got, err := je.ExtractInputJSON(context.Background(), "dbo.X", "CREATE PROCEDURE dbo.X @Id int AS SELECT 1")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = je.ExtractInputJSON(context.Background(), "dbo.X", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSourceTooLarge(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxJSONSizeMB = 1
	je := newTestExtractor(opts)

	_, err := je.ExtractInputJSON(context.Background(), "dbo.X", strings.Repeat("x", 1024*1024+1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceTooLarge))
	assert.True(t, errors.Is(err, connector.ErrValidation))
}

func TestRuleTimeoutFallsThrough(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	opts := DefaultOptions()
	opts.MatchTimeout = 20 * time.Millisecond
	je := newTestExtractor(opts)
	je.Rules = []Rule{
		{Name: "stuck", Find: func(string) []string {
			<-release
			return []string{`{"Id":99}`}
		}},
		{Name: "broken", Find: func(string) []string { panic("bad pattern") }},
		PatternRule("json-single-object", `(?is)@Json\s*=\s*'(\{.*?\})'`),
	}

	got, err := je.ExtractInputJSON(context.Background(), "dbo.X", `SET @Json = '{"Id":1}'`)
	close(release)

	require.NoError(t, err)
	assert.Equal(t, `{"Id":1}`, compact(t, got))
}

func TestMatchWithTimeout(t *testing.T) {
	rule := PatternRule("exec", `(?is)EXEC\s+\[.*?\]\s+'(\{.*?\})'`)

	fragments, err := matchWithTimeout(context.Background(), rule, `EXEC [a] '{"A":1}' EXEC [b] '{"B":2}'`, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"A":1}`, `{"B":2}`}, fragments)

	release := make(chan struct{})
	defer close(release)
	slow := Rule{Name: "slow", Find: func(string) []string { <-release; return nil }}
	_, err = matchWithTimeout(context.Background(), slow, "text", 10*time.Millisecond)
	assert.True(t, errors.Is(err, ErrMatchTimeout))
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{ "a": 1, "b": [1, 2] }`, CleanJSON("{\n  'a': 1,\n  \"b\": [1, 2,],\n}"))
	assert.Equal(t, "", CleanJSON(""))
}

func TestKindTemplates(t *testing.T) {
	tests := map[models.ProcedureKind]string{
		models.KindGet:    `{"Id":1}`,
		models.KindList:   `{"PageNumber":1,"PageSize":10,"SearchTerm":""}`,
		models.KindSave:   `{"Id":0,"UserId":1,"BizUnit":1}`,
		models.KindUpdate: `{"Id":1,"UserId":1,"BizUnit":1}`,
		models.KindDelete: `{"Id":1,"UserId":1}`,
		models.KindCreate: `{"Id":0}`,
	}

	for kind, expected := range tests {
		data, err := json.Marshal(KindTemplate(kind))
		require.NoError(t, err)
		assert.Equal(t, expected, string(data), string(kind))
	}

	assert.Equal(t, "{\n    \"Id\": 1\n}", KindTemplate(models.KindGet).String())
}

func TestParseDefaultLiteral(t *testing.T) {
	tests := []struct {
		literal  string
		expected interface{}
		ok       bool
	}{
		{"42", 42, true},
		{"1.50", json.Number("1.5"), true},
		{"3.", json.Number("3.0"), true},
		{"TRUE", true, true},
		{"'abc'", "abc", true},
		{"N'abc'", "abc", true},
		{"NULL", nil, false},
		{"1.2.3", nil, false},
		{"-1", "-1", true},
	}

	for _, tt := range tests {
		got, ok := ParseDefaultLiteral(tt.literal)
		assert.Equal(t, tt.ok, ok, tt.literal)
		assert.Equal(t, tt.expected, got, tt.literal)
	}
}

func TestTypeDefault(t *testing.T) {
	assert.Equal(t, 0, TypeDefault("BIGINT"))
	assert.Equal(t, false, TypeDefault("BIT"))
	assert.Equal(t, json.Number("0.0"), TypeDefault("MONEY"))
	assert.Equal(t, DefaultDateTime, TypeDefault("DATETIME2"))
	assert.Equal(t, "", TypeDefault("NVARCHAR"))
	assert.Nil(t, TypeDefault("VARBINARY"))
}
