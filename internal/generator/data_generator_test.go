package generator

import (
	"regexp"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/vitebski/sp-batch-runner/pkg/models"
)

func newTestGenerator() *SampleGenerator {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewSampleGenerator(logger)
}

func intPtr(n int) *int { return &n }

func TestGenerateValueByType(t *testing.T) {
	sg := newTestGenerator()

	id := sg.GenerateValue(models.ParameterInfo{Name: "CustomerId", BaseType: "INT"})
	if assert.IsType(t, 0, id) {
		assert.GreaterOrEqual(t, id.(int), 1)
		assert.LessOrEqual(t, id.(int), 1000)
	}

	assert.IsType(t, true, sg.GenerateValue(models.ParameterInfo{Name: "IsActive", BaseType: "BIT"}))

	guid := sg.GenerateValue(models.ParameterInfo{Name: "RequestKey", BaseType: "UNIQUEIDENTIFIER"})
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{8}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{12}$`), guid)

	created := sg.GenerateValue(models.ParameterInfo{Name: "CreatedAt", BaseType: "DATETIME"})
	if assert.IsType(t, "", created) {
		_, err := time.Parse(DateTimeLayout, created.(string))
		assert.NoError(t, err)
	}

	day := sg.GenerateValue(models.ParameterInfo{Name: "BirthDate", BaseType: "DATE"})
	if assert.IsType(t, "", day) {
		_, err := time.Parse("2006-01-02", day.(string))
		assert.NoError(t, err)
	}

	assert.Nil(t, sg.GenerateValue(models.ParameterInfo{Name: "Shape", BaseType: "GEOGRAPHY"}))
}

func TestGenerateValueRespectsSize(t *testing.T) {
	sg := newTestGenerator()

	for i := 0; i < 20; i++ {
		v := sg.GenerateValue(models.ParameterInfo{Name: "Code", BaseType: "CHAR", Size: "3"})
		assert.LessOrEqual(t, utf8.RuneCountInString(v.(string)), 3)

		email := sg.GenerateValue(models.ParameterInfo{Name: "Email", BaseType: "NVARCHAR", Size: "MAX"})
		assert.Contains(t, email.(string), "@")
	}
}

func TestGenerateDecimalPrecision(t *testing.T) {
	sg := newTestGenerator()

	for i := 0; i < 50; i++ {
		v := sg.GenerateValue(models.ParameterInfo{
			Name:      "Amount",
			BaseType:  "DECIMAL",
			Precision: intPtr(5),
			Scale:     intPtr(2),
		})
		f, ok := v.(float64)
		if !assert.True(t, ok) {
			return
		}
		assert.Less(t, f, 1000.0)
		assert.GreaterOrEqual(t, f, 0.0)
	}
}

func TestGenerateIntegerPaging(t *testing.T) {
	sg := newTestGenerator()

	assert.Equal(t, 1, sg.GenerateValue(models.ParameterInfo{Name: "PageNumber", BaseType: "INT"}))
	assert.Equal(t, 10, sg.GenerateValue(models.ParameterInfo{Name: "PageSize", BaseType: "INT"}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abcdef", "3"))
	assert.Equal(t, "abcdef", truncate("abcdef", "MAX"))
	assert.Equal(t, "ab", truncate("ab", "10"))
	assert.Equal(t, "Zoë", truncate("Zoë Müller", "3"))
	assert.Equal(t, "日本", truncate("日本語", "2"))
	assert.Equal(t, "Zoë", truncate("Zoë", "3"))
}
