package generator

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/jaswdr/faker"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/sp-batch-runner/pkg/models"
)

// DateTimeLayout is the ISO-8601 layout used for temporal sample values
const DateTimeLayout = "2006-01-02T15:04:05"

// SampleGenerator produces realistic input values for procedure parameters
type SampleGenerator struct {
	Faker  faker.Faker
	Logger *logrus.Logger
}

// NewSampleGenerator creates a new sample generator
func NewSampleGenerator(logger *logrus.Logger) *SampleGenerator {
	return &SampleGenerator{
		Faker:  faker.New(),
		Logger: logger,
	}
}

// GenerateValue returns a JSON-friendly value for a parameter based on its
// name and declared type
func (sg *SampleGenerator) GenerateValue(param models.ParameterInfo) interface{} {
	name := strings.ToLower(param.Name)
	baseType := strings.ToLower(param.BaseType)

	// Identifier-like integers stay small and positive
	if isIntegerType(baseType) && (name == "id" || strings.HasSuffix(name, "id")) {
		return sg.Faker.IntBetween(1, 1000)
	}

	if isCharacterType(baseType) {
		if value, ok := sg.byName(name); ok {
			return truncate(value, param.Size)
		}
		return truncate(sg.generateString(param), param.Size)
	}

	switch {
	case baseType == "uniqueidentifier":
		return strings.ToUpper(sg.Faker.UUID().V4())
	case baseType == "bit" || strings.Contains(baseType, "bool"):
		return rand.Intn(2) == 1
	case isIntegerType(baseType):
		return sg.generateInteger(baseType, name)
	case isDecimalType(baseType):
		return sg.generateDecimal(param)
	case strings.Contains(baseType, "date") || strings.Contains(baseType, "time"):
		return sg.generateDateTime(baseType)
	default:
		sg.Logger.Debugf("No specific generator for type %s, using null", param.BaseType)
		return nil
	}
}

// byName picks a generator from well-known parameter names
func (sg *SampleGenerator) byName(name string) (string, bool) {
	switch {
	case strings.Contains(name, "email"):
		return sg.Faker.Internet().Email(), true
	case strings.Contains(name, "name") && !strings.Contains(name, "file"):
		switch {
		case strings.Contains(name, "first"):
			return sg.Faker.Person().FirstName(), true
		case strings.Contains(name, "last"):
			return sg.Faker.Person().LastName(), true
		case strings.Contains(name, "user"):
			return sg.Faker.Internet().User(), true
		case strings.Contains(name, "company") || strings.Contains(name, "business"):
			return sg.Faker.Company().Name(), true
		default:
			return sg.Faker.Person().Name(), true
		}
	case strings.Contains(name, "phone"):
		return sg.Faker.Phone().Number(), true
	case strings.Contains(name, "address"):
		return sg.Faker.Address().StreetAddress(), true
	case strings.Contains(name, "city"):
		return sg.Faker.Address().City(), true
	case strings.Contains(name, "country"):
		return sg.Faker.Address().Country(), true
	case strings.Contains(name, "zip") || strings.Contains(name, "postal"):
		return sg.Faker.Address().PostCode(), true
	case strings.Contains(name, "url") || strings.Contains(name, "website"):
		return sg.Faker.Internet().URL(), true
	case strings.Contains(name, "description") || strings.Contains(name, "notes"):
		return sg.Faker.Lorem().Sentence(8), true
	case strings.Contains(name, "title"):
		return sg.Faker.Lorem().Sentence(4), true
	case strings.Contains(name, "search") || strings.Contains(name, "term"):
		return sg.Faker.Lorem().Word(), true
	case strings.Contains(name, "code"):
		return strings.ToUpper(sg.Faker.RandomStringWithLength(6)), true
	}
	return "", false
}

func (sg *SampleGenerator) generateString(param models.ParameterInfo) string {
	maxLength := 50
	if n, err := strconv.Atoi(param.Size); err == nil && n > 0 && n < maxLength {
		maxLength = n
	}

	switch {
	case maxLength <= 5:
		return sg.Faker.RandomStringWithLength(maxLength)
	case maxLength <= 10:
		return sg.Faker.Lorem().Word()
	default:
		return sg.Faker.Lorem().Sentence(3)
	}
}

func (sg *SampleGenerator) generateInteger(baseType, name string) int {
	switch {
	case baseType == "tinyint":
		return rand.Intn(256)
	case strings.Contains(name, "page") && strings.Contains(name, "size"):
		return 10
	case strings.Contains(name, "page"):
		return 1
	case baseType == "smallint":
		return rand.Intn(32768)
	default:
		return sg.Faker.IntBetween(1, 100000)
	}
}

// generateDecimal respects the declared precision and scale
func (sg *SampleGenerator) generateDecimal(param models.ParameterInfo) float64 {
	scale := 2
	if param.Scale != nil {
		scale = *param.Scale
	}
	integerDigits := 6
	if param.Precision != nil && *param.Precision-scale < integerDigits {
		integerDigits = max(*param.Precision-scale, 0)
	}

	limit := math.Pow10(integerDigits) - 1
	value := rand.Float64() * limit
	factor := math.Pow10(scale)
	return math.Round(value*factor) / factor
}

func (sg *SampleGenerator) generateDateTime(baseType string) string {
	days := rand.Intn(365 * 5)
	t := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(days) * 24 * time.Hour)

	switch baseType {
	case "date":
		return t.Format("2006-01-02")
	case "time":
		return time.Date(0, 1, 1, rand.Intn(24), rand.Intn(60), rand.Intn(60), 0, time.UTC).Format("15:04:05")
	default:
		t = t.Add(time.Duration(rand.Intn(86400)) * time.Second)
		return t.Format(DateTimeLayout)
	}
}

func isIntegerType(baseType string) bool {
	return strings.Contains(baseType, "int")
}

func isDecimalType(baseType string) bool {
	for _, token := range []string{"decimal", "numeric", "float", "real", "money"} {
		if strings.Contains(baseType, token) {
			return true
		}
	}
	return false
}

func isCharacterType(baseType string) bool {
	return strings.Contains(baseType, "char") || strings.Contains(baseType, "text")
}

// truncate shortens value to a numeric declared size, counted in characters
func truncate(value, size string) string {
	n, err := strconv.Atoi(size)
	if err != nil || n <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= n {
		return value
	}
	return string(runes[:n])
}
