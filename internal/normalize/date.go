package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateFormat names one of the supported statement date layouts.
type DateFormat string

const (
	DayMonthYearSlash DateFormat = "DD/MM/YYYY"
	MonthDayYearSlash DateFormat = "MM/DD/YYYY"
	YearMonthDayDash  DateFormat = "YYYY-MM-DD"
	DayMonthYearDash  DateFormat = "DD-MM-YYYY"
	DayMonthYearDot   DateFormat = "DD.MM.YYYY"
)

// DefaultDateFormat is used when a mapping names no format or an unknown one.
const DefaultDateFormat = DayMonthYearSlash

var datePatterns = map[DateFormat]*regexp.Regexp{
	DayMonthYearSlash: regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`),
	MonthDayYearSlash: regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`),
	YearMonthDayDash:  regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`),
	DayMonthYearDash:  regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})$`),
	DayMonthYearDot:   regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`),
}

// Detection patterns, tried in order against each sample value.
var (
	slashDate = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`)
	isoDate   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dashDate  = regexp.MustCompile(`^\d{1,2}-\d{1,2}-\d{4}$`)
	dotDate   = regexp.MustCompile(`^\d{1,2}\.\d{1,2}\.\d{4}$`)
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Known reports whether f is a supported layout.
func (f DateFormat) Known() bool {
	_, ok := datePatterns[f]
	return ok
}

// ParseDate parses value with format. Values that do not match the format's
// pattern fall back to ISO-8601 parsing. The result is midnight UTC of the
// calendar day.
func ParseDate(value string, format DateFormat) (time.Time, error) {
	value = strings.TrimSpace(strings.ReplaceAll(value, `"`, ""))
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	pattern, ok := datePatterns[format]
	if !ok {
		format = DefaultDateFormat
		pattern = datePatterns[format]
	}

	m := pattern.FindStringSubmatch(value)
	if m == nil {
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}

	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	c, _ := strconv.Atoi(m[3])

	var year, month, day int
	switch format {
	case YearMonthDayDash:
		year, month, day = a, b, c
	case MonthDayYearSlash:
		month, day, year = a, b, c
	default:
		day, month, year = a, b, c
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, fmt.Errorf("invalid date %q for format %s", value, format)
	}
	return t, nil
}

// InferDateFormat guesses the layout of a column from up to five sample
// values. Slash dates are day-first unless the second group exceeds 12.
// It returns "" when no sample matches a known layout.
func InferDateFormat(samples []string) DateFormat {
	if len(samples) > 5 {
		samples = samples[:5]
	}
	for _, value := range samples {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch {
		case slashDate.MatchString(value):
			parts := strings.Split(value, "/")
			first, _ := strconv.Atoi(parts[0])
			second, _ := strconv.Atoi(parts[1])
			if first > 12 {
				return DayMonthYearSlash
			}
			if second > 12 {
				return MonthDayYearSlash
			}
			return DayMonthYearSlash
		case isoDate.MatchString(value):
			return YearMonthDayDash
		case dashDate.MatchString(value):
			return DayMonthYearDash
		case dotDate.MatchString(value):
			return DayMonthYearDot
		}
	}
	return ""
}
