package rules

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrNotANumber      = errors.New("not a number")
	ErrAmbiguousNumber = errors.New("ambiguous number format")
)

var (
	plainNumber     = regexp.MustCompile(`^\d+(?:[.,]\d+)?$`)
	germanThousands = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+,\d+$`)
)

// ParseDecimal reads a number as it appears on German plans. A single ','
// or '.' is the decimal separator; "1.234,56" is accepted as thousands
// grouping. Any other mix of separators is ambiguous and rejected.
func ParseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".,")
	if s == "" {
		return 0, ErrNotANumber
	}
	switch {
	case plainNumber.MatchString(s):
		return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	case germanThousands.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
		return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return 0, ErrNotANumber
		}
	}
	return 0, ErrAmbiguousNumber
}
