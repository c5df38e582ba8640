package engine

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	identifierPattern   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	functionNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z][A-Za-z0-9_]*)*$`)
)

// IsIdentifier reports whether name is a valid workspace variable or field name.
func IsIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// IsFunctionName reports whether name is a callable, possibly package-qualified, name.
func IsFunctionName(name string) bool {
	return functionNamePattern.MatchString(name)
}

// Field is one key of a Record.
type Field struct {
	Key   string
	Value any // string, bool, int, int64, float64
}

// Record is an ordered set of fields passed to the engine as a struct.
type Record []Field

// Literal renders r as a struct(...) expression.
func (r Record) Literal() (string, error) {
	parts := make([]string, 0, 2*len(r))
	for _, f := range r {
		if !IsIdentifier(f.Key) {
			return "", fmt.Errorf("invalid struct field name %q", f.Key)
		}
		v, err := scalarLiteral(f.Value)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", f.Key, err)
		}
		parts = append(parts, quote(f.Key), v)
	}
	return "struct(" + strings.Join(parts, ", ") + ")", nil
}

func scalarLiteral(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return quote(x), nil
	case bool:
		if x {
			return "true", nil
		}
		return "false", nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", fmt.Errorf("non-finite number %v", x)
		}
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// quote produces a single-quoted char array literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
