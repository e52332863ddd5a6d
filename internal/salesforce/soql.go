package salesforce

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrPlaceholders is returned when Where placeholders and Args disagree.
	ErrPlaceholders = errors.New("placeholder count does not match arguments")
	// ErrEmptyList is returned for an empty IN list, which SOQL rejects.
	ErrEmptyList = errors.New("empty list argument")
)

var identifierRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z][A-Za-z0-9_]*)*$`)

// ValidIdentifier reports whether name is safe to use as an object or field name.
func ValidIdentifier(name string) bool {
	return identifierRE.MatchString(name)
}

// Query is a SOQL query whose values are bound, never interpolated.
// Where may contain '?' placeholders; each is replaced by the matching
// entry of Args rendered as an escaped literal. Supported argument types
// are string, []string, int and bool.
type Query struct {
	Object  string
	Fields  []string
	Where   string
	Args    []any
	GroupBy string
	OrderBy string
	Limit   int
}

// Render returns the SOQL text.
func (q Query) Render() (string, error) {
	if !ValidIdentifier(q.Object) {
		return "", fmt.Errorf("invalid object name %q", q.Object)
	}
	if len(q.Fields) == 0 {
		return "", errors.New("no fields selected")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.Fields, ", "))
	b.WriteString(" FROM ")
	b.WriteString(q.Object)

	if q.Where != "" {
		where, err := bind(q.Where, q.Args)
		if err != nil {
			return "", err
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
	} else if len(q.Args) > 0 {
		return "", ErrPlaceholders
	}

	if q.GroupBy != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(q.GroupBy)
	}
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.Limit))
	}
	return b.String(), nil
}

func (q Query) String() string {
	text, err := q.Render()
	if err != nil {
		return "<invalid query: " + err.Error() + ">"
	}
	return text
}

func bind(template string, args []any) (string, error) {
	if strings.Count(template, "?") != len(args) {
		return "", ErrPlaceholders
	}

	var b strings.Builder
	next := 0
	for _, r := range template {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		lit, err := literal(args[next])
		if err != nil {
			return "", err
		}
		b.WriteString(lit)
		next++
	}
	return b.String(), nil
}

func literal(arg any) (string, error) {
	switch v := arg.(type) {
	case string:
		return Quote(v), nil
	case []string:
		if len(v) == 0 {
			return "", ErrEmptyList
		}
		quoted := make([]string, len(v))
		for i, s := range v {
			quoted[i] = Quote(s)
		}
		return "(" + strings.Join(quoted, ",") + ")", nil
	case int:
		return strconv.Itoa(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("unsupported argument type %T", arg)
	}
}

var quoteReplacer = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
	"\b", `\b`,
	"\f", `\f`,
)

// Quote renders s as a SOQL string literal.
func Quote(s string) string {
	return "'" + quoteReplacer.Replace(s) + "'"
}
