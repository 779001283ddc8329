package docstore

import (
	"fmt"
	"regexp"
	"strings"
)

// Op is a comparison operator of a filter condition.
type Op int

const (
	OpEq Op = iota
	OpIn
	OpGte
	OpLte
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpIn:
		return "in"
	case OpGte:
		return "gte"
	case OpLte:
		return "lte"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Condition compares the value at Field with Value. Field may be a dotted
// path; a path segment that hits an array is applied to each element, so
// Eq("acl.group", "g") matches a document with any rule in group "g".
//
// Eq with a nil Value matches documents where the field is null or missing.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. An empty filter matches everything.
type Filter []Condition

func Eq(field string, value any) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

// In matches when the field equals any of values.
func In[T any](field string, values []T) Condition {
	list := make([]any, len(values))
	for i, v := range values {
		list[i] = v
	}
	return Condition{Field: field, Op: OpIn, Value: list}
}

func Gte(field string, value any) Condition {
	return Condition{Field: field, Op: OpGte, Value: value}
}

func Lte(field string, value any) Condition {
	return Condition{Field: field, Op: OpLte, Value: value}
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidField reports whether path is safe to embed in a native query.
func ValidField(path string) bool {
	return fieldPattern.MatchString(path)
}

// Validate checks every field referenced by the filter.
func (f Filter) Validate() error {
	for _, c := range f {
		if !ValidField(c.Field) {
			return fmt.Errorf("docstore: invalid field %q", c.Field)
		}
		if c.Op == OpIn {
			if _, ok := c.Value.([]any); !ok {
				return fmt.Errorf("docstore: %s on %q needs a list value", c.Op, c.Field)
			}
		}
	}
	return nil
}

// Fields returns the distinct fields in filter order.
func (f Filter) Fields() []string {
	seen := make(map[string]struct{}, len(f))
	var out []string
	for _, c := range f {
		if _, ok := seen[c.Field]; ok {
			continue
		}
		seen[c.Field] = struct{}{}
		out = append(out, c.Field)
	}
	return out
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}
