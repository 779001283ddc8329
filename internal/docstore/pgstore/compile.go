package pgstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/imagestore/imagestore/internal/docstore"
)

// predicate is a compiled filter: a SQL boolean expression over the doc
// column and its positional arguments, starting at $2 ($1 is always the
// collection name).
type predicate struct {
	sql  string
	args []any
}

// jsonPath quotes every segment so field names that are jsonpath keywords
// ("size", "type") stay member accessors.
func jsonPath(root, field string) string {
	var b strings.Builder
	b.WriteString(root)
	for _, seg := range strings.Split(field, ".") {
		fmt.Fprintf(&b, ".%q", seg)
	}
	return b.String()
}

// textPath renders a field as a Postgres text array literal for #> and #>>.
func textPath(field string) string {
	return "'{" + strings.ReplaceAll(field, ".", ",") + "}'"
}

// compile turns f into a single jsonb_path_exists call. Lax mode unwraps
// arrays on member access and comparison, which gives the same
// match-any-element behavior as MongoDB.
func compile(f docstore.Filter) (predicate, error) {
	if len(f) == 0 {
		return predicate{sql: "TRUE"}, nil
	}
	if err := f.Validate(); err != nil {
		return predicate{}, err
	}

	vars := make(map[string]any)
	bind := func(v any) string {
		name := fmt.Sprintf("v%d", len(vars))
		vars[name] = v
		return "$" + name
	}

	terms := make([]string, 0, len(f))
	for _, c := range f {
		at := jsonPath("@", c.Field)
		switch c.Op {
		case docstore.OpEq:
			if c.Value == nil {
				terms = append(terms, fmt.Sprintf("(!(exists(%s)) || %s == null)", at, at))
				continue
			}
			terms = append(terms, fmt.Sprintf("%s == %s", at, bind(c.Value)))
		case docstore.OpIn:
			list := c.Value.([]any)
			if len(list) == 0 {
				return predicate{sql: "FALSE"}, nil
			}
			alts := make([]string, len(list))
			for i, v := range list {
				alts[i] = fmt.Sprintf("%s == %s", at, bind(v))
			}
			terms = append(terms, "("+strings.Join(alts, " || ")+")")
		case docstore.OpGte:
			terms = append(terms, fmt.Sprintf("%s >= %s", at, bind(c.Value)))
		case docstore.OpLte:
			terms = append(terms, fmt.Sprintf("%s <= %s", at, bind(c.Value)))
		default:
			return predicate{}, fmt.Errorf("pgstore: unsupported operator %s", c.Op)
		}
	}

	path := "lax $ ? (" + strings.Join(terms, " && ") + ")"
	encoded, err := json.Marshal(vars)
	if err != nil {
		return predicate{}, fmt.Errorf("pgstore: encoding filter values: %w", err)
	}
	return predicate{
		sql:  "jsonb_path_exists(doc, $2::jsonpath, $3::jsonb)",
		args: []any{path, string(encoded)},
	}, nil
}

// orderBy appends id so ties resolve in insertion order. Missing fields
// sort first ascending and last descending, as in MongoDB.
func orderBy(fields []docstore.SortField) (string, error) {
	parts := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		if !docstore.ValidField(f.Field) {
			return "", fmt.Errorf("pgstore: invalid sort field %q", f.Field)
		}
		dir := "ASC NULLS FIRST"
		if f.Descending {
			dir = "DESC NULLS LAST"
		}
		parts = append(parts, fmt.Sprintf("doc #> %s %s", textPath(f.Field), dir))
	}
	parts = append(parts, "id ASC")
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func pagination(skip, limit int64) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if skip > 0 {
		fmt.Fprintf(&b, " OFFSET %d", skip)
	}
	return b.String()
}
