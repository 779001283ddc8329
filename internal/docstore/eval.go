package docstore

import (
	"reflect"
	"sort"
	"strings"

	"github.com/imagestore/imagestore/internal/normalize"
)

// Match evaluates filter against doc with MongoDB query semantics for the
// supported operators. Adapters that cannot push a filter down to the
// store use it as well.
func Match(doc Document, filter Filter) bool {
	for _, c := range filter {
		if !matchCondition(doc, c) {
			return false
		}
	}
	return true
}

func matchCondition(doc Document, c Condition) bool {
	candidates := lookup(doc, splitPath(c.Field))

	switch c.Op {
	case OpEq:
		if c.Value == nil && len(candidates) == 0 {
			return true
		}
		return anyCandidate(candidates, func(v any) bool { return Equal(v, c.Value) })
	case OpIn:
		list, _ := c.Value.([]any)
		return anyCandidate(candidates, func(v any) bool {
			for _, want := range list {
				if Equal(v, want) {
					return true
				}
			}
			return false
		})
	case OpGte:
		return anyCandidate(candidates, func(v any) bool {
			n, ok := Compare(v, c.Value)
			return ok && n >= 0
		})
	case OpLte:
		return anyCandidate(candidates, func(v any) bool {
			n, ok := Compare(v, c.Value)
			return ok && n <= 0
		})
	}
	return false
}

// anyCandidate tests each value and, for arrays, each array element.
func anyCandidate(values []any, pred func(any) bool) bool {
	for _, v := range values {
		if pred(v) {
			return true
		}
		if list, ok := v.([]any); ok {
			for _, item := range list {
				if pred(item) {
					return true
				}
			}
		}
	}
	return false
}

// lookup resolves a dotted path, descending into every element of arrays
// met on the way.
func lookup(v any, path []string) []any {
	if len(path) == 0 {
		return []any{v}
	}
	switch t := v.(type) {
	case map[string]any:
		next, ok := t[path[0]]
		if !ok {
			return nil
		}
		return lookup(next, path[1:])
	case []any:
		var out []any
		for _, item := range t {
			if _, ok := item.(map[string]any); ok {
				out = append(out, lookup(item, path)...)
			}
		}
		return out
	}
	return nil
}

// Equal compares two values after normalization. Integers and floats
// compare by numeric value.
func Equal(a, b any) bool {
	a, b = normalize.Value(a), normalize.Value(b)
	if n, ok := Compare(a, b); ok {
		return n == 0
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two scalars of the same kind (numbers or strings). ok is
// false when the values are not comparable.
func Compare(a, b any) (int, bool) {
	a, b = normalize.Value(a), normalize.Value(b)

	if af, aok := number(a); aok {
		bf, bok := number(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// typeRank follows the BSON comparison order for the kinds we store.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int64, float64:
		return 1
	case string:
		return 2
	case map[string]any:
		return 3
	case []any:
		return 4
	case bool:
		return 5
	}
	return 6
}

func sortValue(doc Document, field string) any {
	values := lookup(doc, splitPath(field))
	if len(values) == 0 {
		return nil
	}
	return normalize.Value(values[0])
}

// SortDocuments orders docs in place. The sort is stable, so documents that
// tie on every field keep their insertion order.
func SortDocuments(docs []Document, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			a, b := sortValue(docs[i], f.Field), sortValue(docs[j], f.Field)
			n, ok := Compare(a, b)
			if !ok {
				n = typeRank(a) - typeRank(b)
			}
			if n == 0 {
				continue
			}
			if f.Descending {
				return n > 0
			}
			return n < 0
		}
		return false
	})
}

// Project returns a deep copy of doc restricted to fields. A nil field list
// copies the whole document.
func Project(doc Document, fields []string) Document {
	if fields == nil {
		out, _ := normalize.Document(doc)
		return out
	}
	out := make(Document, len(fields))
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = normalize.Value(v)
		}
	}
	return out
}

// Paginate applies skip and limit to an already sorted slice.
func Paginate(docs []Document, skip, limit int64) []Document {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

// ApplyUpdate returns a modified copy of doc and whether anything changed.
func ApplyUpdate(doc Document, u Update) (Document, bool) {
	out, _ := normalize.Document(doc)
	if out == nil {
		out = Document{}
	}

	for path, v := range u.Set {
		setPath(out, splitPath(path), normalize.Value(v))
	}
	for field, v := range u.Push {
		list, _ := out[field].([]any)
		out[field] = append(list, normalize.Value(v))
	}
	for field, match := range u.Pull {
		list, ok := out[field].([]any)
		if !ok {
			continue
		}
		kept := make([]any, 0, len(list))
		for _, item := range list {
			if !elementMatches(item, match) {
				kept = append(kept, item)
			}
		}
		out[field] = kept
	}

	return out, !reflect.DeepEqual(normalize.Value(doc), out)
}

func setPath(m map[string]any, path []string, v any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

func elementMatches(item any, match Document) bool {
	m, ok := item.(map[string]any)
	if !ok {
		return false
	}
	for k, want := range match {
		if alts, ok := want.(AnyOf); ok {
			if !equalsAny(m[k], alts) {
				return false
			}
			continue
		}
		if !Equal(m[k], want) {
			return false
		}
	}
	return true
}

func equalsAny(v any, alts AnyOf) bool {
	for _, alt := range alts {
		if Equal(v, alt) {
			return true
		}
	}
	return false
}
