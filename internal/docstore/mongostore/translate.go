package mongostore

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/imagestore/imagestore/internal/docstore"
)

var operators = map[docstore.Op]string{
	docstore.OpEq:  "$eq",
	docstore.OpIn:  "$in",
	docstore.OpGte: "$gte",
	docstore.OpLte: "$lte",
}

// Filter translates f into a MongoDB query document. Conditions on the
// same field are merged into one operator document; a field that repeats
// an operator falls back to $and.
func Filter(f docstore.Filter) (bson.D, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	byField := make(map[string]bson.D, len(f))
	clash := false
	for _, c := range f {
		op, ok := operators[c.Op]
		if !ok {
			return nil, fmt.Errorf("mongostore: unsupported operator %s", c.Op)
		}
		ops := byField[c.Field]
		for _, e := range ops {
			if e.Key == op {
				clash = true
			}
		}
		byField[c.Field] = append(ops, bson.E{Key: op, Value: c.Value})
	}

	if clash {
		and := make(bson.A, 0, len(f))
		for _, c := range f {
			and = append(and, bson.D{{Key: c.Field, Value: bson.D{{Key: operators[c.Op], Value: c.Value}}}})
		}
		return bson.D{{Key: "$and", Value: and}}, nil
	}

	out := make(bson.D, 0, len(byField))
	for _, field := range f.Fields() {
		ops := byField[field]
		if len(ops) == 1 && ops[0].Key == "$eq" {
			out = append(out, bson.E{Key: field, Value: ops[0].Value})
			continue
		}
		out = append(out, bson.E{Key: field, Value: ops})
	}
	return out, nil
}

// Sort appends an ascending _id so ties resolve in insertion order.
func Sort(fields []docstore.SortField) bson.D {
	out := make(bson.D, 0, len(fields)+1)
	for _, f := range fields {
		dir := 1
		if f.Descending {
			dir = -1
		}
		out = append(out, bson.E{Key: f.Field, Value: dir})
	}
	return append(out, bson.E{Key: "_id", Value: 1})
}

// Projection returns nil for a nil field list, meaning all fields.
func Projection(fields []string) bson.D {
	if fields == nil {
		return nil
	}
	out := make(bson.D, 0, len(fields)+1)
	for _, f := range fields {
		out = append(out, bson.E{Key: f, Value: 1})
	}
	return append(out, bson.E{Key: "_id", Value: 0})
}

// Update translates u into update operators.
func Update(u docstore.Update) (bson.D, error) {
	var out bson.D
	if len(u.Set) > 0 {
		out = append(out, bson.E{Key: "$set", Value: bson.M(u.Set)})
	}
	if len(u.Push) > 0 {
		out = append(out, bson.E{Key: "$push", Value: bson.M(u.Push)})
	}
	if len(u.Pull) > 0 {
		pull := make(bson.M, len(u.Pull))
		for field, match := range u.Pull {
			cond := make(bson.M, len(match))
			for k, v := range match {
				if alts, ok := v.(docstore.AnyOf); ok {
					cond[k] = bson.M{"$in": []any(alts)}
					continue
				}
				cond[k] = v
			}
			pull[field] = cond
		}
		out = append(out, bson.E{Key: "$pull", Value: pull})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("mongostore: empty update")
	}
	return out, nil
}
