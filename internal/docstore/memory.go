package docstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/imagestore/imagestore/internal/normalize"
)

// MemoryStore is a process-local Store. It backs the "memory" backend and
// the repository tests. All collections share one lock.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
	unique      map[string][][]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memoryCollection),
		unique:      make(map[string][][]string),
	}
}

// EnsureUniqueIndex makes InsertOne reject documents whose values for all
// of fields equal those of an existing document in collection.
func (s *MemoryStore) EnsureUniqueIndex(collection string, fields ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.unique[collection] {
		if slices.Equal(existing, fields) {
			return
		}
	}
	s.unique[collection] = append(s.unique[collection], fields)
}

func (s *MemoryStore) Collection(name string) Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &memoryCollection{store: s, name: name}
		s.collections[name] = c
	}
	return c
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memoryCollection struct {
	store *MemoryStore
	name  string
	docs  []Document
}

// matching returns indexes into c.docs. Callers hold the store lock.
func (c *memoryCollection) matching(filter Filter) []int {
	var idx []int
	for i, d := range c.docs {
		if Match(d, filter) {
			idx = append(idx, i)
		}
	}
	return idx
}

func (c *memoryCollection) find(filter Filter, opts *FindOptions) []Document {
	var docs []Document
	for _, i := range c.matching(filter) {
		docs = append(docs, c.docs[i])
	}
	if opts == nil {
		opts = &FindOptions{}
	}
	SortDocuments(docs, opts.Sort)
	docs = Paginate(docs, opts.Skip, opts.Limit)

	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = Project(d, opts.Projection)
	}
	return out
}

func (c *memoryCollection) FindOne(ctx context.Context, filter Filter, opts *FindOptions) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := FindOptions{Limit: 1}
	if opts != nil {
		o.Projection, o.Sort, o.Skip = opts.Projection, opts.Sort, opts.Skip
	}

	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	docs := c.find(filter, &o)
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	return docs[0], nil
}

func (c *memoryCollection) Find(ctx context.Context, filter Filter, opts *FindOptions) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	return c.find(filter, opts), nil
}

func (c *memoryCollection) Count(ctx context.Context, filter Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	return int64(len(c.matching(filter))), nil
}

func (c *memoryCollection) InsertOne(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, _ := normalize.Document(doc)
	if d == nil {
		return fmt.Errorf("docstore: nil document")
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	for _, fields := range c.store.unique[c.name] {
		if c.violates(d, fields) {
			return fmt.Errorf("%w: %s %v", ErrDuplicateKey, c.name, fields)
		}
	}
	c.docs = append(c.docs, d)
	return nil
}

func (c *memoryCollection) violates(doc Document, fields []string) bool {
	filter := make(Filter, 0, len(fields))
	for _, f := range fields {
		v, ok := doc[f]
		if !ok {
			return false
		}
		filter = append(filter, Eq(f, v))
	}
	return len(c.matching(filter)) > 0
}

func (c *memoryCollection) update(ctx context.Context, filter Filter, u Update, many bool) (UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return UpdateResult{}, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	var res UpdateResult
	for _, i := range c.matching(filter) {
		res.Matched++
		updated, changed := ApplyUpdate(c.docs[i], u)
		if changed {
			c.docs[i] = updated
			res.Modified++
		}
		if !many {
			break
		}
	}
	return res, nil
}

func (c *memoryCollection) UpdateOne(ctx context.Context, filter Filter, u Update) (UpdateResult, error) {
	return c.update(ctx, filter, u, false)
}

func (c *memoryCollection) UpdateMany(ctx context.Context, filter Filter, u Update) (UpdateResult, error) {
	return c.update(ctx, filter, u, true)
}

func (c *memoryCollection) delete(ctx context.Context, filter Filter, many bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	idx := c.matching(filter)
	if !many && len(idx) > 1 {
		idx = idx[:1]
	}
	if len(idx) == 0 {
		return 0, nil
	}
	drop := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		drop[i] = struct{}{}
	}
	kept := c.docs[:0:0]
	for i, d := range c.docs {
		if _, ok := drop[i]; !ok {
			kept = append(kept, d)
		}
	}
	c.docs = kept
	return int64(len(idx)), nil
}

func (c *memoryCollection) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	return c.delete(ctx, filter, false)
}

func (c *memoryCollection) DeleteMany(ctx context.Context, filter Filter) (int64, error) {
	return c.delete(ctx, filter, true)
}

func (c *memoryCollection) Sum(ctx context.Context, filter Filter, field string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	var total int64
	for _, i := range c.matching(filter) {
		for _, v := range lookup(c.docs[i], splitPath(field)) {
			if n, ok := number(normalize.Value(v)); ok {
				total += int64(n)
			}
		}
	}
	return total, nil
}

func (c *memoryCollection) Distinct(ctx context.Context, field string, filter Filter) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	var out []any
	add := func(v any) {
		for _, seen := range out {
			if Equal(seen, v) {
				return
			}
		}
		out = append(out, normalize.Value(v))
	}
	for _, i := range c.matching(filter) {
		for _, v := range lookup(c.docs[i], splitPath(field)) {
			if list, ok := v.([]any); ok {
				for _, item := range list {
					add(item)
				}
				continue
			}
			add(v)
		}
	}
	return out, nil
}

func (s *MemoryStore) EnsureIndexes(ctx context.Context, indexes []Index) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, ix := range indexes {
		s.EnsureUniqueIndex(ix.Collection, ix.Fields...)
	}
	return nil
}
