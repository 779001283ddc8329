// Package docstoretest provides helpers for testing code built on docstore.
package docstoretest

import (
	"context"
	"sync"

	"github.com/imagestore/imagestore/internal/docstore"
)

// Fault makes the operation Op on Collection fail with Err. Op is the
// Collection method name ("FindOne", "UpdateMany", ...). An empty
// Collection matches every collection. Times bounds how often the fault
// fires; zero means always.
type Fault struct {
	Collection string
	Op         string
	Err        error
	Times      int
}

// Store wraps a docstore.Store and injects faults. PingErr, when set, is
// returned by Ping.
type Store struct {
	docstore.Store

	mu      sync.Mutex
	faults  []*Fault
	fired   map[*Fault]int
	PingErr error
}

// Faulty wraps inner with the given faults.
func Faulty(inner docstore.Store, faults ...Fault) *Store {
	s := &Store{Store: inner, fired: make(map[*Fault]int)}
	for i := range faults {
		s.faults = append(s.faults, &faults[i])
	}
	return s
}

// Add registers another fault.
func (s *Store) Add(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &f)
}

func (s *Store) Ping(ctx context.Context) error {
	if s.PingErr != nil {
		return s.PingErr
	}
	return s.Store.Ping(ctx)
}

func (s *Store) Collection(name string) docstore.Collection {
	return &collection{Collection: s.Store.Collection(name), store: s, name: name}
}

func (s *Store) fault(coll, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.faults {
		if f.Op != op || (f.Collection != "" && f.Collection != coll) {
			continue
		}
		if f.Times > 0 && s.fired[f] >= f.Times {
			continue
		}
		s.fired[f]++
		return f.Err
	}
	return nil
}

type collection struct {
	docstore.Collection
	store *Store
	name  string
}

func (c *collection) FindOne(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) (docstore.Document, error) {
	if err := c.store.fault(c.name, "FindOne"); err != nil {
		return nil, err
	}
	return c.Collection.FindOne(ctx, filter, opts)
}

func (c *collection) Find(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) ([]docstore.Document, error) {
	if err := c.store.fault(c.name, "Find"); err != nil {
		return nil, err
	}
	return c.Collection.Find(ctx, filter, opts)
}

func (c *collection) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	if err := c.store.fault(c.name, "Count"); err != nil {
		return 0, err
	}
	return c.Collection.Count(ctx, filter)
}

func (c *collection) InsertOne(ctx context.Context, doc docstore.Document) error {
	if err := c.store.fault(c.name, "InsertOne"); err != nil {
		return err
	}
	return c.Collection.InsertOne(ctx, doc)
}

func (c *collection) UpdateOne(ctx context.Context, filter docstore.Filter, u docstore.Update) (docstore.UpdateResult, error) {
	if err := c.store.fault(c.name, "UpdateOne"); err != nil {
		return docstore.UpdateResult{}, err
	}
	return c.Collection.UpdateOne(ctx, filter, u)
}

func (c *collection) UpdateMany(ctx context.Context, filter docstore.Filter, u docstore.Update) (docstore.UpdateResult, error) {
	if err := c.store.fault(c.name, "UpdateMany"); err != nil {
		return docstore.UpdateResult{}, err
	}
	return c.Collection.UpdateMany(ctx, filter, u)
}

func (c *collection) DeleteOne(ctx context.Context, filter docstore.Filter) (int64, error) {
	if err := c.store.fault(c.name, "DeleteOne"); err != nil {
		return 0, err
	}
	return c.Collection.DeleteOne(ctx, filter)
}

func (c *collection) DeleteMany(ctx context.Context, filter docstore.Filter) (int64, error) {
	if err := c.store.fault(c.name, "DeleteMany"); err != nil {
		return 0, err
	}
	return c.Collection.DeleteMany(ctx, filter)
}

func (c *collection) Sum(ctx context.Context, filter docstore.Filter, field string) (int64, error) {
	if err := c.store.fault(c.name, "Sum"); err != nil {
		return 0, err
	}
	return c.Collection.Sum(ctx, filter, field)
}

func (c *collection) Distinct(ctx context.Context, field string, filter docstore.Filter) ([]any, error) {
	if err := c.store.fault(c.name, "Distinct"); err != nil {
		return nil, err
	}
	return c.Collection.Distinct(ctx, field, filter)
}
