// Package mongostore implements docstore.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/imagestore/imagestore/internal/docstore"
	"github.com/imagestore/imagestore/internal/normalize"
)

// Store is a docstore.Store over one MongoDB database.
type Store struct {
	db *mongo.Database
}

// Connect opens a client for uri. The caller owns the client and must
// Disconnect it.
func Connect(uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to mongodb: %w", err)
	}
	return client, nil
}

func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

func (s *Store) Collection(name string) docstore.Collection {
	return &collection{coll: s.db.Collection(name)}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
}

// EnsureIndexes creates the unique indexes. Creating an index that already
// exists with the same keys is a no-op on the server.
func (s *Store) EnsureIndexes(ctx context.Context, indexes []docstore.Index) error {
	for _, ix := range indexes {
		keys := make(bson.D, 0, len(ix.Fields))
		for _, f := range ix.Fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		_, err := s.db.Collection(ix.Collection).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("creating unique index on %s %v: %w", ix.Collection, ix.Fields, err)
		}
	}
	return nil
}

type collection struct {
	coll *mongo.Collection
}

func decode(raw bson.M) docstore.Document {
	doc, _ := normalize.Document(raw)
	delete(doc, "_id")
	return doc
}

func (c *collection) FindOne(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) (docstore.Document, error) {
	q, err := Filter(filter)
	if err != nil {
		return nil, err
	}
	o := options.FindOne()
	if opts != nil {
		o.SetSort(Sort(opts.Sort))
		if p := Projection(opts.Projection); p != nil {
			o.SetProjection(p)
		}
		if opts.Skip > 0 {
			o.SetSkip(opts.Skip)
		}
	}

	var raw bson.M
	err = c.coll.FindOne(ctx, q, o).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, docstore.ErrNoDocuments
	}
	if err != nil {
		return nil, err
	}
	return decode(raw), nil
}

func (c *collection) Find(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) ([]docstore.Document, error) {
	q, err := Filter(filter)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &docstore.FindOptions{}
	}
	o := options.Find().SetSort(Sort(opts.Sort))
	if p := Projection(opts.Projection); p != nil {
		o.SetProjection(p)
	}
	if opts.Skip > 0 {
		o.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		o.SetLimit(opts.Limit)
	}

	cur, err := c.coll.Find(ctx, q, o)
	if err != nil {
		return nil, err
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, err
	}
	out := make([]docstore.Document, len(raws))
	for i, raw := range raws {
		out[i] = decode(raw)
	}
	return out, nil
}

func (c *collection) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	q, err := Filter(filter)
	if err != nil {
		return 0, err
	}
	return c.coll.CountDocuments(ctx, q)
}

func (c *collection) InsertOne(ctx context.Context, doc docstore.Document) error {
	_, err := c.coll.InsertOne(ctx, bson.M(doc))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", docstore.ErrDuplicateKey, err)
	}
	return err
}

func (c *collection) update(ctx context.Context, filter docstore.Filter, u docstore.Update, many bool) (docstore.UpdateResult, error) {
	q, err := Filter(filter)
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	upd, err := Update(u)
	if err != nil {
		return docstore.UpdateResult{}, err
	}

	var res *mongo.UpdateResult
	if many {
		res, err = c.coll.UpdateMany(ctx, q, upd)
	} else {
		res, err = c.coll.UpdateOne(ctx, q, upd)
	}
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	return docstore.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (c *collection) UpdateOne(ctx context.Context, filter docstore.Filter, u docstore.Update) (docstore.UpdateResult, error) {
	return c.update(ctx, filter, u, false)
}

func (c *collection) UpdateMany(ctx context.Context, filter docstore.Filter, u docstore.Update) (docstore.UpdateResult, error) {
	return c.update(ctx, filter, u, true)
}

func (c *collection) DeleteOne(ctx context.Context, filter docstore.Filter) (int64, error) {
	q, err := Filter(filter)
	if err != nil {
		return 0, err
	}
	res, err := c.coll.DeleteOne(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *collection) DeleteMany(ctx context.Context, filter docstore.Filter) (int64, error) {
	q, err := Filter(filter)
	if err != nil {
		return 0, err
	}
	res, err := c.coll.DeleteMany(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// SumPipeline is the aggregation used by Sum.
func SumPipeline(match bson.D, field string) bson.A {
	return bson.A{
		bson.D{{Key: "$match", Value: match}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$" + field}}},
		}}},
	}
}

func (c *collection) Sum(ctx context.Context, filter docstore.Filter, field string) (int64, error) {
	if !docstore.ValidField(field) {
		return 0, fmt.Errorf("mongostore: invalid field %q", field)
	}
	q, err := Filter(filter)
	if err != nil {
		return 0, err
	}
	cur, err := c.coll.Aggregate(ctx, SumPipeline(q, field))
	if err != nil {
		return 0, err
	}
	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return normalize.Int64(rows[0]["total"])
}

func (c *collection) Distinct(ctx context.Context, field string, filter docstore.Filter) ([]any, error) {
	q, err := Filter(filter)
	if err != nil {
		return nil, err
	}
	res := c.coll.Distinct(ctx, field, q)
	if err := res.Err(); err != nil {
		return nil, err
	}
	var values []any
	if err := res.Decode(&values); err != nil {
		return nil, err
	}
	for i, v := range values {
		values[i] = normalize.Value(v)
	}
	return values, nil
}
