// Package pgstore implements docstore.Store on a single PostgreSQL JSONB
// table. Filters are pushed down as jsonpath predicates; updates are
// applied in Go under SELECT ... FOR UPDATE.
package pgstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/imagestore/imagestore/internal/dbx"
	"github.com/imagestore/imagestore/internal/docstore"
	"github.com/imagestore/imagestore/internal/migrations"
	"github.com/imagestore/imagestore/internal/normalize"
)

var errNotObject = errors.New("pgstore: stored value is not an object")

type Store struct {
	db *sql.DB
}

// Open opens a pgx-backed *sql.DB for dsn.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open postgres: %w", err)
	}
	return db, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// gooseUpContext is a seam for tests.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

func (s *Store) Collection(name string) docstore.Collection {
	return &collection{db: s.db, name: name}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type collection struct {
	db   *sql.DB
	name string
}

// where returns the WHERE clause and its arguments for filter.
func (c *collection) where(filter docstore.Filter) (string, []any, error) {
	p, err := compile(filter)
	if err != nil {
		return "", nil, err
	}
	return " WHERE collection = $1 AND " + p.sql, append([]any{c.name}, p.args...), nil
}

func decodeDoc(raw []byte) (docstore.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("pgstore: decoding document: %w", err)
	}
	doc, ok := normalize.Document(v)
	if !ok {
		return nil, errNotObject
	}
	return doc, nil
}

func encodeDoc(doc docstore.Document) (string, error) {
	b, err := json.Marshal(normalize.Value(doc))
	if err != nil {
		return "", fmt.Errorf("pgstore: encoding document: %w", err)
	}
	return string(b), nil
}

func (c *collection) Find(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) ([]docstore.Document, error) {
	if opts == nil {
		opts = &docstore.FindOptions{}
	}
	where, args, err := c.where(filter)
	if err != nil {
		return nil, err
	}
	order, err := orderBy(opts.Sort)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, "SELECT doc FROM documents"+where+order+pagination(opts.Skip, opts.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []docstore.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, docstore.Project(doc, opts.Projection))
	}
	return out, rows.Err()
}

func (c *collection) FindOne(ctx context.Context, filter docstore.Filter, opts *docstore.FindOptions) (docstore.Document, error) {
	o := docstore.FindOptions{Limit: 1}
	if opts != nil {
		o.Projection, o.Sort, o.Skip = opts.Projection, opts.Sort, opts.Skip
	}
	docs, err := c.Find(ctx, filter, &o)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, docstore.ErrNoDocuments
	}
	return docs[0], nil
}

func (c *collection) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	where, args, err := c.where(filter)
	if err != nil {
		return 0, err
	}
	var n int64
	err = c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents"+where, args...).Scan(&n)
	return n, err
}

func (c *collection) InsertOne(ctx context.Context, doc docstore.Document) error {
	encoded, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, "INSERT INTO documents (collection, doc) VALUES ($1, $2::jsonb)", c.name, encoded)
	if dbx.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %w", docstore.ErrDuplicateKey, err)
	}
	return err
}

type lockedRow struct {
	id  int64
	doc docstore.Document
}

func (c *collection) update(ctx context.Context, filter docstore.Filter, u docstore.Update, many bool) (docstore.UpdateResult, error) {
	where, args, err := c.where(filter)
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	query := "SELECT id, doc FROM documents" + where + " ORDER BY id ASC"
	if !many {
		query += " LIMIT 1"
	}
	query += " FOR UPDATE"

	var res docstore.UpdateResult
	err = dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		locked, err := selectRows(ctx, tx, query, args)
		if err != nil {
			return err
		}
		for _, row := range locked {
			res.Matched++
			updated, changed := docstore.ApplyUpdate(row.doc, u)
			if !changed {
				continue
			}
			encoded, err := encodeDoc(updated)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "UPDATE documents SET doc = $1::jsonb WHERE id = $2", encoded, row.id); err != nil {
				return err
			}
			res.Modified++
		}
		return nil
	})
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	return res, nil
}

func selectRows(ctx context.Context, tx dbx.DBTX, query string, args []any) ([]lockedRow, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []lockedRow
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, lockedRow{id: id, doc: doc})
	}
	return out, rows.Err()
}

func (c *collection) UpdateOne(ctx context.Context, filter docstore.Filter, u docstore.Update) (docstore.UpdateResult, error) {
	return c.update(ctx, filter, u, false)
}

func (c *collection) UpdateMany(ctx context.Context, filter docstore.Filter, u docstore.Update) (docstore.UpdateResult, error) {
	return c.update(ctx, filter, u, true)
}

func (c *collection) delete(ctx context.Context, filter docstore.Filter, many bool) (int64, error) {
	where, args, err := c.where(filter)
	if err != nil {
		return 0, err
	}
	query := "DELETE FROM documents" + where
	if !many {
		query = "DELETE FROM documents WHERE id = (SELECT id FROM documents" + where + " ORDER BY id ASC LIMIT 1)"
	}
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *collection) DeleteOne(ctx context.Context, filter docstore.Filter) (int64, error) {
	return c.delete(ctx, filter, false)
}

func (c *collection) DeleteMany(ctx context.Context, filter docstore.Filter) (int64, error) {
	return c.delete(ctx, filter, true)
}

// Sum ignores non-numeric values, like $sum.
func (c *collection) Sum(ctx context.Context, filter docstore.Filter, field string) (int64, error) {
	if !docstore.ValidField(field) {
		return 0, fmt.Errorf("pgstore: invalid field %q", field)
	}
	where, args, err := c.where(filter)
	if err != nil {
		return 0, err
	}
	p := textPath(field)
	query := fmt.Sprintf(
		"SELECT COALESCE(SUM(CASE WHEN jsonb_typeof(doc #> %s) = 'number' THEN (doc #>> %s)::numeric END), 0)::bigint FROM documents",
		p, p,
	) + where

	var total int64
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Distinct unwinds array values, like MongoDB.
func (c *collection) Distinct(ctx context.Context, field string, filter docstore.Filter) ([]any, error) {
	if !docstore.ValidField(field) {
		return nil, fmt.Errorf("pgstore: invalid field %q", field)
	}
	where, args, err := c.where(filter)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT DISTINCT v FROM documents, jsonb_path_query(doc, '%s[*]') AS v", jsonPath("lax $", field)) + where

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("pgstore: decoding distinct value: %w", err)
		}
		out = append(out, normalize.Value(v))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ docstore.Store = (*Store)(nil)
