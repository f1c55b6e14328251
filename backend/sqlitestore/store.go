// Package sqlitestore is a docqueue.Collection kept in a SQLite database.
//
// Each document is one BSON blob row. Equality on _id or queue narrows the
// rows in SQL; the rest of the filter is evaluated in Go inside a
// transaction, so FindOneAndUpdate is atomic for every process sharing the
// database file. For multi-process use open the file with an immediate
// transaction lock, e.g. "file:queue.db?_txlock=immediate", so writers queue
// on the file lock instead of failing with SQLITE_BUSY.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mhpenta/docqueue"
	"github.com/mhpenta/docqueue/internal/bsonmatch"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	_ "modernc.org/sqlite"
)

var (
	_ docqueue.Collection = (*Collection)(nil)
	_ docqueue.Database   = (*Database)(nil)
)

// Schema creates the document table. It is safe to apply repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS docqueue_documents (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	queue      TEXT,
	body       BLOB NOT NULL,
	UNIQUE (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_docqueue_documents_collection
ON docqueue_documents(collection, seq);

CREATE INDEX IF NOT EXISTS idx_docqueue_documents_queue
ON docqueue_documents(collection, queue, seq);
`

// Open opens dsn with the sqlite driver, limits the pool to one connection
// and applies Schema.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := CreateSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// CreateSchema applies Schema to db.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Database hands out collections stored in one SQLite database.
type Database struct {
	db *sql.DB
}

func New(db *sql.DB) *Database {
	return &Database{db: db}
}

func (d *Database) Collection(name string) docqueue.Collection {
	return &Collection{db: d.db, name: name}
}

// Collection is one named collection inside the document table.
type Collection struct {
	db   *sql.DB
	name string
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type row struct {
	seq int64
	doc bson.M
}

func (c *Collection) InsertOne(ctx context.Context, doc any) (primitive.ObjectID, error) {
	m, err := normalize(doc)
	if err != nil {
		return primitive.NilObjectID, err
	}

	id, ok := m["_id"].(primitive.ObjectID)
	if _, present := m["_id"]; !present {
		id, ok = primitive.NewObjectID(), true
		m["_id"] = id
	}
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("sqlitestore: _id must be an ObjectID, got %T", m["_id"])
	}

	body, err := bson.Marshal(m)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("sqlitestore: encode document: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		"INSERT INTO docqueue_documents (collection, id, queue, body) VALUES (?, ?, ?, ?)",
		c.name, id.Hex(), queueColumn(m), body,
	)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("failed to insert document: %w", err)
	}
	return id, nil
}

func (c *Collection) Find(ctx context.Context, filter bson.M, opts docqueue.FindOptions) ([]bson.Raw, error) {
	rows, err := c.load(ctx, c.db, filter)
	if err != nil {
		return nil, err
	}

	idx, err := bsonmatch.Select(docsOf(rows), filter, opts.Sort, opts.Skip, opts.Limit)
	if err != nil {
		return nil, err
	}

	out := make([]bson.Raw, 0, len(idx))
	for _, i := range idx {
		raw, err := bson.Marshal(rows[i].doc)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, update bson.M, sort bson.D) (bson.Raw, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := c.load(ctx, tx, filter)
	if err != nil {
		return nil, err
	}

	idx, err := bsonmatch.Select(docsOf(rows), filter, sort, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(idx) == 0 {
		return nil, docqueue.ErrNoDocuments
	}

	body, err := c.updateRow(ctx, tx, rows[idx[0]], update)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	return body, nil
}

func (c *Collection) UpdateMany(ctx context.Context, filter, update bson.M) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := c.load(ctx, tx, filter)
	if err != nil {
		return 0, err
	}

	idx, err := bsonmatch.Select(docsOf(rows), filter, nil, 0, 0)
	if err != nil {
		return 0, err
	}
	for _, i := range idx {
		if _, err := c.updateRow(ctx, tx, rows[i], update); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit update: %w", err)
	}
	return int64(len(idx)), nil
}

func (c *Collection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := c.load(ctx, tx, filter)
	if err != nil {
		return 0, err
	}

	idx, err := bsonmatch.Select(docsOf(rows), filter, nil, 0, 0)
	if err != nil {
		return 0, err
	}
	for _, i := range idx {
		if _, err := tx.ExecContext(ctx, "DELETE FROM docqueue_documents WHERE seq = ?", rows[i].seq); err != nil {
			return 0, fmt.Errorf("failed to delete document: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return int64(len(idx)), nil
}

func (c *Collection) CountDocuments(ctx context.Context, filter bson.M) (int64, error) {
	rows, err := c.load(ctx, c.db, filter)
	if err != nil {
		return 0, err
	}
	idx, err := bsonmatch.Select(docsOf(rows), filter, nil, 0, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(idx)), nil
}

// load reads the documents that can match filter, in insertion order.
func (c *Collection) load(ctx context.Context, q querier, filter bson.M) ([]row, error) {
	query := "SELECT seq, body FROM docqueue_documents WHERE collection = ?"
	args := []any{c.name}
	if id, ok := filter["_id"].(primitive.ObjectID); ok {
		query += " AND id = ?"
		args = append(args, id.Hex())
	}
	if queue, ok := filter["queue"].(string); ok {
		query += " AND queue = ?"
		args = append(args, queue)
	}

	rs, err := q.QueryContext(ctx, query+" ORDER BY seq", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rs.Close()

	var out []row
	for rs.Next() {
		var (
			r    row
			body []byte
		)
		if err := rs.Scan(&r.seq, &body); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if err := bson.Unmarshal(body, &r.doc); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode document %d: %w", r.seq, err)
		}
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	return out, nil
}

func (c *Collection) updateRow(ctx context.Context, tx *sql.Tx, r row, update bson.M) (bson.Raw, error) {
	if err := bsonmatch.Apply(r.doc, update); err != nil {
		return nil, err
	}
	body, err := bson.Marshal(r.doc)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: encode document: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE docqueue_documents SET body = ?, queue = ? WHERE seq = ?",
		body, queueColumn(r.doc), r.seq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.New("sqlitestore: document vanished during update")
	}
	return body, nil
}

// queueColumn mirrors a string queue field into the indexed column.
func queueColumn(doc bson.M) any {
	if queue, ok := doc["queue"].(string); ok {
		return queue
	}
	return nil
}

func docsOf(rows []row) []bson.M {
	docs := make([]bson.M, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	return docs
}

func normalize(v any) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: encode document: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("sqlitestore: decode document: %w", err)
	}
	return m, nil
}
