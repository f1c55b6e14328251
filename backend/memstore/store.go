// Package memstore is an in-process docqueue.Collection. Documents live in
// memory as BSON and every operation holds the collection lock, which makes
// FindOneAndUpdate atomic across goroutines. It suits tests and
// single-process deployments.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/mhpenta/docqueue"
	"github.com/mhpenta/docqueue/internal/bsonmatch"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	_ docqueue.Collection = (*Collection)(nil)
	_ docqueue.Database   = (*Database)(nil)
)

// Database is a set of named in-memory collections.
type Database struct {
	mu          sync.Mutex
	collections map[string]*Collection
}

func NewDatabase() *Database {
	return &Database{collections: make(map[string]*Collection)}
}

// Collection returns the named collection, creating it on first use.
func (d *Database) Collection(name string) docqueue.Collection {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.collections[name]
	if !ok {
		c = NewCollection()
		d.collections[name] = c
	}
	return c
}

// Collection holds documents in insertion order.
type Collection struct {
	mu   sync.Mutex
	docs []bson.M
}

func NewCollection() *Collection {
	return &Collection{}
}

func (c *Collection) InsertOne(ctx context.Context, doc any) (primitive.ObjectID, error) {
	if err := ctx.Err(); err != nil {
		return primitive.NilObjectID, err
	}

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
		return primitive.NilObjectID, fmt.Errorf("memstore: _id must be an ObjectID, got %T", m["_id"])
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.docs {
		if existing["_id"] == id {
			return primitive.NilObjectID, fmt.Errorf("memstore: duplicate _id %s", id.Hex())
		}
	}
	c.docs = append(c.docs, m)
	return id, nil
}

func (c *Collection) Find(ctx context.Context, filter bson.M, opts docqueue.FindOptions) ([]bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := bsonmatch.Select(c.docs, filter, opts.Sort, opts.Skip, opts.Limit)
	if err != nil {
		return nil, err
	}

	out := make([]bson.Raw, 0, len(idx))
	for _, i := range idx {
		raw, err := bson.Marshal(c.docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, update bson.M, sort bson.D) (bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := bsonmatch.Select(c.docs, filter, sort, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(idx) == 0 {
		return nil, docqueue.ErrNoDocuments
	}

	updated, err := c.updateAt(idx[0], update)
	if err != nil {
		return nil, err
	}
	return bson.Marshal(updated)
}

func (c *Collection) UpdateMany(ctx context.Context, filter, update bson.M) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := bsonmatch.Select(c.docs, filter, nil, 0, 0)
	if err != nil {
		return 0, err
	}
	for _, i := range idx {
		if _, err := c.updateAt(i, update); err != nil {
			return 0, err
		}
	}
	return int64(len(idx)), nil
}

func (c *Collection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.docs[:0]
	var deleted int64
	for _, doc := range c.docs {
		ok, err := bsonmatch.Match(doc, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	for i := len(kept); i < len(c.docs); i++ {
		c.docs[i] = nil
	}
	c.docs = kept
	return deleted, nil
}

func (c *Collection) CountDocuments(ctx context.Context, filter bson.M) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := bsonmatch.Select(c.docs, filter, nil, 0, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(idx)), nil
}

// updateAt applies update to a copy of the document so a failing update
// leaves the stored document untouched. Caller holds c.mu.
func (c *Collection) updateAt(i int, update bson.M) (bson.M, error) {
	working := make(bson.M, len(c.docs[i]))
	for k, v := range c.docs[i] {
		working[k] = v
	}
	if err := bsonmatch.Apply(working, update); err != nil {
		return nil, err
	}
	normalized, err := normalize(working)
	if err != nil {
		return nil, err
	}
	c.docs[i] = normalized
	return normalized, nil
}

// normalize round-trips v through BSON so stored values have the types a
// real store would hand back.
func normalize(v any) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("memstore: encode document: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("memstore: decode document: %w", err)
	}
	return m, nil
}
