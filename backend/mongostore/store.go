// Package mongostore backs docqueue with MongoDB. FindOneAndUpdate maps to
// the server's findAndModify, which is atomic per document.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/mhpenta/docqueue"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	_ docqueue.Collection = (*Collection)(nil)
	_ docqueue.Database   = (*Database)(nil)
)

// Connect dials uri and verifies the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return client, nil
}

// Database adapts a *mongo.Database.
type Database struct {
	db *mongo.Database
}

func New(db *mongo.Database) *Database {
	return &Database{db: db}
}

func (d *Database) Collection(name string) docqueue.Collection {
	return NewCollection(d.db.Collection(name))
}

// EnsureIndexes creates the indexes the claim, sweep and archive queries use.
func (d *Database) EnsureIndexes(ctx context.Context, jobsCollection, failedCollection string) error {
	_, err := d.db.Collection(jobsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "queue", Value: 1}, {Key: "reserved", Value: 1}, {Key: "available_at", Value: 1}},
			Options: options.Index().SetName("docqueue_claim"),
		},
		{
			Keys:    bson.D{{Key: "queue", Value: 1}, {Key: "reserved_at", Value: 1}},
			Options: options.Index().SetName("docqueue_sweep"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create job indexes: %w", err)
	}

	_, err = d.db.Collection(failedCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "failed_at", Value: 1}},
		Options: options.Index().SetName("docqueue_failed_at"),
	})
	if err != nil {
		return fmt.Errorf("failed to create failed job index: %w", err)
	}
	return nil
}

// Collection adapts a *mongo.Collection.
type Collection struct {
	coll *mongo.Collection
}

func NewCollection(coll *mongo.Collection) *Collection {
	return &Collection{coll: coll}
}

func (c *Collection) InsertOne(ctx context.Context, doc any) (primitive.ObjectID, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return primitive.NilObjectID, err
	}
	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("mongostore: inserted _id is %T, not an ObjectID", res.InsertedID)
	}
	return id, nil
}

func (c *Collection) Find(ctx context.Context, filter bson.M, opts docqueue.FindOptions) ([]bson.Raw, error) {
	findOpts := options.Find()
	if len(opts.Sort) > 0 {
		findOpts.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}

	cur, err := c.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []bson.Raw
	for cur.Next(ctx) {
		out = append(out, append(bson.Raw(nil), cur.Current...))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, update bson.M, sort bson.D) (bson.Raw, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if len(sort) > 0 {
		opts.SetSort(sort)
	}

	raw, err := c.coll.FindOneAndUpdate(ctx, filter, update, opts).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, docqueue.ErrNoDocuments
		}
		return nil, err
	}
	return raw, nil
}

func (c *Collection) UpdateMany(ctx context.Context, filter, update bson.M) (int64, error) {
	res, err := c.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (c *Collection) DeleteMany(ctx context.Context, filter bson.M) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *Collection) CountDocuments(ctx context.Context, filter bson.M) (int64, error) {
	return c.coll.CountDocuments(ctx, filter)
}
