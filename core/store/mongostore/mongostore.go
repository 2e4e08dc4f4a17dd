// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package mongostore stores documents in MongoDB. A store is a database, a collection is a
collection of that database. Keys are ObjectIDs in their hex representation; any other key
yields store.ErrMalformedKey.
*/
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/relabs-tech/crudroutes/core/store"
)

// API is the part of *mongo.Collection the driver uses
type API interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOneAndReplace(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.FindOneAndReplaceOptions) *mongo.SingleResult
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// Driver hands out mongo collections
type Driver struct {
	open func(storeName, collectionName string) API
}

// New returns a driver for client
func New(client *mongo.Client) *Driver {
	return NewWithAPI(func(storeName, collectionName string) API {
		return client.Database(storeName).Collection(collectionName)
	})
}

// NewWithAPI returns a driver which obtains collections from open
func NewWithAPI(open func(storeName, collectionName string) API) *Driver {
	return &Driver{open: open}
}

// Connect connects to the deployment at uri and pings it. The caller disconnects the
// returned client.
func Connect(ctx context.Context, uri string) (*Driver, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("cannot connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, nil, classify("ping", err)
	}
	return New(client), client, nil
}

// Collection returns the collection collectionName of database storeName
func (d *Driver) Collection(storeName, collectionName string) store.Collection {
	return &collection{api: d.open(storeName, collectionName)}
}

type collection struct {
	api API
}

func (c *collection) FetchAll(ctx context.Context) ([]store.Document, error) {
	cursor, err := c.api.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, classify("list", err)
	}
	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		return nil, classify("list", err)
	}
	docs := make([]store.Document, 0, len(results))
	for _, m := range results {
		docs = append(docs, fromBSON(m))
	}
	return docs, nil
}

func (c *collection) FetchByID(ctx context.Context, id string) (store.Document, error) {
	oid, err := parseKey(id)
	if err != nil {
		return nil, err
	}
	var m bson.M
	err = c.api.FindOne(ctx, bson.M{"_id": oid}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.NotFound(id)
	}
	if err != nil {
		return nil, classify("read", err)
	}
	return fromBSON(m), nil
}

func (c *collection) Insert(ctx context.Context, doc store.Document) (string, error) {
	oid := primitive.NewObjectID()
	if k := doc.Key(); k != "" {
		var err error
		if oid, err = parseKey(k); err != nil {
			return "", err
		}
	}
	_, err := c.api.InsertOne(ctx, toBSON(oid, doc))
	if mongo.IsDuplicateKeyError(err) {
		return "", store.Duplicate(oid.Hex())
	}
	if err != nil {
		return "", classify("insert", err)
	}
	return oid.Hex(), nil
}

func (c *collection) Replace(ctx context.Context, id string, doc store.Document) (store.Document, error) {
	oid, err := parseKey(id)
	if err != nil {
		return nil, err
	}
	var m bson.M
	err = c.api.FindOneAndReplace(ctx, bson.M{"_id": oid}, toBSON(oid, doc),
		options.FindOneAndReplace().SetReturnDocument(options.After)).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.NotFound(id)
	}
	if err != nil {
		return nil, classify("update", err)
	}
	return fromBSON(m), nil
}

func (c *collection) DeleteByID(ctx context.Context, id string) (string, error) {
	oid, err := parseKey(id)
	if err != nil {
		return "", err
	}
	result, err := c.api.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return "", classify("delete", err)
	}
	if result.DeletedCount == 0 {
		return "", store.NotFound(id)
	}
	return oid.Hex(), nil
}

func parseKey(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return oid, store.Malformed(id, err)
	}
	return oid, nil
}

// toBSON converts a document into a bson document with key oid
func toBSON(oid primitive.ObjectID, doc store.Document) bson.M {
	m := bson.M(store.Normalize(doc.WithoutKey()))
	m["_id"] = oid
	return m
}

// fromBSON converts a decoded bson document into a document. ObjectIDs become hex strings,
// dates become time.Time.
func fromBSON(m bson.M) store.Document {
	return store.Document(fromBSONValue(m).(map[string]interface{}))
}

func fromBSONValue(v interface{}) interface{} {
	switch t := v.(type) {
	case primitive.M:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = fromBSONValue(e)
		}
		return m
	case primitive.D:
		m := make(map[string]interface{}, len(t))
		for _, e := range t {
			m[e.Key] = fromBSONValue(e.Value)
		}
		return m
	case primitive.A:
		a := make([]interface{}, len(t))
		for i, e := range t {
			a[i] = fromBSONValue(e)
		}
		return a
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case int32:
		return int64(t)
	}
	return v
}

func classify(op string, err error) error {
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) ||
		errors.Is(err, mongo.ErrClientDisconnected) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return store.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
