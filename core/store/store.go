// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package store defines the storage collection interface the generated routes consume.

A Driver is the long-lived handle to a document store. It is created and owned by the
application, and hands out Collection handles for a store (database, schema, table, bucket
prefix, depending on the driver) and a collection name:

	users := driver.Collection("crm", "users")
	id, err := users.Insert(ctx, store.Document{"name": "Ann"})

Documents are untyped JSON objects. Every document carries its key in the field "_id"; the key
is an opaque string at this boundary and each driver converts it to its native key type. A key
which cannot be converted yields ErrMalformedKey.

All drivers report failures with the sentinel errors of this package, wrapped with %w, so
callers classify them with errors.Is.
*/
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// KeyField is the JSON field which carries the key of a record
const KeyField = "_id"

var (
	// ErrNotFound is returned when no record exists for the requested key
	ErrNotFound = errors.New("no such record")
	// ErrMalformedKey is returned when a key cannot be converted to the driver's key type
	ErrMalformedKey = errors.New("malformed key")
	// ErrDuplicateKey is returned when a record with the same key already exists
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrInvalidRecord is returned when a record cannot be encoded for or decoded from the store
	ErrInvalidRecord = errors.New("invalid record")
	// ErrUnavailable is returned when the store cannot be reached or did not answer in time
	ErrUnavailable = errors.New("storage unavailable")

	errNotAnObject = errors.New("document is not a JSON object")
	errKeyType     = errors.New("key is neither a string nor a number")
	errSlashInKey  = errors.New("key contains '/'")
)

// Document is a single record as stored in a collection
type Document map[string]interface{}

// Key returns the key of the document, or an empty string if it has none
func (d Document) Key() string {
	switch k := d[KeyField].(type) {
	case string:
		return k
	case fmt.Stringer:
		return k.String()
	}
	return ""
}

// KeyOf returns the key of the document. A document without key or with an empty key yields
// an empty string. A key which is neither a string nor a number yields ErrInvalidRecord, a key
// containing '/' yields ErrMalformedKey, since it could not be addressed in a route path.
func KeyOf(d Document) (string, error) {
	v, ok := d[KeyField]
	if !ok || v == nil {
		return "", nil
	}
	var key string
	switch k := v.(type) {
	case string:
		key = k
	case json.Number:
		key = k.String()
	default:
		return "", Invalid(fmt.Errorf("%w: %T", errKeyType, v))
	}
	if strings.Contains(key, "/") {
		return "", Malformed(key, errSlashInKey)
	}
	return key, nil
}

// WithKey returns a shallow copy of the document with its key set to id
func (d Document) WithKey(id string) Document {
	c := make(Document, len(d)+1)
	for k, v := range d {
		c[k] = v
	}
	c[KeyField] = id
	return c
}

// WithoutKey returns a shallow copy of the document without key
func (d Document) WithoutKey() Document {
	c := make(Document, len(d))
	for k, v := range d {
		if k != KeyField {
			c[k] = v
		}
	}
	return c
}

// AllFetcher fetches all records of a collection
type AllFetcher interface {
	FetchAll(ctx context.Context) ([]Document, error)
}

// ByIDFetcher fetches one record by its key
type ByIDFetcher interface {
	FetchByID(ctx context.Context, id string) (Document, error)
}

// Inserter inserts a record. If the document has no key, the store assigns one. The key
// of the inserted record is returned.
type Inserter interface {
	Insert(ctx context.Context, doc Document) (string, error)
}

// Replacer replaces the record at key id with doc and returns the stored record
type Replacer interface {
	Replace(ctx context.Context, id string, doc Document) (Document, error)
}

// ByIDDeleter removes the record at key id and returns its key
type ByIDDeleter interface {
	DeleteByID(ctx context.Context, id string) (string, error)
}

// Collection is a named collection of records in a document store
type Collection interface {
	AllFetcher
	ByIDFetcher
	Inserter
	Replacer
	ByIDDeleter
}

// Driver hands out collections. Implementations must be safe for concurrent use.
type Driver interface {
	Collection(storeName, collectionName string) Collection
}

// DriverFunc is an adapter to use a function as Driver
type DriverFunc func(storeName, collectionName string) Collection

// Collection calls f(storeName, collectionName)
func (f DriverFunc) Collection(storeName, collectionName string) Collection {
	return f(storeName, collectionName)
}

// Unavailable marks err as ErrUnavailable
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Malformed marks err as ErrMalformedKey for key id
func Malformed(id string, err error) error {
	if err == nil {
		return fmt.Errorf("%w '%s'", ErrMalformedKey, id)
	}
	return fmt.Errorf("%w '%s': %w", ErrMalformedKey, id, err)
}

// NotFound returns ErrNotFound for key id
func NotFound(id string) error {
	return fmt.Errorf("%w '%s'", ErrNotFound, id)
}

// Duplicate returns ErrDuplicateKey for key id
func Duplicate(id string) error {
	return fmt.Errorf("%w '%s'", ErrDuplicateKey, id)
}

// Invalid marks err as ErrInvalidRecord
func Invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
}
