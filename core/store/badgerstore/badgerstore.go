// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package badgerstore keeps documents in an embedded badger key/value database, on disk or
// in memory. Records of a collection are stored below the key prefix
// "<store>\x00<collection>\x00" and listed in key order.
package badgerstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/crudroutes/core/store"
)

// Options configures Open
type Options struct {
	// Path of the database directory. If empty, the database lives in memory.
	Path string
	// Logger for badger, nil disables badger's logging. A *logrus.Entry fits.
	Logger badger.Logger
}

// Driver hands out collections of a badger database
type Driver struct {
	db *badger.DB
}

// Open opens the database described by opts
func Open(opts Options) (*Driver, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &Driver{db: db}, nil
}

// Close closes the database
func (d *Driver) Close() error {
	return d.db.Close()
}

// Collection returns the collection collectionName of store storeName
func (d *Driver) Collection(storeName, collectionName string) store.Collection {
	return &collection{db: d.db, prefix: []byte(storeName + "\x00" + collectionName + "\x00")}
}

type collection struct {
	db     *badger.DB
	prefix []byte
}

// maxConflictRetries bounds the retries of write transactions which lost a conflict
const maxConflictRetries = 3

var errEmptyKey = errors.New("empty key")

func (c *collection) key(id string) []byte {
	k := make([]byte, 0, len(c.prefix)+len(id))
	return append(append(k, c.prefix...), id...)
}

func (c *collection) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return store.Unavailable(op, ctxErr)
		}
		err = c.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return err
}

func (c *collection) FetchAll(ctx context.Context) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("list", err)
	}
	docs := []store.Document{}
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = c.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(c.prefix); it.ValidForPrefix(c.prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			doc, err := store.DocumentFromJSON(data)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, classify("list", err)
	}
	return docs, nil
}

func (c *collection) FetchByID(ctx context.Context, id string) (store.Document, error) {
	if id == "" {
		return nil, store.Malformed(id, errEmptyKey)
	}
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("read", err)
	}
	var data []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.NotFound(id)
	}
	if err != nil {
		return nil, classify("read", err)
	}
	return store.DocumentFromJSON(data)
}

func (c *collection) Insert(ctx context.Context, doc store.Document) (string, error) {
	id := doc.Key()
	if id == "" {
		id = uuid.New().String()
	}
	data, err := json.Marshal(doc.WithKey(id))
	if err != nil {
		return "", store.Invalid(err)
	}
	key := c.key(id)
	err = c.update(ctx, "insert", func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return store.Duplicate(id)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return "", classify("insert", err)
	}
	return id, nil
}

func (c *collection) Replace(ctx context.Context, id string, doc store.Document) (store.Document, error) {
	if id == "" {
		return nil, store.Malformed(id, errEmptyKey)
	}
	data, err := json.Marshal(doc.WithKey(id))
	if err != nil {
		return nil, store.Invalid(err)
	}
	key := c.key(id)
	err = c.update(ctx, "update", func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.NotFound(id)
	}
	if err != nil {
		return nil, classify("update", err)
	}
	return store.DocumentFromJSON(data)
}

func (c *collection) DeleteByID(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", store.Malformed(id, errEmptyKey)
	}
	key := c.key(id)
	err := c.update(ctx, "delete", func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", store.NotFound(id)
	}
	if err != nil {
		return "", classify("delete", err)
	}
	return id, nil
}

// classify passes sentinel errors of package store through and maps a closed database or
// lost conflicts to store.ErrUnavailable
func classify(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrDuplicateKey),
		errors.Is(err, store.ErrInvalidRecord),
		errors.Is(err, store.ErrUnavailable):
		return err
	case errors.Is(err, badger.ErrDBClosed),
		errors.Is(err, badger.ErrConflict),
		errors.Is(err, badger.ErrBlockedWrites):
		return store.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
