// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package memory is an in-process document store. It is used for tests and for running the
// service without any external database.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/crudroutes/core/store"
)

// Driver keeps all stores in memory. The zero value is not usable, use New.
type Driver struct {
	mutex       sync.RWMutex
	collections map[string]*collection
}

// New returns an empty in-memory driver
func New() *Driver {
	return &Driver{collections: map[string]*collection{}}
}

// Collection returns the collection collectionName of store storeName. Collections spring
// into existence on first use.
func (d *Driver) Collection(storeName, collectionName string) store.Collection {
	name := storeName + "/" + collectionName
	d.mutex.RLock()
	c, ok := d.collections[name]
	d.mutex.RUnlock()
	if ok {
		return c
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if c, ok = d.collections[name]; !ok {
		c = &collection{records: map[string][]byte{}}
		d.collections[name] = c
	}
	return c
}

// collection holds the JSON encoding of every record, so that callers never share maps
// with the store. order keeps the insertion order for FetchAll.
type collection struct {
	mutex   sync.RWMutex
	records map[string][]byte
	order   []string
}

var errEmptyKey = errors.New("empty key")

func (c *collection) FetchAll(ctx context.Context) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("fetch all", err)
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	docs := make([]store.Document, 0, len(c.order))
	for _, id := range c.order {
		doc, err := store.DocumentFromJSON(c.records[id])
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *collection) FetchByID(ctx context.Context, id string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("fetch", err)
	}
	if id == "" {
		return nil, store.Malformed(id, errEmptyKey)
	}
	c.mutex.RLock()
	data, ok := c.records[id]
	c.mutex.RUnlock()
	if !ok {
		return nil, store.NotFound(id)
	}
	return store.DocumentFromJSON(data)
}

func (c *collection) Insert(ctx context.Context, doc store.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", store.Unavailable("insert", err)
	}
	id := doc.Key()
	if id == "" {
		id = uuid.New().String()
	}
	data, err := json.Marshal(doc.WithKey(id))
	if err != nil {
		return "", store.Invalid(err)
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, ok := c.records[id]; ok {
		return "", store.Duplicate(id)
	}
	c.records[id] = data
	c.order = append(c.order, id)
	return id, nil
}

func (c *collection) Replace(ctx context.Context, id string, doc store.Document) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("replace", err)
	}
	if id == "" {
		return nil, store.Malformed(id, errEmptyKey)
	}
	data, err := json.Marshal(doc.WithKey(id))
	if err != nil {
		return nil, store.Invalid(err)
	}
	c.mutex.Lock()
	if _, ok := c.records[id]; !ok {
		c.mutex.Unlock()
		return nil, store.NotFound(id)
	}
	c.records[id] = data
	c.mutex.Unlock()
	return store.DocumentFromJSON(data)
}

func (c *collection) DeleteByID(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", store.Unavailable("delete", err)
	}
	if id == "" {
		return "", store.Malformed(id, errEmptyKey)
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, ok := c.records[id]; !ok {
		return "", store.NotFound(id)
	}
	delete(c.records, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return id, nil
}
