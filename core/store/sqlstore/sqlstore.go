// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package sqlstore keeps documents in a single table of any database gorm supports. Open
// uses an embedded sqlite database, which needs neither cgo nor a server.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/relabs-tech/crudroutes/core/store"
)

// record is a row of the documents table
type record struct {
	Store      string `gorm:"primaryKey;size:128"`
	Collection string `gorm:"primaryKey;size:128"`
	ID         string `gorm:"primaryKey;size:128"`
	Body       []byte `gorm:"not null"`
	CreatedAt  time.Time
}

func (record) TableName() string {
	return "documents"
}

// Driver hands out collections stored in the documents table of db
type Driver struct {
	db *gorm.DB
}

// Open opens the sqlite database dsn, e.g. "file:crud.db" or ":memory:", and migrates it
func Open(dsn string) (*Driver, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", dsn, err)
	}
	return New(db)
}

// New returns a driver for db and creates the documents table if necessary
func New(db *gorm.DB) (*Driver, error) {
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("cannot migrate documents table: %w", err)
	}
	return &Driver{db: db}, nil
}

// Collection returns the collection collectionName of store storeName
func (d *Driver) Collection(storeName, collectionName string) store.Collection {
	return &collection{db: d.db, storeName: storeName, collectionName: collectionName}
}

type collection struct {
	db             *gorm.DB
	storeName      string
	collectionName string
}

var errEmptyKey = errors.New("empty key")

func (c *collection) scope(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx).Model(&record{}).
		Where("store = ? AND collection = ?", c.storeName, c.collectionName)
}

func (c *collection) FetchAll(ctx context.Context) ([]store.Document, error) {
	var records []record
	if err := c.scope(ctx).Order("created_at, id").Find(&records).Error; err != nil {
		return nil, classify("list", err)
	}
	docs := make([]store.Document, 0, len(records))
	for _, r := range records {
		doc, err := decode(r)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *collection) FetchByID(ctx context.Context, id string) (store.Document, error) {
	if id == "" {
		return nil, store.Malformed(id, errEmptyKey)
	}
	var r record
	err := c.scope(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.NotFound(id)
	}
	if err != nil {
		return nil, classify("read", err)
	}
	return decode(r)
}

func (c *collection) Insert(ctx context.Context, doc store.Document) (string, error) {
	id := doc.Key()
	if id == "" {
		id = uuid.New().String()
	}
	body, err := json.Marshal(doc.WithoutKey())
	if err != nil {
		return "", store.Invalid(err)
	}
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&record{}).
			Where("store = ? AND collection = ? AND id = ?", c.storeName, c.collectionName, id).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return store.Duplicate(id)
		}
		return tx.Create(&record{
			Store:      c.storeName,
			Collection: c.collectionName,
			ID:         id,
			Body:       body,
		}).Error
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		return "", err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return "", store.Duplicate(id)
	}
	if err != nil {
		return "", classify("insert", err)
	}
	return id, nil
}

func (c *collection) Replace(ctx context.Context, id string, doc store.Document) (store.Document, error) {
	if id == "" {
		return nil, store.Malformed(id, errEmptyKey)
	}
	body, err := json.Marshal(doc.WithoutKey())
	if err != nil {
		return nil, store.Invalid(err)
	}
	result := c.scope(ctx).Where("id = ?", id).Update("body", body)
	if result.Error != nil {
		return nil, classify("update", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, store.NotFound(id)
	}
	return decode(record{ID: id, Body: body})
}

func (c *collection) DeleteByID(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", store.Malformed(id, errEmptyKey)
	}
	result := c.db.WithContext(ctx).
		Where("store = ? AND collection = ? AND id = ?", c.storeName, c.collectionName, id).
		Delete(&record{})
	if result.Error != nil {
		return "", classify("delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", store.NotFound(id)
	}
	return id, nil
}

func decode(r record) (store.Document, error) {
	doc, err := store.DocumentFromJSON(r.Body)
	if err != nil {
		return nil, err
	}
	return doc.WithKey(r.ID), nil
}

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return store.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
