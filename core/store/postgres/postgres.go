// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package postgres stores documents as jsonb in postgres.

A store is a database schema, a collection is a table in that schema:

	CREATE TABLE "crm"."users" (
		id uuid NOT NULL DEFAULT uuid_generate_v4(),
		document jsonb NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT now(),
		PRIMARY KEY(id)
	);

Keys are UUIDs; a key which is not a UUID yields store.ErrMalformedKey.
*/
package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/crudroutes/core/csql"
	"github.com/relabs-tech/crudroutes/core/store"
)

// Driver hands out collections backed by tables of db
type Driver struct {
	db *csql.DB
}

// New returns a driver for db
func New(db *csql.DB) *Driver {
	return &Driver{db: db}
}

// EnsureCollection creates the schema and the table for a collection if they do not exist
func (d *Driver) EnsureCollection(ctx context.Context, storeName, collectionName string) error {
	if err := d.db.CreateSchema(ctx, storeName); err != nil {
		return classify("create schema", err)
	}
	_, err := d.db.ExecContext(ctx, `CREATE table IF NOT EXISTS `+csql.Table(storeName, collectionName)+`
(id uuid NOT NULL DEFAULT uuid_generate_v4(),
document jsonb NOT NULL,
created_at TIMESTAMP NOT NULL DEFAULT now(),
PRIMARY KEY(id)
);`)
	if err != nil {
		return classify("create table", err)
	}
	return nil
}

// Collection returns the collection stored in table collectionName of schema storeName
func (d *Driver) Collection(storeName, collectionName string) store.Collection {
	table := csql.Table(storeName, collectionName)
	return &collection{
		db:                d.db,
		listQuery:         `SELECT id, document FROM ` + table + ` ORDER BY created_at, id;`,
		readQuery:         `SELECT document FROM ` + table + ` WHERE id = $1;`,
		insertQuery:       `INSERT INTO ` + table + ` (document) VALUES ($1) RETURNING id;`,
		insertWithIDQuery: `INSERT INTO ` + table + ` (id, document) VALUES ($1, $2) RETURNING id;`,
		updateQuery:       `UPDATE ` + table + ` SET document = $2 WHERE id = $1 RETURNING document;`,
		deleteQuery:       `DELETE FROM ` + table + ` WHERE id = $1 RETURNING id;`,
	}
}

type collection struct {
	db                *csql.DB
	listQuery         string
	readQuery         string
	insertQuery       string
	insertWithIDQuery string
	updateQuery       string
	deleteQuery       string
}

func (c *collection) FetchAll(ctx context.Context) ([]store.Document, error) {
	rows, err := c.db.QueryContext(ctx, c.listQuery)
	if err != nil {
		return nil, classify("list", err)
	}
	defer rows.Close()
	docs := []store.Document{}
	for rows.Next() {
		var id uuid.UUID
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, classify("list", err)
		}
		doc, err := store.DocumentFromJSON(data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc.WithKey(id.String()))
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list", err)
	}
	return docs, nil
}

func (c *collection) FetchByID(ctx context.Context, id string) (store.Document, error) {
	key, err := parseKey(id)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = c.db.QueryRowContext(ctx, c.readQuery, key).Scan(&data)
	if err == csql.ErrNoRows {
		return nil, store.NotFound(id)
	}
	if err != nil {
		return nil, classify("read", err)
	}
	doc, err := store.DocumentFromJSON(data)
	if err != nil {
		return nil, err
	}
	return doc.WithKey(key.String()), nil
}

func (c *collection) Insert(ctx context.Context, doc store.Document) (string, error) {
	data, err := json.Marshal(doc.WithoutKey())
	if err != nil {
		return "", store.Invalid(err)
	}
	var id uuid.UUID
	if k := doc.Key(); k != "" {
		key, err := parseKey(k)
		if err != nil {
			return "", err
		}
		err = c.db.QueryRowContext(ctx, c.insertWithIDQuery, key, data).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return "", store.Duplicate(k)
			}
			return "", classify("insert", err)
		}
		return id.String(), nil
	}
	if err := c.db.QueryRowContext(ctx, c.insertQuery, data).Scan(&id); err != nil {
		return "", classify("insert", err)
	}
	return id.String(), nil
}

func (c *collection) Replace(ctx context.Context, id string, doc store.Document) (store.Document, error) {
	key, err := parseKey(id)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc.WithoutKey())
	if err != nil {
		return nil, store.Invalid(err)
	}
	var stored []byte
	err = c.db.QueryRowContext(ctx, c.updateQuery, key, data).Scan(&stored)
	if err == csql.ErrNoRows {
		return nil, store.NotFound(id)
	}
	if err != nil {
		return nil, classify("update", err)
	}
	result, err := store.DocumentFromJSON(stored)
	if err != nil {
		return nil, err
	}
	return result.WithKey(key.String()), nil
}

func (c *collection) DeleteByID(ctx context.Context, id string) (string, error) {
	key, err := parseKey(id)
	if err != nil {
		return "", err
	}
	var deleted uuid.UUID
	err = c.db.QueryRowContext(ctx, c.deleteQuery, key).Scan(&deleted)
	if err == csql.ErrNoRows {
		return "", store.NotFound(id)
	}
	if err != nil {
		return "", classify("delete", err)
	}
	return deleted.String(), nil
}

func parseKey(id string) (uuid.UUID, error) {
	key, err := uuid.Parse(id)
	if err != nil {
		return key, store.Malformed(id, err)
	}
	return key, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// classify maps database errors to the sentinel errors of package store
func classify(op string, err error) error {
	var pqErr *pq.Error
	var netErr net.Error
	switch {
	case errors.As(err, &pqErr):
		switch {
		case pqErr.Code == "22P02":
			// invalid text representation
			return store.Malformed("", err)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57":
			// connection exception, operator intervention
			return store.Unavailable(op, err)
		}
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		return store.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
