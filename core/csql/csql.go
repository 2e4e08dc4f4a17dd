// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package csql wraps a postgres connection pool with schema management.
package csql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DB encapsulates a standard sql.DB
type DB struct {
	*sql.DB
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// Open opens and pings a postgres database
func Open(ctx context.Context, dataSourceName string) (*DB, error) {
	logrus.Infoln("connecting to postgres database")
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot reach database: %w", err)
	}
	return &DB{DB: db}, nil
}

// Wrap returns a DB for an already opened pool
func Wrap(db *sql.DB) *DB {
	return &DB{DB: db}
}

// CreateSchema creates schema if it does not exist yet, together with the
// uuid-ossp extension.
func (db *DB) CreateSchema(ctx context.Context, schema string) error {
	logrus.Infoln("selected database schema:", schema)
	_, err := db.ExecContext(ctx, `CREATE extension IF NOT EXISTS "uuid-ossp";
CREATE schema IF NOT EXISTS `+pq.QuoteIdentifier(schema)+`;`)
	return err
}

// ClearSchema clears all the data contained in schema.
// Technically this is done by dropping the schema and then recreating it
func (db *DB) ClearSchema(ctx context.Context, schema string) error {
	if schema == "" || schema == "public" {
		return errors.New("refuse to drop public schema")
	}
	_, err := db.ExecContext(ctx, `DROP SCHEMA `+pq.QuoteIdentifier(schema)+` CASCADE;
CREATE schema IF NOT EXISTS `+pq.QuoteIdentifier(schema)+`;`)
	if err != nil {
		return fmt.Errorf("clear schema %s: %w", schema, err)
	}
	return nil
}

// Table returns the quoted, schema qualified name of table
func Table(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}
