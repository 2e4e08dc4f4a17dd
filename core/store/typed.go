// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store

import (
	"bytes"
	"context"

	"github.com/goccy/go-json"
)

// Typed is a collection of records of type T. Records are converted to and from documents
// through their JSON representation.
type Typed[T any] struct {
	Collection Collection
}

// Of returns a typed view on collection c
func Of[T any](c Collection) Typed[T] {
	return Typed[T]{Collection: c}
}

// FetchAll returns all records of the collection
func (t Typed[T]) FetchAll(ctx context.Context) ([]T, error) {
	docs, err := t.Collection.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]T, 0, len(docs))
	for _, doc := range docs {
		record, err := Decode[T](doc)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// FetchByID returns the record with key id
func (t Typed[T]) FetchByID(ctx context.Context, id string) (T, error) {
	doc, err := t.Collection.FetchByID(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](doc)
}

// Insert inserts record and returns its key
func (t Typed[T]) Insert(ctx context.Context, record T) (string, error) {
	doc, err := Encode(record)
	if err != nil {
		return "", err
	}
	key, err := KeyOf(doc)
	if err != nil {
		return "", err
	}
	if key == "" {
		// an empty key is no key, the store assigns one
		doc = doc.WithoutKey()
	} else {
		doc = doc.WithKey(key)
	}
	return t.Collection.Insert(ctx, doc)
}

// Replace replaces the record at key id and returns the stored record
func (t Typed[T]) Replace(ctx context.Context, id string, record T) (T, error) {
	var zero T
	doc, err := Encode(record)
	if err != nil {
		return zero, err
	}
	stored, err := t.Collection.Replace(ctx, id, doc.WithKey(id))
	if err != nil {
		return zero, err
	}
	return Decode[T](stored)
}

// DeleteByID deletes the record at key id
func (t Typed[T]) DeleteByID(ctx context.Context, id string) (string, error) {
	return t.Collection.DeleteByID(ctx, id)
}

// Encode converts a record into a document
func Encode[T any](record T) (Document, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, Invalid(err)
	}
	return DocumentFromJSON(data)
}

// Decode converts a document into a record
func Decode[T any](doc Document) (T, error) {
	var record T
	data, err := json.Marshal(doc)
	if err != nil {
		return record, Invalid(err)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, Invalid(err)
	}
	return record, nil
}

// DocumentFromJSON parses a JSON object into a document. Numbers are kept as json.Number
// so that large integers survive the round trip.
func DocumentFromJSON(data []byte) (Document, error) {
	var doc Document
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return nil, Invalid(err)
	}
	if doc == nil {
		return nil, Invalid(errNotAnObject)
	}
	return doc, nil
}

// Clone returns a deep copy of doc
func Clone(doc Document) (Document, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, Invalid(err)
	}
	return DocumentFromJSON(data)
}

// Normalize returns a deep copy of doc in which every json.Number is replaced by an int64
// or, if it has a fraction or exponent, a float64. Drivers whose codecs do not know
// json.Number use it before encoding.
func Normalize(doc Document) Document {
	return normalizeValue(map[string]interface{}(doc)).(map[string]interface{})
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case Document:
		return normalizeValue(map[string]interface{}(t))
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = normalizeValue(e)
		}
		return m
	case []interface{}:
		a := make([]interface{}, len(t))
		for i, e := range t {
			a[i] = normalizeValue(e)
		}
		return a
	}
	return v
}
