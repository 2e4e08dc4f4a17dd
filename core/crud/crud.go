// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package crud generates the five standard REST routes of a document collection.

	table := crud.Generate[User](driver, "crm", "users", guard)
	crud.Mount(router, "/users", table)

results in

	GET    /users       list all users
	GET    /users/{id}  read one user
	POST   /users       create a user, the response body is the new key
	PATCH  /users/{id}  replace a user, the response body is the stored user
	DELETE /users/{id}  delete a user, the response body is the deleted key

The optional guard is asked before every storage call. Storage errors are mapped to HTTP
responses (see StatusOf), a handler never fails silently.
*/
package crud

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/crudroutes/core"
	"github.com/relabs-tech/crudroutes/core/logger"
	"github.com/relabs-tech/crudroutes/core/notify"
	"github.com/relabs-tech/crudroutes/core/schema"
	"github.com/relabs-tech/crudroutes/core/store"
)

// route names
const (
	ListAll    = "listAll"
	GetByID    = "getById"
	Create     = "create"
	UpdateByID = "updateById"
	DeleteByID = "deleteById"
)

// relative paths of the generated routes
const (
	CollectionPath = "/"
	ItemPath       = "/{" + IDParam + "}"
)

// Descriptor identifies the collection a table was generated for
type Descriptor struct {
	Store      string
	Collection string
}

func (d Descriptor) String() string {
	return d.Store + "/" + d.Collection
}

// Route is one generated route
type Route struct {
	Name      string
	Operation core.Operation
	Method    string
	Path      string
	Handler   http.HandlerFunc
}

// Table is the generated route table. Routes are always listAll, getById, create,
// updateById and deleteById, in this order.
type Table struct {
	Descriptor Descriptor
	Routes     []Route
}

// Route returns the route with the given name
func (t Table) Route(name string) (Route, bool) {
	for _, r := range t.Routes {
		if r.Name == name {
			return r, true
		}
	}
	return Route{}, false
}

// Option configures Generate
type Option func(*settings)

// DefaultMaxBodySize is the default limit for create and update request bodies
const DefaultMaxBodySize int64 = 1 << 20

type settings struct {
	validator   *schema.Validator
	schemaID    string
	notifier    notify.Notifier
	maxBodySize int64
}

// WithMaxBodySize limits create and update request bodies to n bytes, after decompression.
// Larger bodies are answered with 413. The default is DefaultMaxBodySize.
func WithMaxBodySize(n int64) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxBodySize = n
		}
	}
}

// WithValidator validates the body of create and update requests against the JSON schema
// schemaID
func WithValidator(v *schema.Validator, schemaID string) Option {
	return func(s *settings) {
		s.validator = v
		s.schemaID = schemaID
	}
}

// WithNotifier publishes an event after every successful create, update and delete
func WithNotifier(n notify.Notifier) Option {
	return func(s *settings) {
		s.notifier = n
	}
}

type generator[T any] struct {
	descriptor Descriptor
	records    store.Typed[T]
	guard      Guard
	settings
}

// Generate returns the route table for the collection collectionName in store storeName.
// Records are of type T and carry their key in the JSON field "_id". guard may be nil.
func Generate[T any](driver store.Driver, storeName, collectionName string, guard Guard, options ...Option) Table {
	g := &generator[T]{
		descriptor: Descriptor{Store: storeName, Collection: collectionName},
		records:    store.Of[T](driver.Collection(storeName, collectionName)),
		guard:      guard,
		settings:   settings{maxBodySize: DefaultMaxBodySize},
	}
	for _, option := range options {
		option(&g.settings)
	}

	table := Table{
		Descriptor: g.descriptor,
		Routes: []Route{
			{Name: ListAll, Operation: core.OperationList, Method: http.MethodGet, Path: CollectionPath, Handler: g.listAll},
			{Name: GetByID, Operation: core.OperationRead, Method: http.MethodGet, Path: ItemPath, Handler: g.getByID},
			{Name: Create, Operation: core.OperationCreate, Method: http.MethodPost, Path: CollectionPath, Handler: g.create},
			{Name: UpdateByID, Operation: core.OperationUpdate, Method: http.MethodPatch, Path: ItemPath, Handler: g.updateByID},
			{Name: DeleteByID, Operation: core.OperationDelete, Method: http.MethodDelete, Path: ItemPath, Handler: g.deleteByID},
		},
	}
	rlog := logger.Default().WithField("collection", g.descriptor.String())
	for _, route := range table.Routes {
		rlog.Debugf("  generated route %s: %s %s", route.Name, route.Method, route.Path)
	}
	return table
}

// allow runs the guard and answers rejected requests. It returns false if the request
// must not proceed.
func (g *generator[T]) allow(w http.ResponseWriter, r *http.Request, op core.Operation) bool {
	logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
	if g.guard == nil {
		return true
	}
	if err := g.guard.Allow(r, op); err != nil {
		status := rejectionStatus(err)
		logger.FromContext(r.Context()).Infof("%s on %s rejected: %v", op, g.descriptor, err)
		WriteErrorResponse(w, status, err.Error())
		return false
	}
	return true
}

func (g *generator[T]) listAll(w http.ResponseWriter, r *http.Request) {
	if !g.allow(w, r, core.OperationList) {
		return
	}
	records, err := g.records.FetchAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, records)
}

func (g *generator[T]) getByID(w http.ResponseWriter, r *http.Request) {
	if !g.allow(w, r, core.OperationRead) {
		return
	}
	record, err := g.records.FetchByID(r.Context(), PathParam(r, IDParam))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, record)
}

func (g *generator[T]) create(w http.ResponseWriter, r *http.Request) {
	if !g.allow(w, r, core.OperationCreate) {
		return
	}
	record, body, err := g.readRecord(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := g.records.Insert(r.Context(), record)
	if err != nil {
		writeError(w, r, err)
		return
	}
	g.notify(r, core.OperationCreate, id, body)
	writeText(w, http.StatusCreated, id)
}

func (g *generator[T]) updateByID(w http.ResponseWriter, r *http.Request) {
	if !g.allow(w, r, core.OperationUpdate) {
		return
	}
	id := PathParam(r, IDParam)
	record, body, err := g.readRecord(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := store.DocumentFromJSON(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	key, err := store.KeyOf(doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if key != "" && key != id {
		writeError(w, r, fmt.Errorf("%w: '%s' in body, '%s' in path", ErrIdentifierMismatch, key, id))
		return
	}
	updated, err := g.records.Replace(r.Context(), id, record)
	if err != nil {
		writeError(w, r, err)
		return
	}
	payload, err := json.Marshal(updated)
	if err != nil {
		// stored, but the response cannot be produced; no event without payload
		writeError(w, r, fmt.Errorf("cannot marshal response: %w", err))
		return
	}
	g.notify(r, core.OperationUpdate, id, payload)
	writeBody(w, http.StatusOK, "application/json", payload)
}

func (g *generator[T]) deleteByID(w http.ResponseWriter, r *http.Request) {
	if !g.allow(w, r, core.OperationDelete) {
		return
	}
	id, err := g.records.DeleteByID(r.Context(), PathParam(r, IDParam))
	if err != nil {
		writeError(w, r, err)
		return
	}
	g.notify(r, core.OperationDelete, id, nil)
	writeText(w, http.StatusOK, id)
}

// readRecord reads, validates and parses the request body
func (g *generator[T]) readRecord(w http.ResponseWriter, r *http.Request) (T, []byte, error) {
	var record T
	var body io.Reader = http.MaxBytesReader(w, r.Body, g.maxBodySize)
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return record, nil, bodyError("invalid gzipped json data", err)
		}
		defer gz.Close()
		body = gz
	}
	// the inflated body has the same limit as the transferred one
	data, err := io.ReadAll(io.LimitReader(body, g.maxBodySize+1))
	if err != nil {
		return record, nil, bodyError("cannot read body", err)
	}
	if int64(len(data)) > g.maxBodySize {
		return record, nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, g.maxBodySize)
	}
	if g.validator != nil {
		if err := g.validator.ValidateBytes(data, g.schemaID); err != nil {
			return record, nil, err
		}
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, nil, fmt.Errorf("%w: invalid json data: %w", ErrMalformedBody, err)
	}
	return record, data, nil
}

// notify publishes a change event. Failures are logged, the request has succeeded anyway.
func (g *generator[T]) notify(r *http.Request, op core.Operation, id string, payload []byte) {
	if g.notifier == nil {
		return
	}
	event := notify.Event{
		Store:      g.descriptor.Store,
		Collection: g.descriptor.Collection,
		Operation:  op,
		ResourceID: id,
		RequestID:  logger.RequestIDFromContext(r.Context()),
		CreatedAt:  time.Now().UTC(),
	}
	if json.Valid(payload) {
		event.Payload = payload
	}
	if err := g.notifier.Notify(r.Context(), event); err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorf("cannot notify %s %s", op, id)
	}
}

// bodyError classifies a failure to read the request body. Exceeding the size limit of
// http.MaxBytesReader is ErrBodyTooLarge, anything else ErrMalformedBody.
func bodyError(msg string, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, tooLarge.Limit)
	}
	return fmt.Errorf("%w: %s: %w", ErrMalformedBody, msg, err)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		writeError(w, r, fmt.Errorf("cannot marshal response: %w", err))
		return
	}
	writeBody(w, status, "application/json", data)
}

func writeText(w http.ResponseWriter, status int, text string) {
	writeBody(w, status, "text/plain; charset=utf-8", []byte(text))
}

func writeBody(w http.ResponseWriter, status int, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	w.Write(data)
}
