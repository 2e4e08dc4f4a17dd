// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"fmt"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/crudroutes/core"
	"github.com/relabs-tech/crudroutes/core/access"
	"github.com/relabs-tech/crudroutes/core/crud"
	"github.com/relabs-tech/crudroutes/core/logger"
	"github.com/relabs-tech/crudroutes/core/notify"
	"github.com/relabs-tech/crudroutes/core/schema"
	"github.com/relabs-tech/crudroutes/core/store"
)

// Backend is the generic rest backend
type Backend struct {
	config               *Configuration
	driver               store.Driver
	store                string
	router               *mux.Router
	validator            *schema.Validator
	notifier             notify.Notifier
	authorizationEnabled bool
	allowedOrigins       []string
	tables               map[string]crud.Table
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all collections. This is mandatory.
	Config string
	// Driver is the document store. This is mandatory.
	Driver store.Driver
	// Store is the name of the store within the driver, e.g. the postgres schema or the
	// mongo database. This is mandatory.
	Store string
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Validator holds the JSON schemas referenced by the collections' schema_id.
	// This is optional, unless a collection has a schema_id.
	Validator *schema.Validator
	// Notifier receives the change events of collections with notifications.
	// This is optional.
	Notifier notify.Notifier
	// AuthorizationEnabled guards every collection with its permits. Without it, all routes
	// are open.
	AuthorizationEnabled bool
	// AllowedOrigins are the origins answered by CORS. This is optional, the default is
	// all origins.
	AllowedOrigins []string
}

// collectionEnsurer is implemented by drivers which must create tables before use
type collectionEnsurer interface {
	EnsureCollection(ctx context.Context, storeName, collectionName string) error
}

// New realizes the actual backend. It creates the collections in the store (if the
// driver requires it) and adds the generated routes to the router. It panics on an invalid
// builder, like the router it is building would.
func New(bb *Builder) *Backend {
	b, err := NewWithContext(context.Background(), bb)
	if err != nil {
		panic(err)
	}
	return b
}

// NewWithContext is New with a context for creating the collections, it returns errors
// instead of panicking
func NewWithContext(ctx context.Context, bb *Builder) (*Backend, error) {
	config, err := ParseConfiguration(bb.Config)
	if err != nil {
		return nil, err
	}
	if bb.Driver == nil {
		return nil, fmt.Errorf("Driver is missing")
	}
	if bb.Router == nil {
		return nil, fmt.Errorf("Router is missing")
	}
	if bb.Store == "" {
		return nil, fmt.Errorf("Store is missing")
	}
	for _, cc := range config.Collections {
		if cc.SchemaID == "" {
			continue
		}
		if bb.Validator == nil || !bb.Validator.HasSchema(cc.SchemaID) {
			return nil, fmt.Errorf("collection %s: %w: %s", cc.Resource, schema.ErrUnknownSchema, cc.SchemaID)
		}
	}

	b := &Backend{
		config:               config,
		driver:               bb.Driver,
		store:                bb.Store,
		router:               bb.Router,
		validator:            bb.Validator,
		notifier:             bb.Notifier,
		authorizationEnabled: bb.AuthorizationEnabled,
		allowedOrigins:       bb.AllowedOrigins,
		tables:               make(map[string]crud.Table),
	}

	if ensurer, ok := b.driver.(collectionEnsurer); ok {
		for _, cc := range config.Collections {
			if err := ensurer.EnsureCollection(ctx, b.store, cc.Name()); err != nil {
				return nil, fmt.Errorf("cannot create collection %s: %w", cc.Resource, err)
			}
		}
	}

	b.handleVersion(b.router)
	access.HandleAuthorizationRoute(b.router)
	b.handleRoutes()
	b.handleCORS()
	return b, nil
}

// handleRoutes adds all necessary handlers for the specified configuration
func (b *Backend) handleRoutes() {
	logger.Default().Infoln("backend: HandleRoutes")
	for _, cc := range b.config.Collections {
		var options []crud.Option
		if cc.SchemaID != "" {
			options = append(options, crud.WithValidator(b.validator, cc.SchemaID))
		}
		if cc.Notifications && b.notifier != nil {
			options = append(options, crud.WithNotifier(b.notifier))
		}
		var guard crud.Guard
		if b.authorizationEnabled {
			guard = access.Permits(cc.Permits)
		}
		table := crud.Generate[store.Document](b.driver, b.store, cc.Name(), guard, options...)
		crud.Mount(b.router, cc.Path(), table)
		b.tables[cc.Resource] = table
	}
}

// Table returns the generated route table for resource
func (b *Backend) Table(resource string) (crud.Table, bool) {
	table, ok := b.tables[resource]
	return table, ok
}

// Collection returns the store collection of resource, for direct access bypassing the routes
func (b *Backend) Collection(resource string) store.Collection {
	return b.driver.Collection(b.store, core.Plural(resource))
}
