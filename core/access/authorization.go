// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package access provides utilities for access control
*/
package access

import (
	"context"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/crudroutes/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context keys
const (
	contextKeyAuthorization contextKey = "_authorization_"
	contextKeyIdentity      contextKey = "_identity_"
)

/*
Authorization is a context object which stores authorization information
for users or machines.

An authorization carries a list of roles and selectors. A selector maps a resource
to the identifier of the one record the authorization is bound to, e.g. "user_id" to the
key of the user's own record.

Authorizations are added to a request context with

	ctx = access.ContextWithAuthorization(ctx, auth)

and retrieved with

	auth := access.AuthorizationFromContext(ctx)

They are added to the context by middleware, depending on the bearer token of the request:
static tokens (NewBackdoorMiddleware) or signed JWTs (NewJwtMiddleware).
*/
type Authorization struct {
	Roles     []string          `json:"roles"`
	Selectors map[string]string `json:"selectors,omitempty"`
}

// HasRole returns true if the authorization contains the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// Selector returns the value of the selector for resource, e.g. Selector("user") returns
// the selector "user_id".
func (a *Authorization) Selector(resource string) (string, bool) {
	if a == nil || a.Selectors == nil {
		return "", false
	}
	value, ok := a.Selectors[resource+"_id"]
	return value, ok
}

// ContextWithAuthorization returns a new context with auth added to it
func ContextWithAuthorization(ctx context.Context, auth *Authorization) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, auth)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// ContextWithIdentity returns a new context with the identity of an authenticated caller
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext returns the identity of the caller or an empty string
func IdentityFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(contextKeyIdentity).(string)
	return identity
}

// AuthorizationCache is an in-memory cache for authorizations. It is used by
// the jwt middleware to cache authorization objects for bearer tokens, so that
// each token is verified only once.
type AuthorizationCache struct {
	mutex sync.RWMutex
	cache map[string]*Authorization
}

// NewAuthorizationCache creates a new authorization cache
func NewAuthorizationCache() *AuthorizationCache {
	return &AuthorizationCache{cache: make(map[string]*Authorization)}
}

// Read returns an authorization from the cache.
// Token should be the token the authorization was derived from, not any of the ids.
// This function is go-routine safe
func (a *AuthorizationCache) Read(token string) *Authorization {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.cache[token]
}

// Write stores an authorization in the cache.
// This function is go-routine safe
func (a *AuthorizationCache) Write(token string, auth *Authorization) {
	a.mutex.Lock()
	a.cache[token] = auth
	a.mutex.Unlock()
}

// HandleAuthorizationRoute adds a route /authorization GET to the router
//
// The route returns the current authorization for provided bearer token.
func HandleAuthorizationRoute(router *mux.Router) {
	rlog := logger.Default()
	rlog.Infoln("authorization")
	rlog.Infoln("  handle route: /authorization GET")
	router.HandleFunc("/authorization", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		auth := AuthorizationFromContext(r.Context())
		if auth == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jsonData, _ := json.MarshalIndent(auth, "", " ")
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	}).Methods(http.MethodGet)
}
