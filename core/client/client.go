// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast access to generated CRUD routes

A client either talks directly to an http.Handler, usually the router the routes are
mounted on, or to a remote server by URL. The in-process variant does not marshal HTTP and
is the tool of choice if one request handler needs to call other handlers to fulfill
its task. It is also perfectly suited for unit tests.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/crudroutes/core/access"
	"github.com/relabs-tech/crudroutes/core/crud"
)

// Client provides easy access to the REST API.
type Client struct {
	handler    http.Handler
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithHandler creates a client to make pseudo-REST requests to the backend,
// through the handler
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithHandler(handler http.Handler) Client {
	return Client{
		handler:        handler,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := make(map[string]string, len(c.defaultHeaders)+1)
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	headers[key] = value
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client which sends token as bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAdminAuthorization returns a new client with admin authorizations
// (this works only directly against a handler, for a normal client
// use WithToken())
func (c Client) WithAdminAuthorization() Client {
	return c.WithRole(access.RoleAdmin)
}

// WithRole returns a new client with role authorization
// (this works only directly against a handler, for a normal client
// use WithToken())
func (c Client) WithRole(role string) Client {
	c.auth = &access.Authorization{
		Roles: []string{role},
	}
	return c
}

// WithAuthorization returns a new client with specific authorizations
// (this works only directly against a handler, for a normal client
// use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of the client
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = access.ContextWithAuthorization(ctx, c.auth)
	}
	return ctx
}

// Error is returned for responses with a status outside of 2xx
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}

// RawGet retrieves path. The result is unmarshalled from JSON unless it is a *[]byte or
// a *string, which receive the raw body.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	return c.do(http.MethodGet, path, nil, result)
}

// RawPost posts body as JSON to path. A body of type []byte is sent as is.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPost, path, body, result)
}

// RawPatch patches path with body
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPatch, path, body, result)
}

// RawDelete deletes path
func (c Client) RawDelete(path string, result interface{}) (int, error) {
	return c.do(http.MethodDelete, path, nil, result)
}

func (c Client) do(method, path string, body interface{}, result interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		var data []byte
		if raw, ok := body.([]byte); ok {
			data = raw
		} else {
			var err error
			if data, err = json.Marshal(body); err != nil {
				return 0, err
			}
		}
		reader = bytes.NewReader(data)
	}

	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}

	var status int
	var resBody []byte
	if c.handler != nil {
		rec := httptest.NewRecorder()
		c.handler.ServeHTTP(rec, r)
		status = rec.Code
		resBody = rec.Body.Bytes()
	} else {
		if c.token != "" {
			r.Header.Set("Authorization", "Bearer "+c.token)
		}
		res, err := c.httpClient.Do(r)
		if err != nil {
			return 0, err
		}
		defer res.Body.Close()
		status = res.StatusCode
		if resBody, err = io.ReadAll(res.Body); err != nil {
			return status, err
		}
	}

	if status < 200 || status > 299 {
		var errorResponse crud.ErrorResponse
		message := strings.TrimSpace(string(resBody))
		if json.Unmarshal(resBody, &errorResponse) == nil && errorResponse.Error != "" {
			message = errorResponse.Error
		}
		return status, &Error{Status: status, Message: message}
	}

	if status == http.StatusNoContent || result == nil {
		return status, nil
	}
	switch raw := result.(type) {
	case *[]byte:
		*raw = resBody
	case *string:
		*raw = string(resBody)
	default:
		err = json.Unmarshal(resBody, result)
	}
	return status, err
}

// Collection represents the generated routes of one collection
type Collection struct {
	client Client
	prefix string
}

// Collection returns a new collection client for the routes mounted at prefix
func (c Client) Collection(prefix string) Collection {
	return Collection{client: c, prefix: "/" + strings.Trim(prefix, "/")}
}

// Path returns the path of the collection
func (r Collection) Path() string {
	return r.prefix
}

// List lists all records of the collection
func (r Collection) List(result interface{}) (int, error) {
	return r.client.RawGet(r.prefix, result)
}

// Create creates a new record and returns its key
func (r Collection) Create(body interface{}) (string, int, error) {
	var id string
	status, err := r.client.RawPost(r.prefix, body, &id)
	return id, status, err
}

// Item returns the item with key id
func (r Collection) Item(id string) Item {
	return Item{client: r.client, path: r.prefix + "/" + id}
}

// Item is a single record of a collection
type Item struct {
	client Client
	path   string
}

// Path returns the path of the item
func (r Item) Path() string {
	return r.path
}

// Read reads the item
func (r Item) Read(result interface{}) (int, error) {
	return r.client.RawGet(r.path, result)
}

// Update replaces the item with body
func (r Item) Update(body interface{}, result interface{}) (int, error) {
	return r.client.RawPatch(r.path, body, result)
}

// Delete deletes the item
func (r Item) Delete() (int, error) {
	return r.client.RawDelete(r.path, nil)
}
