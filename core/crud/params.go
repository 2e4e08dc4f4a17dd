// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package crud

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
)

// IDParam is the name of the path parameter which carries the record key
const IDParam = "id"

type contextKeyPathParamsType struct{}

var contextKeyPathParams = &contextKeyPathParamsType{}

// WithPathParams returns a context carrying the path parameters of a request. Router adapters
// which do not use gorilla/mux hand their parameters to the handlers this way.
func WithPathParams(ctx context.Context, params map[string]string) context.Context {
	return context.WithValue(ctx, contextKeyPathParams, params)
}

// PathParam returns the path parameter name of r, from the context if present, otherwise
// from gorilla/mux.
func PathParam(r *http.Request, name string) string {
	if params, ok := r.Context().Value(contextKeyPathParams).(map[string]string); ok {
		if value, ok := params[name]; ok {
			return value
		}
	}
	return mux.Vars(r)[name]
}
