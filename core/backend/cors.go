// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"net/http"
	"slices"

	"github.com/gorilla/handlers"

	"github.com/relabs-tech/crudroutes/core/logger"
)

// request headers browsers may send to collection routes, besides the CORS-safelisted ones
var corsRequestHeaders = []string{"Content-Type", "Content-Encoding", "Authorization", "X-Request-Id"}

// corsMethods returns the methods of all mounted collection routes plus OPTIONS
func (b *Backend) corsMethods() []string {
	methods := []string{http.MethodOptions}
	for _, table := range b.tables {
		for _, route := range table.Routes {
			if !slices.Contains(methods, route.Method) {
				methods = append(methods, route.Method)
			}
		}
	}
	slices.Sort(methods)
	return methods
}

// handleCORS installs the CORS middleware. Must run after handleRoutes, the allowed methods
// are taken from the mounted tables.
func (b *Backend) handleCORS() {
	origins := b.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := b.corsMethods()
	logger.Default().Infoln("backend: CORS for", origins, methods)

	b.router.Use(handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods(methods),
		handlers.AllowedHeaders(corsRequestHeaders),
		handlers.ExposedHeaders([]string{"X-Request-Id"}),
		handlers.MaxAge(600),
		handlers.OptionStatusCode(http.StatusNoContent),
	))
	// mux runs middleware on matched routes only, so preflights need a route of their own.
	// The middleware answers them before the handler is reached.
	b.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
}
