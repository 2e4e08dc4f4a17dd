// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package chiroutes mounts generated route tables on a chi router.
package chiroutes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relabs-tech/crudroutes/core/crud"
	"github.com/relabs-tech/crudroutes/core/logger"
)

// Mount registers all routes of table on router below prefix
func Mount(router chi.Router, prefix string, table crud.Table) {
	rlog := logger.Default()
	rlog.Infoln("collection", table.Descriptor)
	for _, route := range table.Routes {
		path := crud.Join(prefix, route.Path)
		rlog.Infoln("  handle route:", path, route.Method)
		router.Method(route.Method, path, crud.Wrap(withURLParams(route.Handler)))
	}
}

// withURLParams hands chi's URL parameters to the generated handler
func withURLParams(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params := map[string]string{}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			for i, key := range rctx.URLParams.Keys {
				params[key] = rctx.URLParams.Values[i]
			}
		}
		h.ServeHTTP(w, r.WithContext(crud.WithPathParams(r.Context(), params)))
	})
}
