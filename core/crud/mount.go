// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package crud

import (
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/crudroutes/core/logger"
)

// Join returns the absolute path of a table route mounted below prefix
func Join(prefix, path string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if path == CollectionPath {
		if prefix == "" {
			return "/"
		}
		return prefix
	}
	return prefix + path
}

// Mount registers all routes of table on router below prefix. Handlers are wrapped with Wrap,
// a panicking handler is answered with 500.
func Mount(router *mux.Router, prefix string, table Table) {
	rlog := logger.Default()
	rlog.Infoln("collection", table.Descriptor)
	for _, route := range table.Routes {
		path := Join(prefix, route.Path)
		rlog.Infoln("  handle route:", path, route.Method)
		router.Handle(path, Wrap(route.Handler)).Methods(route.Method)
	}
}

// Wrap adds panic recovery, response compression and a request logger to h. Requests which
// already carry a request logger keep it.
func Wrap(h http.Handler) http.Handler {
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(logger.Default()),
		handlers.PrintRecoveryStack(false),
	)
	return recovery(handlers.CompressHandler(logger.RequestID(h)))
}
