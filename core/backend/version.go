// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/crudroutes/core/access"
	"github.com/relabs-tech/crudroutes/core/crud"
	"github.com/relabs-tech/crudroutes/core/logger"
)

var (
	// Version is the version of the curent build
	Version = "unset"
)

func (b *Backend) handleVersion(router *mux.Router) {
	logger.Default().Debugln("version")
	logger.Default().Debugln("  handle version route: /version GET")
	router.HandleFunc("/version", b.versionWithAuth).Methods(http.MethodGet)
}

func (b *Backend) versionWithAuth(w http.ResponseWriter, r *http.Request) {
	if b.authorizationEnabled {
		auth := access.AuthorizationFromContext(r.Context())
		if !auth.HasRole(access.RoleAdmin) {
			crud.WriteErrorResponse(w, http.StatusUnauthorized, "not authorized")
			return
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	data, _ := json.Marshal(map[string]string{"version": Version})
	w.Write(data)
}
