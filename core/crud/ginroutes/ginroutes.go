// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package ginroutes mounts generated route tables on a gin engine or group.
package ginroutes

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/relabs-tech/crudroutes/core/crud"
	"github.com/relabs-tech/crudroutes/core/logger"
)

// Mount registers all routes of table on router below prefix
func Mount(router gin.IRoutes, prefix string, table crud.Table) {
	rlog := logger.Default()
	rlog.Infoln("collection", table.Descriptor)
	for _, route := range table.Routes {
		path := Path(crud.Join(prefix, route.Path))
		rlog.Infoln("  handle route:", path, route.Method)
		handler := crud.Wrap(route.Handler)
		router.Handle(route.Method, path, func(c *gin.Context) {
			params := make(map[string]string, len(c.Params))
			for _, p := range c.Params {
				params[p.Key] = p.Value
			}
			c.Request = c.Request.WithContext(crud.WithPathParams(c.Request.Context(), params))
			handler.ServeHTTP(c.Writer, c.Request)
		})
	}
}

// Path converts a route path with {name} parameters to gin's :name syntax
func Path(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
			segments[i] = ":" + strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
		}
	}
	return strings.Join(segments, "/")
}
