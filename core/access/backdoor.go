// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// CookieName is the cookie which may carry the bearer token instead of the Authorization header
const CookieName = "Crudroutes-JWT"

// BackdoorMiddlewareBuilder is a helper builder for NewBackdoorMiddleware
type BackdoorMiddlewareBuilder struct {
	// Backdoors is a mapping from a bearer token to an actual authorization
	Backdoors map[string]Authorization
}

// NewBackdoorMiddleware returns a middleware handler for a backdoor
//
// The key for the backdoors map is the bearer token passed with the request.
//
// Example: if you specify the backdoor
//
//	"please": Authorization{Roles:[]string{"admin"}}
//
// then any request with an authorization bearer token consisting of the single
// magic word "please" will be authorized with the admin role.
//
// With curl, use -H 'Authorization: Bearer please' or pass a cookie with
// -b 'Crudroutes-JWT=please'
//
// Unknown tokens are passed on unchanged, so that a subsequent jwt middleware can
// take care of them.
func NewBackdoorMiddleware(bmb *BackdoorMiddlewareBuilder) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil { // already authorized?
				h.ServeHTTP(w, r)
				return
			}
			tokenString := bearerToken(r)
			if tokenString == "" {
				h.ServeHTTP(w, r)
				return
			}
			if tryAuth, ok := bmb.Backdoors[tokenString]; ok {
				auth := tryAuth
				r = r.WithContext(ContextWithAuthorization(r.Context(), &auth))
			}
			h.ServeHTTP(w, r)
		})
	}
}

// bearerToken returns the token of the Authorization header, or the token cookie
func bearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) > 0 && bearer != "null" {
		if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
			return bearer[7:]
		}
		return bearer
	}
	if cookie, _ := r.Cookie(CookieName); cookie != nil {
		return cookie.Value
	}
	return ""
}
