// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/crudroutes/core/crud"
	"github.com/relabs-tech/crudroutes/core/logger"
)

// Claims are the claims of the tokens accepted by the jwt middleware
type Claims struct {
	EMail     string            `json:"email"`
	Roles     []string          `json:"roles,omitempty"`
	Selectors map[string]string `json:"selectors,omitempty"`
	jwt.RegisteredClaims
}

// JwtMiddlewareBuilder is a helper builder for NewJwtMiddleware
type JwtMiddlewareBuilder struct {
	// Secret is the HMAC secret the tokens are signed with
	Secret []byte
	// Issuer is the accepted issuer for the token
	Issuer string
}

// NewJwtMiddleware returns a middleware handler to validate
// JWT bearer token.
//
// Java-Web-Token (JWT) are accepted as "Authorization: Bearer"
// header or as cookie (see CookieName). Tokens must be signed with HS256.
//
// The identity of the caller is a combination of the token issuer with the
// email claim, separated by the pipe symbol '|'. Example:
//
//	"https://auth.example.com|test@example.com"
//
// The authorization is taken from the roles and selectors claims.
//
// This is a final handler with regards to the bearer token. It will return
// http.StatusUnauthorized when a token is available but invalid.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if len(jmb.Secret) == 0 {
		panic("jwt middleware requires a secret")
	}

	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if jmb.Issuer != "" {
		options = append(options, jwt.WithIssuer(jmb.Issuer))
	}
	parser := jwt.NewParser(options...)
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		return jmb.Secret, nil
	}

	authCache := NewAuthorizationCache()

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := AuthorizationFromContext(r.Context())
			identity := IdentityFromContext(r.Context())

			if auth != nil || len(identity) > 0 { // already authorized or at least authenticated?
				h.ServeHTTP(w, r)
				return
			}

			tokenString := bearerToken(r)
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			rlog := logger.FromContext(r.Context())
			claims := Claims{}
			token, err := parser.ParseWithClaims(tokenString, &claims, keyFunc)
			if err != nil || !token.Valid {
				if err == nil {
					err = errors.New("token not valid")
				}
				rlog.WithError(err).Infoln("rejected bearer token")
				crud.WriteErrorResponse(w, http.StatusUnauthorized, "invalid token")
				return
			}

			// identity is a combination of issuer and email
			identity = claims.Issuer + "|" + claims.EMail

			ctx := ContextWithIdentity(r.Context(), identity)
			ctx, rlog = logger.ContextWithLoggerIdentity(ctx, identity)

			// we cache by tokenString, and not by identity, so that a new token
			// with different roles takes effect immediately
			auth = authCache.Read(tokenString)
			if auth == nil {
				auth = &Authorization{Roles: claims.Roles, Selectors: claims.Selectors}
				authCache.Write(tokenString, auth)
			}
			rlog.Debugln("authorized with roles", auth.Roles)

			ctx = ContextWithAuthorization(ctx, auth)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewToken returns a HS256 signed token for email with the given authorization, valid for ttl
func NewToken(secret []byte, issuer, email string, auth Authorization, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		EMail:     email,
		Roles:     auth.Roles,
		Selectors: auth.Selectors,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
