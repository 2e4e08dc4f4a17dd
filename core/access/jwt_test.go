package access

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJwtMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	issuer := "https://auth.example.com"

	router := mux.NewRouter()
	router.Use(NewJwtMiddleware(&JwtMiddlewareBuilder{Secret: secret, Issuer: issuer}))
	var identity string
	var auth *Authorization
	router.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		identity = IdentityFromContext(r.Context())
		auth = AuthorizationFromContext(r.Context())
	})

	get := func(token string) int {
		identity, auth = "", nil
		r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get(""))
	assert.Nil(t, auth)

	token, err := NewToken(secret, issuer, "ann@example.com",
		Authorization{Roles: []string{"userrole"}, Selectors: map[string]string{"user_id": "42"}}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(token))
	assert.Equal(t, issuer+"|ann@example.com", identity)
	require.NotNil(t, auth)
	assert.Equal(t, []string{"userrole"}, auth.Roles)
	assert.Equal(t, "42", auth.Selectors["user_id"])

	// cached
	assert.Equal(t, http.StatusOK, get(token))
	assert.Equal(t, []string{"userrole"}, auth.Roles)

	// wrong secret
	token, err = NewToken([]byte("other"), issuer, "ann@example.com", Authorization{}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(token))

	// wrong issuer
	token, err = NewToken(secret, "https://evil.example.com", "ann@example.com", Authorization{}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(token))

	// expired
	token, err = NewToken(secret, issuer, "ann@example.com", Authorization{}, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(token))

	// wrong signing method
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer},
	}).SignedString(secret)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(token))

	assert.Equal(t, http.StatusUnauthorized, get("garbage"))
}

func TestJwtMiddlewareAfterBackdoor(t *testing.T) {
	router := mux.NewRouter()
	router.Use(NewBackdoorMiddleware(&BackdoorMiddlewareBuilder{
		Backdoors: map[string]Authorization{"please": {Roles: []string{"admin"}}},
	}))
	router.Use(NewJwtMiddleware(&JwtMiddlewareBuilder{Secret: []byte("s")}))
	var auth *Authorization
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		auth = AuthorizationFromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer please")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, auth)
	assert.True(t, auth.HasRole("admin"))
}
