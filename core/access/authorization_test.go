package access

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/crudroutes/core"
	"github.com/relabs-tech/crudroutes/core/crud"
)

func TestAuthorization_Admin(t *testing.T) {
	auth := &Authorization{
		Roles: []string{"admin"},
	}

	if !auth.IsAuthorized(core.OperationCreate, "", nil) {
		t.Fatal("admin not authorized")
	}

	// an explicit permit for admin takes precedence
	permits := []Permit{{Role: "admin", Operations: []core.Operation{core.OperationRead}}}
	if auth.IsAuthorized(core.OperationCreate, "", permits) {
		t.Fatal("admin should not create")
	}
}

func TestAuthorization_Public(t *testing.T) {
	auth := &Authorization{
		Roles: []string{"someone"},
	}
	permits := []Permit{{
		Role:       "public",
		Operations: []core.Operation{core.OperationRead},
	}}

	if auth.IsAuthorized(core.OperationCreate, "", permits) {
		t.Fatal("public should not create")
	}
	if !auth.IsAuthorized(core.OperationRead, "", permits) {
		t.Fatal("public not authorized for read")
	}

	// now try without any authorization, this should also work
	auth = nil
	if auth.IsAuthorized(core.OperationCreate, "", permits) {
		t.Fatal("public should not create")
	}
	if !auth.IsAuthorized(core.OperationRead, "", permits) {
		t.Fatal("public not authorized for read")
	}
}

func TestAuthorization_Everybody(t *testing.T) {
	auth := &Authorization{
		Roles: []string{"someone"},
	}
	permits := []Permit{{
		Role:       "everybody",
		Operations: []core.Operation{core.OperationRead},
	}}

	if auth.IsAuthorized(core.OperationCreate, "", permits) {
		t.Fatal("everybody should not create")
	}
	if !auth.IsAuthorized(core.OperationRead, "", permits) {
		t.Fatal("everybody not authorized for read")
	}

	// now try without any authorization, this should not work
	auth = nil
	if auth.IsAuthorized(core.OperationRead, "", permits) {
		t.Fatal("everybody requires an authorization")
	}

	// a role with its own permits does not fall back to everybody
	auth = &Authorization{Roles: []string{"auditor"}}
	permits = append(permits, Permit{Role: "auditor", Operations: []core.Operation{core.OperationList}})
	if auth.IsAuthorized(core.OperationRead, "", permits) {
		t.Fatal("auditor should not read")
	}
	if !auth.IsAuthorized(core.OperationList, "", permits) {
		t.Fatal("auditor not authorized for list")
	}
}

func TestAuthorization_Selector(t *testing.T) {
	auth := &Authorization{
		Roles:     []string{"userrole"},
		Selectors: map[string]string{"user_id": "42"},
	}
	permits := []Permit{{
		Role:       "userrole",
		Operations: []core.Operation{core.OperationRead, core.OperationUpdate},
		Selector:   "user",
	}}

	if !auth.IsAuthorized(core.OperationRead, "42", permits) {
		t.Fatal("user should read its own record")
	}
	if auth.IsAuthorized(core.OperationRead, "43", permits) {
		t.Fatal("user should not read other records")
	}
	if auth.IsAuthorized(core.OperationList, "", permits) {
		t.Fatal("user should not list")
	}
	if auth.IsAuthorized(core.OperationDelete, "42", permits) {
		t.Fatal("user should not delete")
	}

	value, ok := auth.Selector("user")
	assert.True(t, ok)
	assert.Equal(t, "42", value)
	_, ok = auth.Selector("fleet")
	assert.False(t, ok)
}

func TestHasRole(t *testing.T) {
	auth := &Authorization{Roles: []string{"a", "b"}}
	assert.True(t, auth.HasRole("b"))
	assert.False(t, auth.HasRole("c"))
	var none *Authorization
	assert.False(t, none.HasRole("a"))
}

func TestParsePermits(t *testing.T) {
	permits, err := ParsePermits("admin=*; everybody=list,read;user=read,update@user;")
	require.NoError(t, err)
	require.Len(t, permits, 3)
	assert.Equal(t, Permit{Role: "admin", Operations: core.Operations()}, permits[0])
	assert.Equal(t, Permit{Role: "everybody", Operations: []core.Operation{core.OperationList, core.OperationRead}}, permits[1])
	assert.Equal(t, Permit{Role: "user", Operations: []core.Operation{core.OperationRead, core.OperationUpdate}, Selector: "user"}, permits[2])

	permits, err = ParsePermits("")
	assert.NoError(t, err)
	assert.Empty(t, permits)

	_, err = ParsePermits("admin")
	assert.Error(t, err)
	_, err = ParsePermits("admin=list,upsert")
	assert.Error(t, err)
}

func TestPermitsGuard(t *testing.T) {
	permits := Permits{
		{Role: "public", Operations: []core.Operation{core.OperationList}},
		{Role: "everybody", Operations: []core.Operation{core.OperationRead}},
	}

	check := func(auth *Authorization, op core.Operation) int {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if auth != nil {
			r = r.WithContext(ContextWithAuthorization(r.Context(), auth))
		}
		err := permits.Allow(r, op)
		if err == nil {
			return http.StatusOK
		}
		var rejection *crud.Rejection
		require.ErrorAs(t, err, &rejection)
		return rejection.Status
	}

	assert.Equal(t, http.StatusOK, check(nil, core.OperationList))
	assert.Equal(t, http.StatusUnauthorized, check(nil, core.OperationRead))
	assert.Equal(t, http.StatusOK, check(&Authorization{Roles: []string{"someone"}}, core.OperationRead))
	assert.Equal(t, http.StatusForbidden, check(&Authorization{Roles: []string{"someone"}}, core.OperationDelete))
	assert.Equal(t, http.StatusOK, check(&Authorization{Roles: []string{"admin"}}, core.OperationDelete))
}

func TestBackdoorMiddleware(t *testing.T) {
	router := mux.NewRouter()
	router.Use(NewBackdoorMiddleware(&BackdoorMiddlewareBuilder{
		Backdoors: map[string]Authorization{"please": {Roles: []string{"admin"}}},
	}))
	HandleAuthorizationRoute(router)

	request := func(modify func(r *http.Request)) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/authorization", nil)
		modify(r)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)
		return rec
	}

	rec := request(func(r *http.Request) {})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = request(func(r *http.Request) { r.Header.Set("Authorization", "Bearer please") })
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"roles":["admin"]}`, rec.Body.String())

	rec = request(func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: "please"}) })
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = request(func(r *http.Request) { r.Header.Set("Authorization", "Bearer other") })
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
