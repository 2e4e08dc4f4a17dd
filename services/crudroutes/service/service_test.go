package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/crudroutes/core/access"
	"github.com/relabs-tech/crudroutes/core/client"
)

type user struct {
	ID    string `json:"_id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func TestFromEnvironment(t *testing.T) {
	t.Setenv("DRIVER", "badger")
	t.Setenv("PORT", "8080")
	t.Setenv("AUTHORIZATION", "false")
	s, err := FromEnvironment()
	require.NoError(t, err)
	assert.Equal(t, "badger", s.Driver)
	assert.Equal(t, 8080, s.Port)
	assert.False(t, s.Authorization)
	assert.Equal(t, "crudroutes", s.Store)
	assert.Equal(t, "info", s.LogLevel)
}

func TestRouter(t *testing.T) {
	s := &Service{
		Driver:        "memory",
		Store:         "crudroutes",
		LogLevel:      "warning",
		Authorization: true,
		AdminToken:    "please",
		JWTSecret:     "secret",
		JWTIssuer:     "https://auth.example.com",
	}
	router, closer, err := s.Router(context.Background())
	require.NoError(t, err)
	defer closer()

	admin := client.NewWithHandler(router).WithHeader("Authorization", "Bearer please")
	users := admin.Collection("users")
	id, status, err := users.Create(user{Name: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	// schema violations
	_, status, err = users.Create(user{Name: "Bob", Email: "no mail"})
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	_, status, err = users.Create(map[string]string{"name": "Bob", "email": "bob@example.com", "age": "42"})
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	token, err := access.NewToken([]byte("secret"), "https://auth.example.com", "ann@example.com",
		access.Authorization{Roles: []string{"userrole"}, Selectors: map[string]string{"user_id": id}}, time.Hour)
	require.NoError(t, err)
	ann := client.NewWithHandler(router).WithHeader("Authorization", "Bearer "+token).Collection("users")
	var updated user
	_, err = ann.Item(id).Update(user{Name: "Ann B.", Email: "ann@example.com"}, &updated)
	require.NoError(t, err)
	assert.Equal(t, user{ID: id, Name: "Ann B.", Email: "ann@example.com"}, updated)

	status, err = ann.Item(id).Delete()
	assert.Error(t, err)
	assert.Equal(t, http.StatusForbidden, status)

	var all []user
	status, err = client.NewWithHandler(router).Collection("users").List(&all)
	assert.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, err = client.NewWithHandler(router).WithHeader("Authorization", "Bearer forged").Collection("users").List(&all)
	assert.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRouterErrors(t *testing.T) {
	_, _, err := (&Service{Driver: "oracle", Store: "x"}).Router(context.Background())
	assert.Error(t, err)
	_, _, err = (&Service{Driver: "postgres", Store: "x"}).Router(context.Background())
	assert.Error(t, err)
	_, _, err = (&Service{Driver: "mongo", Store: "x"}).Router(context.Background())
	assert.Error(t, err)
}
