package schema_test

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/crudroutes/core/schema"
)

const (
	refString = `{ "type" : "string",
		"$id" : "http://some_host.com/string.json"}`
	refMaxLength = `{ "$id" : "http://some_host.com/maxlength.json",
		"maxLength" : 5 }`

	shortString = `
	{ "$id" : "http://some_host.com/short.json",
	  "allOf" : [
		{ "$ref" : "http://some_host.com/string.json" },
		{ "$ref" : "http://some_host.com/maxlength.json" }
	  ]
	}`
	anyString = `
	{ "$id" : "http://some_host.com/any.json",
	  "allOf" : [
		{ "$ref" : "http://some_host.com/string.json" }
	  ]
	}`
	userSchema = `{
		"$id": "https://example.com/schemas/user.json",
		"type": "object",
		"required": ["name"],
		"properties": {
			"_id": {"type": "string"},
			"name": {"type": "string", "minLength": 1},
			"email": {"type": "string"}
		}
	}`
)

func TestValidateString(t *testing.T) {
	v, err := schema.NewValidator([]string{shortString, anyString}, []string{refString, refMaxLength})
	require.NoError(t, err)

	assert.NoError(t, v.ValidateString(`"short"`, "http://some_host.com/short.json"))
	err = v.ValidateString(`"a very long string"`, "http://some_host.com/short.json")
	assert.True(t, errors.Is(err, schema.ErrInvalid), err)
	assert.NoError(t, v.ValidateString(`"a very long string"`, "http://some_host.com/any.json"))

	err = v.ValidateString(`"x"`, "http://some_host.com/nope.json")
	assert.True(t, errors.Is(err, schema.ErrUnknownSchema))
}

func TestValidateStruct(t *testing.T) {
	type user struct {
		Name  string `json:"name"`
		Email string `json:"email,omitempty"`
	}
	v, err := schema.NewValidator([]string{userSchema}, nil)
	require.NoError(t, err)
	id := "https://example.com/schemas/user.json"
	assert.True(t, v.HasSchema(id))

	assert.NoError(t, v.ValidateStruct(user{Name: "Ann"}, id))
	assert.Error(t, v.ValidateStruct(user{}, id))
}

func TestValidateBytes(t *testing.T) {
	v, err := schema.NewValidator([]string{userSchema}, nil)
	require.NoError(t, err)
	id := "https://example.com/schemas/user.json"

	assert.NoError(t, v.ValidateBytes([]byte(`{"name":"Ann"}`), id))
	assert.True(t, errors.Is(v.ValidateBytes([]byte(`{"email":"a@b.c"}`), id), schema.ErrInvalid))
	assert.True(t, errors.Is(v.ValidateBytes([]byte(`{"name":`), id), schema.ErrInvalid))
}

func TestNewValidatorErrors(t *testing.T) {
	_, err := schema.NewValidator([]string{`{"type":"string"}`}, nil)
	assert.Error(t, err, "schema without $id")
	_, err = schema.NewValidator([]string{`{"$id":`}, nil)
	assert.Error(t, err)
}

func TestNewValidatorFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"short.json":          {Data: []byte(shortString)},
		"README.md":           {Data: []byte("not a schema")},
		"refs/string.json":    {Data: []byte(refString)},
		"refs/maxlength.json": {Data: []byte(refMaxLength)},
	}
	v, err := schema.NewValidatorFromFS(fsys)
	require.NoError(t, err)
	assert.True(t, v.HasSchema("http://some_host.com/short.json"))
	assert.False(t, v.HasSchema("http://some_host.com/string.json"))

	v, err = schema.NewValidatorFromFS(fstest.MapFS{"user.json": {Data: []byte(userSchema)}})
	require.NoError(t, err)
	assert.True(t, v.HasSchema("https://example.com/schemas/user.json"))
}
