// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package crud

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/crudroutes/core/logger"
	"github.com/relabs-tech/crudroutes/core/schema"
	"github.com/relabs-tech/crudroutes/core/store"
)

var (
	// ErrMalformedBody is returned for request bodies which cannot be read or parsed
	ErrMalformedBody = errors.New("malformed body")
	// ErrIdentifierMismatch is returned when the key in the body differs from the key in the path
	ErrIdentifierMismatch = errors.New("identifier mismatch")
	// ErrBodyTooLarge is returned for request bodies above the size limit
	ErrBodyTooLarge = errors.New("body too large")
)

// ErrorResponse is the JSON body of every error response
type ErrorResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// StatusOf maps an error of a handler to its HTTP status
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrMalformedKey),
		errors.Is(err, store.ErrInvalidRecord),
		errors.Is(err, schema.ErrInvalid),
		errors.Is(err, ErrMalformedBody),
		errors.Is(err, ErrIdentifierMismatch):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

// writeError answers the request with the status of err. Server side failures are logged
// and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	msg := err.Error()
	if status >= 500 {
		logger.FromContext(r.Context()).WithError(err).Errorf("%s %s failed", r.Method, r.URL)
		msg = http.StatusText(status)
	}
	WriteErrorResponse(w, status, msg)
}

// WriteErrorResponse writes a JSON error body with status
func WriteErrorResponse(w http.ResponseWriter, status int, msg string) {
	body, _ := json.Marshal(ErrorResponse{Status: status, Error: msg})
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	w.Write(body)
}
