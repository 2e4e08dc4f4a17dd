// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package crud

import (
	"errors"
	"net/http"

	"github.com/relabs-tech/crudroutes/core"
)

// Guard decides whether a request may perform operation op. It runs before any storage
// call. A non-nil error rejects the request; a *Rejection selects the response status,
// any other error is answered with 403 Forbidden.
type Guard interface {
	Allow(r *http.Request, op core.Operation) error
}

// GuardFunc is an adapter to use a function as Guard
type GuardFunc func(r *http.Request, op core.Operation) error

// Allow calls f(r, op)
func (f GuardFunc) Allow(r *http.Request, op core.Operation) error {
	return f(r, op)
}

// Rejection is the error a guard returns to deny a request with a specific status
type Rejection struct {
	Status int
	Reason string
}

func (e *Rejection) Error() string {
	if e.Reason == "" {
		return http.StatusText(e.Status)
	}
	return e.Reason
}

// Forbidden rejects a request of an authenticated caller
func Forbidden(reason string) error {
	return &Rejection{Status: http.StatusForbidden, Reason: reason}
}

// Unauthorized rejects a request of a caller which could not be authenticated
func Unauthorized(reason string) error {
	return &Rejection{Status: http.StatusUnauthorized, Reason: reason}
}

// rejectionStatus returns the response status for a guard error
func rejectionStatus(err error) int {
	var rejection *Rejection
	if errors.As(err, &rejection) && rejection.Status >= 400 && rejection.Status < 500 {
		return rejection.Status
	}
	return http.StatusForbidden
}
