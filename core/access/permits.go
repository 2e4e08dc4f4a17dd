// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/relabs-tech/crudroutes/core"
	"github.com/relabs-tech/crudroutes/core/crud"
)

// predefined roles
const (
	// RoleAdmin is authorized for everything, unless a permit for admin says otherwise
	RoleAdmin = "admin"
	// RoleEverybody stands for every authenticated role without a permit of its own
	RoleEverybody = "everybody"
	// RolePublic stands for every caller, authenticated or not
	RolePublic = "public"
)

// Permit grants operations to a role. With a selector, the permit only covers the one
// record whose key equals the authorization's selector for that resource, e.g. with
// Selector "user" a caller may only access the record with the key of its "user_id".
type Permit struct {
	Role       string           `json:"role"`
	Operations []core.Operation `json:"operations"`
	Selector   string           `json:"selector,omitempty"`
}

func (p Permit) grants(operation core.Operation) bool {
	for _, op := range p.Operations {
		if op == operation {
			return true
		}
	}
	return false
}

// IsAuthorized returns true if the authorization is authorized for operation on the record
// with key id according to permits. id is empty for list and create.
//
// The "admin" role is always authorized by default, unless a permit lists admin explicitly.
// Permits for "everybody" apply to all roles without permits of their own, permits for
// "public" apply to all callers, including those without authorization.
func (a *Authorization) IsAuthorized(operation core.Operation, id string, permits []Permit) bool {
	var roles []string
	if a != nil {
		roles = append(roles, a.Roles...)
	}
	roles = append(roles, RolePublic)

	byRole := map[string][]Permit{}
	for _, p := range permits {
		byRole[p.Role] = append(byRole[p.Role], p)
	}

	for _, role := range roles {
		rolePermits, ok := byRole[role]
		if !ok && role == RoleAdmin {
			return true
		}
		if !ok && role != RolePublic {
			rolePermits = byRole[RoleEverybody]
		}
		for _, p := range rolePermits {
			if !p.grants(operation) {
				continue
			}
			if p.Selector == "" {
				return true
			}
			if selected, ok := a.Selector(p.Selector); ok && id != "" && selected == id {
				return true
			}
		}
	}
	return false
}

// Permits is a guard for generated routes. Requests without authorization which are not
// covered by a public permit are rejected with 401, all others with 403.
type Permits []Permit

// Allow implements crud.Guard
func (p Permits) Allow(r *http.Request, operation core.Operation) error {
	auth := AuthorizationFromContext(r.Context())
	if auth.IsAuthorized(operation, crud.PathParam(r, crud.IDParam), p) {
		return nil
	}
	if auth == nil {
		return crud.Unauthorized("not authenticated")
	}
	return crud.Forbidden("not authorized")
}

// ParsePermits parses permits of the form
//
//	admin=*;everybody=list,read;user=read,update@user
//
// Roles are separated by ';'. Each role lists its operations as understood by
// core.ParseOperations, optionally followed by '@' and a selector.
func ParsePermits(s string) (Permits, error) {
	var permits Permits
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		role, rest, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(role) == "" {
			return nil, fmt.Errorf("permit '%s' is not of the form role=operations", part)
		}
		ops, selector, _ := strings.Cut(rest, "@")
		operations, err := core.ParseOperations(ops)
		if err != nil {
			return nil, fmt.Errorf("permit for %s: %w", role, err)
		}
		permits = append(permits, Permit{
			Role:       strings.TrimSpace(role),
			Operations: operations,
			Selector:   strings.TrimSpace(selector),
		})
	}
	return permits, nil
}
