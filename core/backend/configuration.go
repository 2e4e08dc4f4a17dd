// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"fmt"
	"regexp"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/crudroutes/core"
	"github.com/relabs-tech/crudroutes/core/access"
)

// Configuration holds a complete backend configuration
type Configuration struct {
	Collections []CollectionConfiguration `json:"collections"`
}

// CollectionConfiguration describes a collection resource
type CollectionConfiguration struct {
	Resource      string          `json:"resource"`
	Permits       []access.Permit `json:"permits"`
	Description   string          `json:"description"`
	SchemaID      string          `json:"schema_id"`
	Notifications bool            `json:"notifications"`
}

// Path returns the route prefix of the collection, e.g. "/users" for resource "user"
func (c CollectionConfiguration) Path() string {
	return "/" + core.Plural(c.Resource)
}

// Name returns the name of the collection in the store
func (c CollectionConfiguration) Name() string {
	return core.Plural(c.Resource)
}

var resourcePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ParseConfiguration parses and checks a JSON configuration
func ParseConfiguration(config string) (*Configuration, error) {
	var c Configuration
	if err := json.Unmarshal([]byte(config), &c); err != nil {
		return nil, fmt.Errorf("parse error in backend configuration: %w", err)
	}
	// resources sharing a plural would share a collection and its routes
	seen := map[string]string{}
	for _, cc := range c.Collections {
		if !resourcePattern.MatchString(cc.Resource) {
			return nil, fmt.Errorf("invalid resource name '%s'", cc.Resource)
		}
		if other, ok := seen[cc.Name()]; ok {
			if other == cc.Resource {
				return nil, fmt.Errorf("resource '%s' is configured twice", cc.Resource)
			}
			return nil, fmt.Errorf("resources '%s' and '%s' both map to collection '%s'", other, cc.Resource, cc.Name())
		}
		seen[cc.Name()] = cc.Resource
	}
	return &c, nil
}
