// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Operation represents a storage operation of a generated route, one of List, Read, Create, Update, Delete
type Operation string

// all supported collection operations
const (
	OperationList   Operation = "list"
	OperationRead   Operation = "read"
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Operations returns all supported operations in route order
func Operations() []Operation {
	return []Operation{OperationList, OperationRead, OperationCreate, OperationUpdate, OperationDelete}
}

// IsValid returns true if o is one of the supported operations
func (o Operation) IsValid() bool {
	switch o {
	case OperationList, OperationRead, OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// IsMutation returns true for operations which change the collection
func (o Operation) IsMutation() bool {
	return o == OperationCreate || o == OperationUpdate || o == OperationDelete
}

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	op := Operation(strings.ToLower(s))
	if !op.IsValid() {
		return fmt.Errorf("%s is not valid Operation", s)
	}
	*o = op
	return nil
}

// ParseOperations parses a comma separated list of operations, like "list,read".
// The wildcard "*" stands for all operations.
func ParseOperations(s string) ([]Operation, error) {
	var result []Operation
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "*" {
			return Operations(), nil
		}
		op := Operation(strings.ToLower(part))
		if !op.IsValid() {
			return nil, fmt.Errorf("%s is not valid Operation", part)
		}
		result = append(result, op)
	}
	return result, nil
}

// Plural returns the plural form of the passed singular string.
//
// This is the algorithm used to create idiomatic REST route prefixes
func Plural(singular string) string {
	if strings.HasSuffix(singular, "y") {
		return strings.TrimSuffix(singular, "y") + "ies"
	}
	if strings.HasSuffix(singular, "child") {
		return strings.TrimSuffix(singular, "child") + "children"
	}
	return singular + "s"
}
