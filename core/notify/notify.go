// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package notify publishes change events of collections.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/crudroutes/core"
	"github.com/relabs-tech/crudroutes/core/logger"
)

// Event is a successful mutation of a record
type Event struct {
	Store      string          `json:"store"`
	Collection string          `json:"collection"`
	Operation  core.Operation  `json:"operation"`
	ResourceID string          `json:"resource_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Resource returns the qualified collection name of the event, e.g. "crm/users"
func (e Event) Resource() string {
	return e.Store + "/" + e.Collection
}

// Notifier receives change events
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc is an adapter to use a function as Notifier
type NotifierFunc func(ctx context.Context, event Event) error

// Notify calls f(ctx, event)
func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// LogNotifier writes every event to the request logger
type LogNotifier struct{}

// Notify logs the event at info level
func (LogNotifier) Notify(ctx context.Context, event Event) error {
	logger.FromContext(ctx).WithField("resource", event.Resource()).
		Infof("%s %s", event.Operation, event.ResourceID)
	return nil
}

type multi []Notifier

// Multi returns a notifier which forwards every event to all notifiers. All notifiers are
// called even if some of them fail; the errors are joined.
func Multi(notifiers ...Notifier) Notifier {
	return multi(notifiers)
}

func (m multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := callWithPanicEnvelope(ctx, n, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func callWithPanicEnvelope(ctx context.Context, n Notifier, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %v", r)
		}
	}()
	return n.Notify(ctx, event)
}
