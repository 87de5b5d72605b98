// Package hooks is the notification collaborator consumed by the entry store:
// an in-process bus with global ("*") and per-type subscribers.
package hooks

import (
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownEvent = errors.New("unsupported hook event")

const (
	PreCreate     = "pre_create"
	PostCreate    = "post_create"
	PreUpdate     = "pre_update"
	PostUpdate    = "post_update"
	PreDelete     = "pre_delete"
	PostDelete    = "post_delete"
	PrePublish    = "pre_publish"
	PostPublish   = "post_publish"
	PreUnpublish  = "pre_unpublish"
	PostUnpublish = "post_unpublish"
)

var events = map[string]struct{}{
	PreCreate: {}, PostCreate: {},
	PreUpdate: {}, PostUpdate: {},
	PreDelete: {}, PostDelete: {},
	PrePublish: {}, PostPublish: {},
	PreUnpublish: {}, PostUnpublish: {},
}

// Payload carries the entity context of an event. Data holds the record as it
// was at publish time; for pre_create it is the incoming attribute map.
type Payload struct {
	TypeSlug string
	EntityId string
	Data     map[string]interface{}
}

type Handler func(event string, payload Payload)

type Bus struct {
	mu sync.RWMutex

	// event -> type slug (or "*") -> handlers
	handlers map[string]map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string]map[string][]Handler)}
}

func (b *Bus) Subscribe(event, typeSlug string, handler Handler) error {
	if _, ok := events[event]; !ok {
		return fmt.Errorf("%w: '%v'", ErrUnknownEvent, event)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[event] == nil {
		b.handlers[event] = make(map[string][]Handler)
	}
	b.handlers[event][typeSlug] = append(b.handlers[event][typeSlug], handler)
	return nil
}

// Publish dispatches to global subscribers first, then to the subscribers of
// the payload's type slug. Handlers run synchronously on the caller.
func (b *Bus) Publish(event string, payload Payload) error {
	if _, ok := events[event]; !ok {
		return fmt.Errorf("%w: '%v'", ErrUnknownEvent, event)
	}

	b.mu.RLock()
	var run []Handler
	if byslug := b.handlers[event]; byslug != nil {
		run = append(run, byslug["*"]...)
		if payload.TypeSlug != "" {
			run = append(run, byslug[payload.TypeSlug]...)
		}
	}
	b.mu.RUnlock()

	for _, handler := range run {
		handler(event, payload)
	}
	return nil
}
