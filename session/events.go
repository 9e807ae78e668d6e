package session

import (
	"sync"

	"github.com/mudlark/mudlark/style"
)

// EventHook is a type for function pointers that are registered to receive events
type EventHook[T any] func(s *Session, data T)

// EventPublisher is a type used to register and fire arbitrary events
type EventPublisher[U any] struct {
	lock sync.Mutex

	registeredHooks []EventHook[U]
}

// NewPublisher creates a new EventPublisher for a particular EventHook. A slice
// of hooks can be passed in, in which case the hooks will be registered to
// receive events from the publisher. Otherwise, nil can be passed in.
func NewPublisher[U any, T ~func(s *Session, data U)](hooks []T) *EventPublisher[U] {
	var convertedHooks []EventHook[U]

	for _, hook := range hooks {
		convertedHooks = append(convertedHooks, EventHook[U](hook))
	}

	return &EventPublisher[U]{
		registeredHooks: convertedHooks,
	}
}

// Register registers a single EventHook to receive events from this publisher.
func (e *EventPublisher[U]) Register(hook EventHook[U]) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.registeredHooks = append(e.registeredHooks, hook)
}

// Fire calls the event for all EventHook instances registered to this
// publisher with the provided parameters
func (e *EventPublisher[U]) Fire(s *Session, eventData U) {
	e.lock.Lock()
	defer e.lock.Unlock()

	for _, hook := range e.registeredHooks {
		hook(s, eventData)
	}
}

// DisconnectEvent carries the cause of a lost connection. Cause is nil
// for a manual disconnect.
type DisconnectEvent struct {
	Address string
	Cause   error
}

// ConnectedHandler is an event hook type fired once a connection reaches
// the ready state, with the remote address.
type ConnectedHandler func(s *Session, address string)

// DisconnectedHandler is an event hook type fired when the transport drops.
type DisconnectedHandler func(s *Session, event DisconnectEvent)

// LineHandler is an event hook type that receives each decoded server line
// before automation runs.
type LineHandler func(s *Session, line string)

// SentHandler is an event hook type that receives each command written to
// the transport, without its line terminator.
type SentHandler func(s *Session, command string)

// FragmentsHandler is an event hook type that receives batched styled
// fragments ready for rendering.
type FragmentsHandler func(s *Session, fragments []style.Fragment)

// EventHooks is used to pass in a set of pre-registered event hooks to a
// Session when calling New.
type EventHooks struct {
	Connected    []ConnectedHandler
	Disconnected []DisconnectedHandler
	LineReceived []LineHandler
	CommandSent  []SentHandler
	Fragments    []FragmentsHandler
}
