// Package outbox defines the event contract shared by publishers, the
// in-process bus and the broker relay.
package outbox

import "context"

type Event interface {
	EventName() string
}

// Keyed events carry the aggregate key external brokers partition on.
// For order events that key is the order reference.
type Keyed interface {
	EventKey() string
}

// OrderScoped events name the internal identifier of the order they concern.
type OrderScoped interface {
	EventOrderID() string
}

type Handler func(ctx context.Context, e Event) error

// Middleware decorates a Handler, e.g. with a scoped logger.
type Middleware func(Handler) Handler

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber registers handlers by event name. Several handlers may share a name.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}
