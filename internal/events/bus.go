package events

import (
	"reflect"

	"github.com/kelindar/event"
)

// route knows how to publish one concrete event type and how to subscribe
// a func of that type.
type route struct {
	publish   func(*event.Dispatcher, Event)
	subscribe func(*event.Dispatcher, any) func()
}

var (
	byEvent   = map[reflect.Type]route{}
	byHandler = map[reflect.Type]route{}
)

// register makes T publishable on a Bus and lets func(T) handlers subscribe.
func register[T Event]() {
	r := route{
		publish: func(d *event.Dispatcher, ev Event) {
			event.Publish(d, ev.(T))
		},
		subscribe: func(d *event.Dispatcher, h any) func() {
			return event.Subscribe(d, h.(func(T)))
		},
	}
	byEvent[reflect.TypeFor[T]()] = r
	byHandler[reflect.TypeFor[func(T)]()] = r
}

func init() {
	register[NodeStateChangedEvent]()
	register[NodeReadyEvent]()
	register[NodeExitedEvent]()
	register[NodeStartFailedEvent]()
	register[NodeOptionsReloadedEvent]()
	register[NodeOutputEvent]()
	register[LogEntryEvent]()
}

// Bus broadcasts typed events over a kelindar/event dispatcher.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates an event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish delivers ev to the subscribers of its concrete type.
// Unregistered types are ignored.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	if r, ok := byEvent[reflect.TypeOf(ev)]; ok {
		r.publish(b.dispatcher, ev)
	}
}

// Subscribe registers a func(XxxEvent) handler and returns its unsubscribe
// function. Handlers of any other type get a no-op.
//
//	unsub := bus.Subscribe(func(e NodeExitedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	if handler == nil {
		return func() {}
	}
	r, ok := byHandler[reflect.TypeOf(handler)]
	if !ok {
		return func() {}
	}
	return r.subscribe(b.dispatcher, handler)
}
