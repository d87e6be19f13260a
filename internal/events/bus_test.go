package events

import (
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"
)

// roundTrip publishes ev and returns what a func(T) subscriber saw.
func roundTrip[T Event](t *testing.T, bus *Bus, ev T) T {
	t.Helper()
	got := make(chan T, 1)
	unsub := bus.Subscribe(func(e T) { got <- e })
	defer unsub()

	bus.Publish(ev)
	select {
	case e := <-got:
		return e
	case <-time.After(time.Second):
		t.Fatalf("%T not delivered", ev)
		var zero T
		return zero
	}
}

func TestBusDeliversEveryEventType(t *testing.T) {
	bus := New()

	ready := NodeReadyEvent{PID: 4242, RunID: "run-1", Seconds: 1.5, Timestamp: "2025-01-27T10:30:00Z"}
	if got := roundTrip(t, bus, ready); got != ready {
		t.Errorf("ready = %+v, want %+v", got, ready)
	}
	exited := NodeExitedEvent{PID: 1, ExitCode: 2, Expected: true}
	if got := roundTrip(t, bus, exited); got != exited {
		t.Errorf("exited = %+v, want %+v", got, exited)
	}
	state := NodeStateChangedEvent{OldState: "starting", NewState: "running"}
	if got := roundTrip(t, bus, state); got != state {
		t.Errorf("state = %+v, want %+v", got, state)
	}
	failed := NodeStartFailedEvent{Error: "boom"}
	if got := roundTrip(t, bus, failed); got != failed {
		t.Errorf("failed = %+v, want %+v", got, failed)
	}
	reloaded := NodeOptionsReloadedEvent{Path: "geth.toml"}
	if got := roundTrip(t, bus, reloaded); !reflect.DeepEqual(got, reloaded) {
		t.Errorf("reloaded = %+v, want %+v", got, reloaded)
	}
	output := NodeOutputEvent{Stream: "stderr", Line: "IPC endpoint opened"}
	if got := roundTrip(t, bus, output); !reflect.DeepEqual(got, output) {
		t.Errorf("output = %+v, want %+v", got, output)
	}
	entry := LogEntryEvent{Level: "info", Message: "Node ready"}
	if got := roundTrip(t, bus, entry); !reflect.DeepEqual(got, entry) {
		t.Errorf("entry = %+v, want %+v", got, entry)
	}
}

func TestBusRoutesAreComplete(t *testing.T) {
	if len(byEvent) != len(byHandler) {
		t.Fatalf("byEvent has %d routes, byHandler %d", len(byEvent), len(byHandler))
	}
	for typ := range byEvent {
		if _, ok := byHandler[reflect.FuncOf([]reflect.Type{typ}, nil, false)]; !ok {
			t.Errorf("no handler route for %v", typ)
		}
	}
}

func TestBusOnlyMatchingSubscribersRun(t *testing.T) {
	bus := New()
	var mu sync.Mutex
	var calls []string
	record := func(name string) {
		mu.Lock()
		calls = append(calls, name)
		mu.Unlock()
	}

	defer bus.Subscribe(func(NodeReadyEvent) { record("ready-1") })()
	defer bus.Subscribe(func(NodeReadyEvent) { record("ready-2") })()
	defer bus.Subscribe(func(NodeExitedEvent) { record("exited") })()

	bus.Publish(NodeReadyEvent{PID: 1})
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(calls)
		mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("calls = %v, want both ready subscribers only", calls)
	}
	for _, c := range calls {
		if c == "exited" {
			t.Errorf("exited subscriber saw a ready event")
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := New()
	received := make(chan NodeStartFailedEvent, 2)
	unsub := bus.Subscribe(func(e NodeStartFailedEvent) { received <- e })

	bus.Publish(NodeStartFailedEvent{Error: "first"})
	<-received
	unsub()
	bus.Publish(NodeStartFailedEvent{Error: "second"})

	select {
	case e := <-received:
		t.Fatalf("received %+v after unsubscribe", e)
	case <-time.After(20 * time.Millisecond):
	}
}

type strayEvent struct{}

func (strayEvent) Type() uint32 { return 999 }

func TestBusIgnoresUnknownTypes(t *testing.T) {
	bus := New()

	unsub := bus.Subscribe(func(string) {})
	unsub()
	bus.Subscribe(nil)()

	bus.Publish(nil)
	bus.Publish(strayEvent{})
	// Pointer events are a different type from the registered value types.
	bus.Publish(&NodeReadyEvent{})
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := New()
	const publishers, perPublisher = 10, 100

	received := make(chan struct{}, publishers*perPublisher)
	defer bus.Subscribe(func(NodeStateChangedEvent) { received <- struct{}{} })()

	var wg sync.WaitGroup
	for range publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perPublisher {
				bus.Publish(NodeStateChangedEvent{
					OldState:  "starting",
					NewState:  "running",
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}
	wg.Wait()

	for i := range publishers * perPublisher {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d events delivered", i, publishers*perPublisher)
		}
	}
}

func TestNodeStateChangedEventOmitsEmptyError(t *testing.T) {
	data, err := json.Marshal(NodeStateChangedEvent{OldState: "running", NewState: "stopping"})
	if err != nil {
		t.Fatal(err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if _, ok := result["error"]; ok {
		t.Errorf("error field should be omitted: %s", data)
	}
	if result["new_state"] != "stopping" {
		t.Errorf("new_state = %v", result["new_state"])
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)
	defer SubscribeToChannel[NodeExitedEvent](bus, ch)()

	bus.Publish(NodeExitedEvent{PID: 7, ExitCode: 1})

	select {
	case got := <-ch:
		ev, ok := got.(NodeExitedEvent)
		if !ok || ev.PID != 7 {
			t.Errorf("got %#v, want NodeExitedEvent with pid 7", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}
}

func TestSubscribeToChannelDropsWhenFull(t *testing.T) {
	bus := New()
	ch := make(chan any)
	defer SubscribeToChannel[NodeReadyEvent](bus, ch)()

	done := make(chan struct{})
	go func() {
		bus.Publish(NodeReadyEvent{PID: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full channel")
	}
}
