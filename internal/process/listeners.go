package process

import "sync"

// Stream names one of the daemon's output streams.
type Stream string

// Output streams.
const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// DefaultLabel is the label observers are registered under when none is given.
// The observers installed by Start live under it, so listening on it replaces them.
const DefaultLabel = "data"

// Observer receives output lines, without the trailing newline.
type Observer func(line string)

// CloseObserver is called with the exit code when the daemon exits on its own.
type CloseObserver func(code int)

// Listeners overrides the observers Start installs. Nil fields keep the defaults.
type Listeners struct {
	Stdout Observer
	Stderr Observer
	Close  CloseObserver
}

// registry maps labels to observers for one stream.
// Observers run in the order their labels were first registered.
type registry struct {
	mu        sync.RWMutex
	labels    []string
	observers map[string]Observer
}

func newRegistry() *registry {
	return &registry{observers: make(map[string]Observer)}
}

func (r *registry) set(label string, obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.observers[label]; !exists {
		r.labels = append(r.labels, label)
	}
	r.observers[label] = obs
}

func (r *registry) remove(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.observers[label]; !exists {
		return
	}
	delete(r.observers, label)
	for i, l := range r.labels {
		if l == label {
			r.labels = append(r.labels[:i], r.labels[i+1:]...)
			break
		}
	}
}

func (r *registry) labelsSnapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.labels...)
}

// dispatch calls every observer with line. Observers are copied first so
// they can register or remove labels themselves.
func (r *registry) dispatch(line string) {
	r.mu.RLock()
	observers := make([]Observer, 0, len(r.labels))
	for _, l := range r.labels {
		observers = append(observers, r.observers[l])
	}
	r.mu.RUnlock()

	for _, obs := range observers {
		obs(line)
	}
}
