package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/gethkeeper/internal/events"
)

// registerSSERoutes registers the node event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time node lifecycle events. The current state is sent first.",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"node-state-changed":    events.NodeStateChangedEvent{},
		"node-ready":            events.NodeReadyEvent{},
		"node-exited":           events.NodeExitedEvent{},
		"node-start-failed":     events.NodeStartFailedEvent{},
		"node-options-reloaded": events.NodeOptionsReloadedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.NodeStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.NodeReadyEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.NodeExitedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.NodeStartFailedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.NodeOptionsReloadedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Current state so clients need no separate status request
		if s.node != nil {
			state := string(s.node.Status().State)
			if err := send.Data(events.NodeStateChangedEvent{
				OldState:  state,
				NewState:  state,
				Timestamp: time.Now().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}

		forward(ctx, eventCh, send)
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "node-output-stream",
		Method:      http.MethodGet,
		Path:        "/api/node/output/stream",
		Summary:     "Node Output Stream",
		Description: "Real-time geth stdout and stderr lines via Server-Sent Events",
		Tags:        []string{"node"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"node-output": events.NodeOutputEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// geth can be chatty while syncing
		eventCh := make(chan any, 256)
		unsubscribe := events.SubscribeToChannel[events.NodeOutputEvent](s.eventBus, eventCh)
		defer unsubscribe()

		forward(ctx, eventCh, send)
	})
}

// forward sends events until the client goes away.
func forward(ctx context.Context, eventCh <-chan any, send sse.Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventCh:
			if err := send.Data(event); err != nil {
				return
			}
		}
	}
}
