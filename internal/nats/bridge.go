package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/gethkeeper/internal/events"
	"github.com/smazurov/gethkeeper/internal/logging"
	"github.com/smazurov/gethkeeper/internal/process"
)

// NodeController is the part of the node service the control subject drives.
type NodeController interface {
	Start(ctx context.Context) (process.Info, error)
	Stop(ctx context.Context) (int, error)
	Restart(ctx context.Context) (process.Info, error)
	Reload(ctx context.Context) (bool, error)
	Status() process.Info
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	URL      string
	Prefix   string // default DefaultPrefix
	EventBus *events.Bus
	// Node enables the control subject when set.
	Node NodeController
	// PublishOutput forwards every node output line. Off by default.
	PublishOutput bool
	// ControlTimeout bounds one control command. Default is 60s.
	ControlTimeout time.Duration
	Logger         logging.Logger
}

// Bridge publishes node events to NATS and answers control requests.
type Bridge struct {
	opts   BridgeOptions
	logger logging.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	sub    *nats.Subscription
	unsubs []func()
}

// NewBridge creates a bridge. It does not connect until Start.
func NewBridge(opts BridgeOptions) *Bridge {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.ControlTimeout <= 0 {
		opts.ControlTimeout = 60 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("nats")
	}
	return &Bridge{opts: opts, logger: logger}
}

// Start connects to NATS, forwards bus events and subscribes to the
// control subject.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return errors.New("NATS bridge already started")
	}
	if b.opts.EventBus == nil {
		return errors.New("NATS bridge needs an event bus")
	}

	conn, err := nats.Connect(b.opts.URL,
		nats.Name(b.opts.Prefix+"-bridge"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS bridge disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.logger.Info("NATS bridge reconnected")
		}),
	)
	if err != nil {
		return err
	}
	b.conn = conn

	if b.opts.Node != nil {
		sub, subErr := conn.Subscribe(SubjectControl(b.opts.Prefix), b.handleControl)
		if subErr != nil {
			conn.Close()
			b.conn = nil
			return subErr
		}
		b.sub = sub
	}

	bus, prefix := b.opts.EventBus, b.opts.Prefix
	b.unsubs = append(b.unsubs,
		bus.Subscribe(forward[events.NodeStateChangedEvent](b, SubjectNodeState(prefix))),
		bus.Subscribe(forward[events.NodeReadyEvent](b, SubjectNodeReady(prefix))),
		bus.Subscribe(forward[events.NodeExitedEvent](b, SubjectNodeExit(prefix))),
		bus.Subscribe(forward[events.NodeStartFailedEvent](b, SubjectNodeStartFailed(prefix))),
		bus.Subscribe(forward[events.NodeOptionsReloadedEvent](b, SubjectNodeOptions(prefix))),
	)
	if b.opts.PublishOutput {
		b.unsubs = append(b.unsubs, bus.Subscribe(forward[events.NodeOutputEvent](b, SubjectNodeOutput(prefix))))
	}

	b.logger.Info("NATS bridge connected", "url", conn.ConnectedUrl(), "prefix", prefix, "control", b.sub != nil)
	return nil
}

// forward returns a bus handler that publishes events of type T as JSON.
func forward[T any](b *Bridge, subject string) func(T) {
	return func(event T) {
		data, err := json.Marshal(event)
		if err != nil {
			b.logger.Warn("Failed to marshal event", "subject", subject, "error", err)
			return
		}

		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}

		if err := conn.Publish(subject, data); err != nil {
			b.logger.Warn("Failed to publish event", "subject", subject, "error", err)
		}
	}
}

// handleControl runs one control command and replies with the outcome.
func (b *Bridge) handleControl(msg *nats.Msg) {
	ctrl, err := UnmarshalControl(msg.Data)
	if err != nil {
		b.logger.Warn("Failed to unmarshal control message", "error", err)
		b.respond(msg, ControlReply{Error: fmt.Sprintf("invalid control message: %v", err)})
		return
	}

	b.logger.Info("Received control command", "action", ctrl.Action, "reason", ctrl.Reason)

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.ControlTimeout)
	defer cancel()

	reply := ControlReply{Action: ctrl.Action}
	node := b.opts.Node
	var opErr error
	switch ctrl.Action {
	case ActionStart:
		_, opErr = node.Start(ctx)
	case ActionRestart:
		_, opErr = node.Restart(ctx)
	case ActionStop:
		var code int
		code, opErr = node.Stop(ctx)
		if opErr == nil {
			reply.ExitCode = &code
		}
	case ActionReload:
		var restarted bool
		restarted, opErr = node.Reload(ctx)
		if opErr == nil {
			reply.Restarted = &restarted
		}
	case ActionStatus:
	default:
		opErr = fmt.Errorf("unknown action %q", ctrl.Action)
	}

	info := node.Status()
	reply.State = string(info.State)
	reply.PID = info.PID
	reply.RunID = info.RunID
	reply.Success = opErr == nil
	if opErr != nil {
		reply.Error = opErr.Error()
		b.logger.Warn("Control command failed", "action", ctrl.Action, "error", opErr)
	}
	b.respond(msg, reply)
}

func (b *Bridge) respond(msg *nats.Msg, reply ControlReply) {
	if msg.Reply == "" {
		return
	}
	data, err := reply.Marshal()
	if err != nil {
		b.logger.Warn("Failed to marshal control reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Warn("Failed to send control reply", "error", err)
	}
}

// Stop unsubscribes everything and closes the bridge connection.
func (b *Bridge) Stop() {
	b.mu.Lock()
	conn, sub, unsubs := b.conn, b.sub, b.unsubs
	b.conn, b.sub, b.unsubs = nil, nil, nil
	b.mu.Unlock()

	if conn == nil {
		return
	}

	// Bus handlers take b.mu, so they are removed without holding it.
	for _, unsub := range unsubs {
		unsub()
	}
	if sub != nil {
		_ = sub.Unsubscribe()
	}
	_ = conn.Flush()
	conn.Close()
	b.logger.Info("NATS bridge stopped")
}

// IsConnected reports whether the bridge is connected to NATS.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}
