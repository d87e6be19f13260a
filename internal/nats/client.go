package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultRequestTimeout applies to requests whose context has no deadline.
const DefaultRequestTimeout = 60 * time.Second

// Client sends control commands to a gethkeeper bridge.
type Client struct {
	conn   *nats.Conn
	prefix string
}

// Dial connects a control client.
func Dial(url, prefix string) (*Client, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	conn, err := nats.Connect(url,
		nats.Name(prefix+"-ctl"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, err
	}

	return &Client{conn: conn, prefix: prefix}, nil
}

// Request sends action and waits for the bridge's reply. A reply with
// Success false is returned without an error.
func (c *Client) Request(ctx context.Context, action, reason string) (ControlReply, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}

	data, err := ControlMessage{
		Action:    action,
		Timestamp: time.Now().Format(time.RFC3339),
		Reason:    reason,
	}.Marshal()
	if err != nil {
		return ControlReply{}, err
	}

	msg, err := c.conn.RequestWithContext(ctx, SubjectControl(c.prefix), data)
	if err != nil {
		return ControlReply{}, fmt.Errorf("control request %q: %w", action, err)
	}
	return UnmarshalReply(msg.Data)
}

// Close closes the client connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
