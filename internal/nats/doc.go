// Package nats connects gethkeeper to a NATS broker.
//
// # Components
//
//   - Bridge: publishes node events from the event bus and answers control requests
//   - Client: sends control requests (used by `gethkeeper ctl`)
//   - Server: optional embedded NATS server for hosts without a broker
//
// # Subject Hierarchy
//
//	gethkeeper.node.state          # NodeStateChangedEvent
//	gethkeeper.node.ready          # NodeReadyEvent
//	gethkeeper.node.exit           # NodeExitedEvent
//	gethkeeper.node.start_failed   # NodeStartFailedEvent
//	gethkeeper.node.options        # NodeOptionsReloadedEvent
//	gethkeeper.node.output         # NodeOutputEvent (only with publish_output)
//	gethkeeper.control             # request/reply control commands
//
// The prefix is configurable so several hosts can share one broker.
// Events are fire-and-forget core NATS messages, no JetStream.
//
// # Debugging with nats CLI
//
// Watch everything a node publishes:
//
//	nats sub "gethkeeper.node.>" -s nats://localhost:4222
//
// Restart the node:
//
//	nats req gethkeeper.control '{"action":"restart","reason":"manual"}'
//
// # Message Formats
//
// ControlMessage (gethkeeper.control):
//
//	{
//	  "action": "stop",
//	  "timestamp": "2024-01-01T12:00:00Z",
//	  "reason": "maintenance"
//	}
//
// ControlReply:
//
//	{
//	  "action": "stop",
//	  "success": true,
//	  "state": "stopped",
//	  "exit_code": 0
//	}
//
// Actions are start, stop, restart, reload and status. A failed command
// replies with success false and the error text.
package nats
