package transport

import (
	"encoding/json"
	"errors"
)

// Action is a subscription control verb.
type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
)

// Status is the push channel connection state shown to UI surfaces.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusReconnecting Status = "reconnecting"
	StatusClosed       Status = "closed"
)

// Inbound envelope types handled by the manager itself. Everything else is
// handed to the Listener.
const (
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeHeartbeat    = "heartbeat"
	TypePong         = "pong"
	TypeError        = "error"
)

var (
	// ErrNotConnected is returned for control messages sent while offline.
	ErrNotConnected = errors.New("push channel not connected")

	// ErrRetriesExhausted ends Run once the reconnect budget is spent.
	ErrRetriesExhausted = errors.New("push channel retry budget exhausted")
)

// Envelope is one inbound frame: {type, topic?, data}.
type Envelope struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Control is an outbound subscription control message.
type Control struct {
	Action Action `json:"action"`
	Topic  string `json:"topic"`
}

// Listener receives channel events. Calls for one connection arrive in order:
// Connected, then acks and envelopes in wire order, then Disconnected.
type Listener interface {
	StatusChanged(status Status)
	Connected()
	Disconnected(err error)
	Acknowledged(action Action, topic string)
	Received(env Envelope)
}
