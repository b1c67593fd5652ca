package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// State is the lifecycle state of a task as seen by clients.
type State string

const (
	StatePending  State = "PENDING"
	StateStarted  State = "STARTED"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
	StateRetry    State = "RETRY"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateSuccess || s == StateFailure }

// ChordRef marks a message as member Index of a chord of Size members.
type ChordRef struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Size  int    `json:"size"`
}

// Message is the unit of work carried by a Queue.
type Message struct {
	ID       string            `json:"id"`
	Task     string            `json:"task"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Attempt  int               `json:"attempt"`
	Chord    *ChordRef         `json:"chord,omitempty"`
	Results  []json.RawMessage `json:"results,omitempty"`
	Enqueued time.Time         `json:"enqueued"`
}

// Delivery is a message handed to one worker. It stays owned by that worker
// until acknowledged.
type Delivery struct {
	Message Message
	Worker  string

	raw string   // encoded form, for queues that match on the payload
	ref *Message // identity, for in-process queues
}

// ErrEmpty is returned by Queue.Pop when nothing arrived before the timeout.
var ErrEmpty = errors.New("broker: queue empty")

// Queue moves messages from producers to workers with at-least-once
// delivery: a popped message is only forgotten once acknowledged.
type Queue interface {
	// Push enqueues msg, making it visible after delay.
	Push(ctx context.Context, msg Message, delay time.Duration) error
	// Pop blocks up to timeout for the next message.
	Pop(ctx context.Context, worker string, timeout time.Duration) (Delivery, error)
	// Ack forgets a delivery.
	Ack(ctx context.Context, d Delivery) error
	// Heartbeat records that worker is alive for ttl.
	Heartbeat(ctx context.Context, worker string, ttl time.Duration) error
	// Workers counts workers with a live heartbeat.
	Workers(ctx context.Context) (int, error)
	// Recover hands unacknowledged deliveries of dead workers back to the
	// queue and reports how many were moved.
	Recover(ctx context.Context) (int, error)
}

// Meta is the stored state of a task.
type Meta struct {
	ID      string          `json:"id"`
	Task    string          `json:"task"`
	State   State           `json:"state"`
	Result  json.RawMessage `json:"result,omitempty"`
	Ref     string          `json:"ref,omitempty"`
	Info    json.RawMessage `json:"info,omitempty"`
	Error   string          `json:"error,omitempty"`
	Retries int             `json:"retries"`
	Updated time.Time       `json:"updated"`
}

// Decode unmarshals the result into v.
func (m Meta) Decode(v any) error { return json.Unmarshal(m.Result, v) }

// DecodeInfo unmarshals the in-flight info (e.g. a progress snapshot) into v.
func (m Meta) DecodeInfo(v any) error { return json.Unmarshal(m.Info, v) }

// Reference is returned by a handler whose outcome is another task's result.
// The task is stored as SUCCESS pointing at TaskID.
type Reference struct {
	TaskID string
}

// Signature describes a task to be enqueued.
type Signature struct {
	// ID is optional; a random one is generated when empty.
	ID      string
	Task    string
	Payload any
}
