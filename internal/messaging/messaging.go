package messaging

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultRequestQueue   = "translator.requests"
	DefaultEventsExchange = "translator.events"
	RetryDelay            = 5 * time.Second
	MaxConnectRetry       = 5

	// Protocol tags reported in published event metadata.
	AMQPProtocol     = "AMQP_PUB_SUB"
	InMemoryProtocol = "INMEMORY_PUB_SUB"
)

var ErrClosed = errors.New("messaging channel is closed")

// Delivery is one inbound multipart message. Frame 0 is the JSON envelope,
// any following frames are raw binary payloads.
type Delivery interface {
	Frames() [][]byte

	Ack() error

	Reject() error
}

type Publisher interface {
	Publish(ctx context.Context, frames [][]byte) error

	Close()
}

type Receiver interface {
	Deliveries() <-chan Delivery

	Close()
}
