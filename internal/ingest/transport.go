// Package ingest runs the queue consumer that turns index jobs into
// indexed passages, acknowledging each delivery once it has been handled.
package ingest

import (
	"context"
	"errors"
)

// ErrSessionClosed is reported when a session ends without a broker error.
var ErrSessionClosed = errors.New("queue session closed")

// Acknowledger settles one delivery.
type Acknowledger interface {
	Ack() error
	Nack(requeue bool) error
}

// Delivery is one message handed to the consumer.
type Delivery struct {
	// ID correlates log lines for one delivery.
	ID   string
	Body []byte
	// Attempt is 1 on first delivery and grows with each redelivery when the
	// broker reports it.
	Attempt      int
	Acknowledger Acknowledger
}

// Ack removes the message from the queue.
func (d Delivery) Ack() error { return d.Acknowledger.Ack() }

// Nack rejects the message, optionally putting it back on the queue.
func (d Delivery) Nack(requeue bool) error { return d.Acknowledger.Nack(requeue) }

// Transport opens consuming sessions on the ingestion queue.
type Transport interface {
	// Connect declares the durable queue and starts consuming it.
	Connect(ctx context.Context) (Session, error)
}

// Session is one live connection to the queue.
type Session interface {
	// Deliveries is closed when the session ends.
	Deliveries() <-chan Delivery
	// Closed yields the error that ended the session.
	Closed() <-chan error
	Close() error
}
