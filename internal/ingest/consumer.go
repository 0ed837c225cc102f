package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	docqaerrors "github.com/Aman-CERP/docqa/internal/errors"
	"github.com/Aman-CERP/docqa/internal/index"
)

// DefaultReconnectDelay is the fixed wait between connection attempts.
const DefaultReconnectDelay = 5 * time.Second

// State is the consumer lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConsuming
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConsuming:
		return "consuming"
	case StateProcessing:
		return "processing"
	default:
		return "disconnected"
	}
}

// Indexer runs the index-document procedure for one job.
type Indexer interface {
	IndexDocument(ctx context.Context, req index.Request) (*index.Result, error)
}

// Config configures a Consumer.
type Config struct {
	// ReconnectDelay is waited after every failed or lost connection.
	ReconnectDelay time.Duration
	// MaxDeliveries stops requeueing a failing job on this attempt. 0 requeues forever.
	MaxDeliveries int
}

// Stats counts settled deliveries.
type Stats struct {
	Acked        int64
	Requeued     int64
	DeadLettered int64
	Reconnects   int64
}

// Consumer pulls jobs from a Transport one at a time. A job is acked after
// it has been indexed and nacked otherwise. Connection problems never stop
// the consumer; it waits ReconnectDelay and connects again.
type Consumer struct {
	transport Transport
	indexer   Indexer
	cfg       Config

	state        atomic.Int32
	acked        atomic.Int64
	requeued     atomic.Int64
	deadLettered atomic.Int64
	reconnects   atomic.Int64
}

// NewConsumer creates a Consumer.
func NewConsumer(transport Transport, indexer Indexer, cfg Config) (*Consumer, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if indexer == nil {
		return nil, errors.New("indexer is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxDeliveries < 0 {
		cfg.MaxDeliveries = 0
	}
	return &Consumer{transport: transport, indexer: indexer, cfg: cfg}, nil
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

// Stats returns delivery counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Acked:        c.acked.Load(),
		Requeued:     c.requeued.Load(),
		DeadLettered: c.deadLettered.Load(),
		Reconnects:   c.reconnects.Load(),
	}
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return nil
		}

		c.setState(StateConnecting)
		sess, err := c.transport.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.setState(StateDisconnected)
			slog.Warn("queue_connect_failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", c.cfg.ReconnectDelay))
			if !c.wait(ctx) {
				return nil
			}
			continue
		}

		slog.Info("queue_connected")
		err = c.consume(ctx, sess)
		_ = sess.Close()
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return nil
		}

		c.reconnects.Add(1)
		slog.Warn("queue_disconnected",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", c.cfg.ReconnectDelay))
		if !c.wait(ctx) {
			return nil
		}
	}
}

// consume handles deliveries until the session fails or ctx ends.
func (c *Consumer) consume(ctx context.Context, sess Session) error {
	c.setState(StateConsuming)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sess.Closed():
			if err == nil {
				err = ErrSessionClosed
			}
			return err
		case d, ok := <-sess.Deliveries():
			if !ok {
				return ErrSessionClosed
			}
			c.setState(StateProcessing)
			err := c.handle(ctx, d)
			c.setState(StateConsuming)
			if err != nil {
				return err
			}
		}
	}
}

// handle processes one delivery. Only a failure to settle the delivery is
// returned, since that means the channel is gone.
func (c *Consumer) handle(ctx context.Context, d Delivery) error {
	start := time.Now()

	res, err := c.process(ctx, d)
	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			return fmt.Errorf("ack delivery %s: %w", d.ID, ackErr)
		}
		c.acked.Add(1)
		slog.Info("job_acked",
			slog.String("delivery_id", d.ID),
			slog.Int64("document_id", res.DocumentID),
			slog.Int("chunks", res.ChunksCount),
			slog.Duration("duration", time.Since(start)))
		return nil
	}

	requeue := c.cfg.MaxDeliveries == 0 || d.Attempt < c.cfg.MaxDeliveries
	if nackErr := d.Nack(requeue); nackErr != nil {
		return fmt.Errorf("nack delivery %s: %w", d.ID, nackErr)
	}

	attrs := []any{
		slog.String("delivery_id", d.ID),
		slog.Int("attempt", d.Attempt),
		slog.String("code", docqaerrors.GetCode(err)),
		slog.String("error", err.Error()),
	}
	if requeue {
		c.requeued.Add(1)
		slog.Warn("job_requeued", attrs...)
	} else {
		c.deadLettered.Add(1)
		slog.Error("job_dead_lettered", attrs...)
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, d Delivery) (*index.Result, error) {
	job, err := DecodeJob(d.Body)
	if err != nil {
		return nil, err
	}
	return c.indexer.IndexDocument(ctx, job.Request())
}

// wait sleeps ReconnectDelay. Returns false if ctx ended first.
func (c *Consumer) wait(ctx context.Context) bool {
	t := time.NewTimer(c.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
