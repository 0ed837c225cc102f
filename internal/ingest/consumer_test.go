package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docqaerrors "github.com/Aman-CERP/docqa/internal/errors"
	"github.com/Aman-CERP/docqa/internal/index"
)

const waitFor = 2 * time.Second

type settlement struct {
	ID      string
	Acked   bool
	Requeue bool
}

type fakeAck struct {
	id  string
	out chan<- settlement
	err error
}

func (a fakeAck) Ack() error {
	if a.err != nil {
		return a.err
	}
	a.out <- settlement{ID: a.id, Acked: true}
	return nil
}

func (a fakeAck) Nack(requeue bool) error {
	if a.err != nil {
		return a.err
	}
	a.out <- settlement{ID: a.id, Requeue: requeue}
	return nil
}

type fakeSession struct {
	deliveries chan Delivery
	closed     chan error
	settled    chan settlement

	mu         sync.Mutex
	closeCalls int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		deliveries: make(chan Delivery),
		closed:     make(chan error, 1),
		settled:    make(chan settlement, 16),
	}
}

func (s *fakeSession) Deliveries() <-chan Delivery { return s.deliveries }
func (s *fakeSession) Closed() <-chan error        { return s.closed }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// deliver hands one message to the consumer and waits for its settlement.
func (s *fakeSession) deliver(t *testing.T, id, body string, attempt int) settlement {
	t.Helper()
	d := Delivery{ID: id, Body: []byte(body), Attempt: attempt, Acknowledger: fakeAck{id: id, out: s.settled}}
	select {
	case s.deliveries <- d:
	case <-time.After(waitFor):
		t.Fatalf("consumer did not take delivery %s", id)
	}
	select {
	case got := <-s.settled:
		return got
	case <-time.After(waitFor):
		t.Fatalf("delivery %s was not settled", id)
		return settlement{}
	}
}

type fakeTransport struct {
	sessions chan *fakeSession

	mu        sync.Mutex
	connects  int
	failFirst int
}

func newFakeTransport(failFirst int, sessions ...*fakeSession) *fakeTransport {
	t := &fakeTransport{sessions: make(chan *fakeSession, len(sessions)), failFirst: failFirst}
	for _, s := range sessions {
		t.sessions <- s
	}
	return t
}

func (t *fakeTransport) Connect(ctx context.Context) (Session, error) {
	t.mu.Lock()
	t.connects++
	n := t.connects
	t.mu.Unlock()

	if n <= t.failFirst {
		return nil, docqaerrors.TransientError(docqaerrors.ErrCodeQueueUnavailable, "dial broker", errors.New("connection refused"))
	}
	select {
	case s := <-t.sessions:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

type fakeIndexer struct {
	mu    sync.Mutex
	calls []index.Request
	fail  error
	block chan struct{}
}

func (f *fakeIndexer) IndexDocument(ctx context.Context, req index.Request) (*index.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fail, block := f.fail, f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail != nil {
		return nil, fail
	}
	return &index.Result{Status: index.StatusSuccess, DocumentID: req.DocumentID, ChunksCount: 1}, nil
}

func (f *fakeIndexer) requests() []index.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]index.Request(nil), f.calls...)
}

func (f *fakeIndexer) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

// startConsumer runs c until the test ends and returns a stop function that
// cancels it and waits for Run to return.
func startConsumer(t *testing.T, c *Consumer) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-done:
			case <-time.After(waitFor):
				t.Error("consumer did not stop")
			}
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func newTestConsumer(t *testing.T, tr Transport, idx Indexer, maxDeliveries int) *Consumer {
	t.Helper()
	c, err := NewConsumer(tr, idx, Config{ReconnectDelay: time.Millisecond, MaxDeliveries: maxDeliveries})
	require.NoError(t, err)
	return c
}

// TS01: A valid job is indexed and acked
func TestConsumer_AcksProcessedJob(t *testing.T) {
	sess := newFakeSession()
	idx := &fakeIndexer{}
	c := newTestConsumer(t, newFakeTransport(0, sess), idx, 0)
	startConsumer(t, c)

	got := sess.deliver(t, "m1", `{"document_id": 1, "content": "DIAGNOSTIC: grippe", "metadata": {"ward": "B"}}`, 1)

	assert.Equal(t, settlement{ID: "m1", Acked: true}, got)
	require.Len(t, idx.requests(), 1)
	assert.Equal(t, index.Request{DocumentID: 1, Content: "DIAGNOSTIC: grippe", Metadata: map[string]any{"ward": "B"}}, idx.requests()[0])
	assert.Equal(t, int64(1), c.Stats().Acked)
}

// TS02: An unparsable payload is requeued and the consumer keeps going
func TestConsumer_MalformedPayloadRequeuedAndConsumerSurvives(t *testing.T) {
	sess := newFakeSession()
	idx := &fakeIndexer{}
	c := newTestConsumer(t, newFakeTransport(0, sess), idx, 0)
	startConsumer(t, c)

	// When: garbage arrives first
	bad := sess.deliver(t, "bad", `{not json`, 1)

	// Then: it is nacked with requeue and never reaches the indexer
	assert.Equal(t, settlement{ID: "bad", Requeue: true}, bad)
	assert.Empty(t, idx.requests())

	// And: the next message is still processed
	good := sess.deliver(t, "good", `{"document_id": 2, "content": "x"}`, 1)
	assert.True(t, good.Acked)
	assert.Equal(t, Stats{Acked: 1, Requeued: 1}, c.Stats())
}

// TS03: A failing index run is requeued
func TestConsumer_IndexFailureRequeued(t *testing.T) {
	sess := newFakeSession()
	idx := &fakeIndexer{fail: docqaerrors.NotFoundError(9)}
	c := newTestConsumer(t, newFakeTransport(0, sess), idx, 0)
	startConsumer(t, c)

	got := sess.deliver(t, "m1", `{"document_id": 9, "content": "x"}`, 7)

	assert.Equal(t, settlement{ID: "m1", Requeue: true}, got)

	// And: the redelivery succeeds once the document exists
	idx.setFail(nil)
	got = sess.deliver(t, "m1", `{"document_id": 9, "content": "x"}`, 8)
	assert.True(t, got.Acked)
	assert.Len(t, idx.requests(), 2)
}

// TS04: The delivery limit stops requeueing a job
func TestConsumer_MaxDeliveries(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		requeue bool
	}{
		{"first attempt", 1, true},
		{"below limit", 2, true},
		{"at limit", 3, false},
		{"past limit", 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newFakeSession()
			c := newTestConsumer(t, newFakeTransport(0, sess), &fakeIndexer{}, 3)
			startConsumer(t, c)

			got := sess.deliver(t, "m", `[]`, tt.attempt)

			assert.False(t, got.Acked)
			assert.Equal(t, tt.requeue, got.Requeue)
			if !tt.requeue {
				assert.Equal(t, int64(1), c.Stats().DeadLettered)
			}
		})
	}
}

// TS05: Connection failures are retried until the broker is reachable
func TestConsumer_RetriesConnect(t *testing.T) {
	sess := newFakeSession()
	tr := newFakeTransport(2, sess)
	c := newTestConsumer(t, tr, &fakeIndexer{}, 0)
	startConsumer(t, c)

	got := sess.deliver(t, "m1", `{"document_id": 1}`, 1)

	assert.True(t, got.Acked)
	assert.Equal(t, 3, tr.connectCount())
}

// TS06: A lost session is closed and replaced
func TestConsumer_ReconnectsAfterTransportError(t *testing.T) {
	first, second := newFakeSession(), newFakeSession()
	tr := newFakeTransport(0, first, second)
	c := newTestConsumer(t, tr, &fakeIndexer{}, 0)
	startConsumer(t, c)

	assert.True(t, first.deliver(t, "a", `{"document_id": 1}`, 1).Acked)

	// When: the broker drops the connection
	first.closed <- errors.New("connection reset by peer")

	// Then: the consumer resumes on a new session
	assert.True(t, second.deliver(t, "b", `{"document_id": 2}`, 1).Acked)
	assert.Equal(t, 1, first.closeCount())
	assert.Equal(t, int64(1), c.Stats().Reconnects)
	assert.Equal(t, 2, tr.connectCount())
}

func TestConsumer_ReconnectsWhenDeliveriesClose(t *testing.T) {
	first, second := newFakeSession(), newFakeSession()
	c := newTestConsumer(t, newFakeTransport(0, first, second), &fakeIndexer{}, 0)
	startConsumer(t, c)

	close(first.deliveries)

	assert.True(t, second.deliver(t, "b", `{"document_id": 2}`, 1).Acked)
}

// TS07: A failed ack is treated as a lost channel
func TestConsumer_AckFailureReconnects(t *testing.T) {
	first, second := newFakeSession(), newFakeSession()
	tr := newFakeTransport(0, first, second)
	c := newTestConsumer(t, tr, &fakeIndexer{}, 0)
	startConsumer(t, c)

	d := Delivery{ID: "a", Body: []byte(`{"document_id": 1}`), Attempt: 1, Acknowledger: fakeAck{id: "a", err: errors.New("channel closed")}}
	select {
	case first.deliveries <- d:
	case <-time.After(waitFor):
		t.Fatal("consumer did not take delivery")
	}

	assert.True(t, second.deliver(t, "b", `{"document_id": 1}`, 2).Acked)
	assert.Equal(t, int64(1), c.Stats().Reconnects)
}

// TS08: State follows connect, consume and process
func TestConsumer_States(t *testing.T) {
	sess := newFakeSession()
	release := make(chan struct{})
	idx := &fakeIndexer{block: release}
	c := newTestConsumer(t, newFakeTransport(0, sess), idx, 0)
	assert.Equal(t, StateDisconnected, c.State())

	stop := startConsumer(t, c)
	assert.Eventually(t, func() bool { return c.State() == StateConsuming }, waitFor, time.Millisecond)

	sess.deliveries <- Delivery{ID: "m", Body: []byte(`{"document_id": 1}`), Attempt: 1, Acknowledger: fakeAck{id: "m", out: sess.settled}}
	assert.Eventually(t, func() bool { return c.State() == StateProcessing }, waitFor, time.Millisecond)

	close(release)
	<-sess.settled
	assert.Eventually(t, func() bool { return c.State() == StateConsuming }, waitFor, time.Millisecond)

	require.NoError(t, stop())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConsumer_StopsWhileWaitingToReconnect(t *testing.T) {
	tr := newFakeTransport(1_000_000)
	c, err := NewConsumer(tr, &fakeIndexer{}, Config{ReconnectDelay: time.Hour})
	require.NoError(t, err)
	stop := startConsumer(t, c)

	assert.Eventually(t, func() bool { return tr.connectCount() == 1 }, waitFor, time.Millisecond)
	assert.NoError(t, stop())
	assert.Equal(t, 1, tr.connectCount())
}

func TestNewConsumer(t *testing.T) {
	_, err := NewConsumer(nil, &fakeIndexer{}, Config{})
	assert.Error(t, err)
	_, err = NewConsumer(newFakeTransport(0), nil, Config{})
	assert.Error(t, err)

	c, err := NewConsumer(newFakeTransport(0), &fakeIndexer{}, Config{MaxDeliveries: -1})
	require.NoError(t, err)
	assert.Equal(t, DefaultReconnectDelay, c.cfg.ReconnectDelay)
	assert.Zero(t, c.cfg.MaxDeliveries)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "consuming", StateConsuming.String())
	assert.Equal(t, "processing", StateProcessing.String())
}
