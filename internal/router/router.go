package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"MarginVenue/internal/command"
	"MarginVenue/internal/observability"
)

// ErrTimeout is returned when the engine does not answer a request within
// the router's wait window. The command may still be applied later; only
// the response is given up on.
var ErrTimeout = errors.New("timeout waiting for engine response")

// DefaultTimeout is how long Send waits for a correlated response.
const DefaultTimeout = 5 * time.Second

// Publisher appends a command to the command log.
type Publisher interface {
	Publish(ctx context.Context, cmd command.Command) error
}

// Router correlates request commands with engine responses. Callers publish
// through Send and block until the matching response arrives on the
// response log or the wait window expires.
type Router struct {
	publisher Publisher
	timeout   time.Duration
	log       zerolog.Logger
	metrics   *observability.Metrics

	mu      sync.Mutex
	waiters map[string]chan *command.Response
}

func New(publisher Publisher, log zerolog.Logger, metrics *observability.Metrics) *Router {
	return &Router{
		publisher: publisher,
		timeout:   DefaultTimeout,
		log:       log,
		metrics:   metrics,
		waiters:   make(map[string]chan *command.Response),
	}
}

// SetTimeout overrides the response wait window. Intended for tests.
func (r *Router) SetTimeout(d time.Duration) {
	r.timeout = d
}

// NewCorrelationID returns a fresh correlation id for an outgoing command.
func (r *Router) NewCorrelationID() string {
	return uuid.NewString()
}

// Send publishes cmd and waits for the response carrying its correlation
// id. The command must already carry a correlation id from
// NewCorrelationID. Exactly one of response or error is non-nil; a late
// engine response after an error return is dropped.
func (r *Router) Send(ctx context.Context, cmd command.Command) (*command.Response, error) {
	corrID := cmd.CorrelationID()
	ch := make(chan *command.Response, 1)

	r.mu.Lock()
	r.waiters[corrID] = ch
	r.mu.Unlock()
	r.metrics.RouterInflight.Inc()

	start := time.Now()
	defer r.metrics.RouterInflight.Dec()

	if err := r.publisher.Publish(ctx, cmd); err != nil {
		r.remove(corrID)
		return nil, err
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		r.metrics.RouterResolved.WithLabelValues("matched").Inc()
		r.metrics.RouterRoundTrip.Observe(time.Since(start).Seconds())
		return resp, nil

	case <-timer.C:
		r.remove(corrID)
		r.metrics.RouterResolved.WithLabelValues("timeout").Inc()
		return nil, ErrTimeout

	case <-ctx.Done():
		r.remove(corrID)
		r.metrics.RouterResolved.WithLabelValues("canceled").Inc()
		return nil, ctx.Err()
	}
}

// Resolve delivers a response-log record to its waiter. Records with no
// waiter (timed out, or sent by a previous router process) are dropped.
func (r *Router) Resolve(resp *command.Response) {
	r.mu.Lock()
	ch, ok := r.waiters[resp.CorrelationID]
	if ok {
		delete(r.waiters, resp.CorrelationID)
	}
	r.mu.Unlock()

	if !ok {
		r.metrics.RouterResolved.WithLabelValues("orphan").Inc()
		r.log.Debug().Str("correlation_id", resp.CorrelationID).Msg("dropping unmatched response")
		return
	}

	ch <- resp
}

// HandleRecord parses a raw response-log record and resolves it.
// Malformed records are logged and skipped.
func (r *Router) HandleRecord(data []byte) {
	resp, err := command.ParseResponse(data)
	if err != nil {
		r.log.Warn().Err(err).Msg("skipping malformed response record")
		return
	}
	r.Resolve(resp)
}

// Pending reports the number of in-flight waiters.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

func (r *Router) remove(corrID string) {
	r.mu.Lock()
	delete(r.waiters, corrID)
	r.mu.Unlock()
}
