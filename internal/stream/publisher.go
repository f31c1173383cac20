package stream

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"MarginVenue/internal/command"
	"MarginVenue/internal/observability"
)

// CommandPublisher appends commands to the ordered command log. Used by the
// gateway for user commands and the poller for price update batches.
type CommandPublisher struct {
	js jetstream.JetStream
}

func NewCommandPublisher(js jetstream.JetStream) *CommandPublisher {
	return &CommandPublisher{js: js}
}

// Publish marshals and appends a command to the log. Price updates and user
// commands land on separate subjects within the same stream, so relative
// order across both is still total.
func (cp *CommandPublisher) Publish(ctx context.Context, cmd command.Command) error {
	data, err := command.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	subject := SubjectUserCommands
	if cmd.CommandType() == command.TypePriceUpdate {
		subject = SubjectPriceUpdates
	}

	if _, err := cp.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// ResponsePublisher drains the engine's response channel and appends each
// response to the response log for the gateway router to correlate.
type ResponsePublisher struct {
	js        jetstream.JetStream
	inputChan <-chan *command.Response
	metrics   *observability.Metrics
}

// NewResponsePublisher creates the publisher. metrics may be nil.
func NewResponsePublisher(js jetstream.JetStream, inputChan <-chan *command.Response, metrics *observability.Metrics) *ResponsePublisher {
	return &ResponsePublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the response publisher loop.
func (rp *ResponsePublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case resp, ok := <-rp.inputChan:
			if !ok {
				return nil
			}

			if err := rp.publish(ctx, resp); err != nil {
				log.Printf("WARN: response publish failed corr=%s: %v", resp.CorrelationID, err)
				// Non-fatal: the requester times out and can retry
			}
		}
	}
}

func (rp *ResponsePublisher) publish(ctx context.Context, resp *command.Response) error {
	data, err := command.MarshalResponse(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	start := time.Now()
	_, err = rp.js.Publish(ctx, SubjectResponses, data)
	if err == nil && rp.metrics != nil {
		rp.metrics.PublishLatency.WithLabelValues(SubjectResponses).Observe(time.Since(start).Seconds())
	}
	return err
}
