package stream

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"MarginVenue/internal/engine"
)

// CommandSubscriber feeds the ordered command log into the engine loop.
// A single durable consumer preserves log order; the engine owns all state,
// so there is exactly one of these per engine process.
type CommandSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- engine.RawCommand
	consumer    jetstream.ConsumeContext
}

func NewCommandSubscriber(js jetstream.JetStream, commandChan chan<- engine.RawCommand) *CommandSubscriber {
	return &CommandSubscriber{
		js:          js,
		commandChan: commandChan,
	}
}

// Subscribe creates the durable command consumer. DeliverAll means a fresh
// engine replays the full retained log and rebuilds state deterministically.
func (cs *CommandSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := cs.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       "venue-engine",
		FilterSubject: CommandSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer venue-engine: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := engine.RawCommand{
			Data:     msg.Data(),
			Received: time.Now(),
			Ack:      func() { msg.Ack() },
			Nak:      func() { msg.Nak() },
		}

		select {
		case cs.commandChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume venue-engine: %w", err)
	}

	cs.consumer = cc
	log.Printf("INFO: subscribed to %s (consumer=venue-engine)", CommandSubjects)
	return nil
}

// Stop gracefully stops the consumer.
func (cs *CommandSubscriber) Stop() {
	if cs.consumer != nil {
		cs.consumer.Stop()
	}
	log.Println("INFO: command subscriber stopped")
}

// ResponseSubscriber tails the response log from its current end. Used by the
// gateway router, which only cares about responses to requests it sent after
// startup; anything older belongs to a previous router process.
type ResponseSubscriber struct {
	js       jetstream.JetStream
	handler  func(data []byte)
	consumer jetstream.ConsumeContext
}

func NewResponseSubscriber(js jetstream.JetStream, handler func(data []byte)) *ResponseSubscriber {
	return &ResponseSubscriber{
		js:      js,
		handler: handler,
	}
}

// Subscribe creates an ephemeral consumer starting at new messages only.
func (rs *ResponseSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := rs.js.CreateOrUpdateConsumer(ctx, ResponseStream, jetstream.ConsumerConfig{
		FilterSubject: SubjectResponses,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create response consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		rs.handler(msg.Data())
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume responses: %w", err)
	}

	rs.consumer = cc
	log.Printf("INFO: subscribed to %s (ephemeral)", SubjectResponses)
	return nil
}

// Stop gracefully stops the consumer.
func (rs *ResponseSubscriber) Stop() {
	if rs.consumer != nil {
		rs.consumer.Stop()
	}
	log.Println("INFO: response subscriber stopped")
}
