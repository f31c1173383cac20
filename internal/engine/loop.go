package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"MarginVenue/internal/command"
	"MarginVenue/internal/state"
)

// RawCommand is a command-log record ready for the loop to decode and apply.
// Ack confirms consumption after the response is enqueued; Nak requests
// redelivery when the loop is shutting down mid-record. Received is stamped
// by the subscriber and feeds the ingest-to-apply latency histogram.
type RawCommand struct {
	Data     []byte
	Received time.Time
	Ack      func()
	Nak      func()
}

// SnapshotRequest asks the loop for a consistent copy of engine state.
// The reply channel must be buffered; the loop sends exactly once.
type SnapshotRequest struct {
	Reply chan map[string]*state.User
}

// Loop is the single logical consumer of the command log. It decodes and
// applies records strictly in log order and is the only goroutine that
// mutates engine state. Snapshot requests are served between commands, so
// persistence reads are consistent without locks.
type Loop struct {
	engine    *Engine
	commands  <-chan RawCommand
	responses chan<- *command.Response
	snapshots <-chan SnapshotRequest
	log       zerolog.Logger
}

func NewLoop(
	engine *Engine,
	commands <-chan RawCommand,
	responses chan<- *command.Response,
	snapshots <-chan SnapshotRequest,
	log zerolog.Logger,
) *Loop {
	return &Loop{
		engine:    engine,
		commands:  commands,
		responses: responses,
		snapshots: snapshots,
		log:       log,
	}
}

// Run blocks until ctx is cancelled. Malformed records are logged, acked,
// and skipped; failed commands yield error responses and processing
// continues. Nothing aborts the loop.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req := <-l.snapshots:
			req.Reply <- l.engine.CaptureSnapshot()

		case raw, ok := <-l.commands:
			if !ok {
				return nil
			}
			l.process(ctx, raw)
		}
	}
}

func (l *Loop) process(ctx context.Context, raw RawCommand) {
	cmd, err := command.Parse(raw.Data)
	if err != nil {
		// Redelivery cannot fix a malformed record; ack it away.
		l.log.Warn().Err(err).Msg("skipping malformed command record")
		if l.engine.metrics != nil {
			l.engine.metrics.CommandsRejected.WithLabelValues("malformed").Inc()
		}
		if raw.Ack != nil {
			raw.Ack()
		}
		return
	}

	resp := l.engine.Apply(cmd)

	if l.engine.metrics != nil && !raw.Received.IsZero() {
		l.engine.metrics.IngestToApply.WithLabelValues(string(cmd.CommandType())).
			Observe(time.Since(raw.Received).Seconds())
	}

	if resp != nil {
		// Blocking send: if the response publisher falls behind, the
		// consumer stalls rather than losing a reply.
		select {
		case l.responses <- resp:
		case <-ctx.Done():
			if raw.Nak != nil {
				raw.Nak()
			}
			return
		}
	}

	if raw.Ack != nil {
		raw.Ack()
	}
}
