package pollsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

type EventKind uint8

const (
	EventRoundStarted EventKind = iota
	EventListingFailed
	EventSkipped
	EventTransferred
	EventNotFound
	EventTransferFailed
	EventSleeping
	EventExhausted
	EventRunComplete
)

func (k EventKind) String() string {
	switch k {
	case EventRoundStarted:
		return "round_started"
	case EventListingFailed:
		return "listing_failed"
	case EventSkipped:
		return "skipped"
	case EventTransferred:
		return "transferred"
	case EventNotFound:
		return "not_found"
	case EventTransferFailed:
		return "transfer_failed"
	case EventSleeping:
		return "sleeping"
	case EventExhausted:
		return "exhausted"
	case EventRunComplete:
		return "run_complete"
	}
	return "unknown"
}

// Event is a single observation emitted by Run. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind  EventKind
	Round int
	Name  string

	RemoteModTime time.Time
	LocalModTime  time.Time

	Bytes    int64
	Duration time.Duration
	Delay    time.Duration

	Outcome Outcome
	Pending []string
	Err     error
}

// Sink receives events from a Run. Implementations must not block for long;
// the loop is sequential.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// LogSink writes events to a slog.Logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, ev Event) {
	attrs := []any{"op", ev.Kind.String()}
	if ev.Round > 0 {
		attrs = append(attrs, "round", ev.Round)
	}
	if ev.Name != "" {
		attrs = append(attrs, "name", ev.Name)
	}

	switch ev.Kind {
	case EventRoundStarted:
		s.logger.DebugContext(ctx, "sync", attrs...)
	case EventSkipped:
		s.logger.DebugContext(ctx, "sync", append(attrs,
			"remote_mtime", ev.RemoteModTime,
			"local_mtime", ev.LocalModTime,
			"reason", "local copy is not older")...)
	case EventTransferred:
		s.logger.InfoContext(ctx, "sync", append(attrs,
			"size", humanize.Bytes(uint64(ev.Bytes)),
			"took", ev.Duration)...)
	case EventNotFound:
		s.logger.WarnContext(ctx, "sync", append(attrs, "reason", "remote file does not exist")...)
	case EventTransferFailed, EventListingFailed:
		s.logger.WarnContext(ctx, "sync", append(attrs, "error", ev.Err)...)
	case EventSleeping:
		s.logger.DebugContext(ctx, "sync", append(attrs, "delay", ev.Delay)...)
	case EventExhausted:
		s.logger.WarnContext(ctx, "sync", append(attrs, "pending", ev.Pending)...)
	case EventRunComplete:
		s.logger.InfoContext(ctx, "sync", append(attrs,
			"outcome", ev.Outcome.String(),
			"pending", ev.Pending,
			"size", humanize.Bytes(uint64(ev.Bytes)),
			"took", ev.Duration)...)
	default:
		s.logger.InfoContext(ctx, "sync", attrs...)
	}
}
