package pollsync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/b1naryth1ef/pollsync/transport"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

type Outcome uint8

const (
	// OutcomeDone means every manifest entry is present locally and current.
	OutcomeDone Outcome = iota
	// OutcomeExhausted means the iteration budget ran out with names pending.
	OutcomeExhausted
	// OutcomeCancelled means the context ended before the run finished.
	OutcomeCancelled
	// OutcomeAborted means the session was lost mid-run.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeAborted:
		return "aborted"
	}
	return "unknown"
}

// Result summarises a run. Pending lists, in sorted order, the names still
// outstanding. A name leaves it when transferred or when the local copy is
// found at least as new as the remote one; skipped names count as handled.
type Result struct {
	Outcome     Outcome
	Pending     []string
	Transferred []string
	Skipped     []string
	Rounds      int
	Bytes       int64
	Elapsed     time.Duration
}

type Client struct {
	cfg   Config
	tp    transport.Transport
	fs    afero.Fs
	sink  Sink
	clock clockwork.Clock

	start time.Time
}

type ClientOption func(*Client)

// WithFs sets the local filesystem. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) ClientOption {
	return func(c *Client) { c.fs = fs }
}

// WithSink sets the event sink. Defaults to a LogSink on slog.Default().
func WithSink(sink Sink) ClientOption {
	return func(c *Client) { c.sink = sink }
}

func WithClock(clock clockwork.Clock) ClientOption {
	return func(c *Client) { c.clock = clock }
}

func NewClient(cfg Config, tp transport.Transport, opts ...ClientOption) *Client {
	c := &Client{
		cfg:   cfg,
		tp:    tp,
		fs:    afero.NewOsFs(),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sink == nil {
		c.sink = NewLogSink(nil)
	}
	return c
}

// Run polls the remote directory until every pending name has been handled,
// the iteration budget runs out, or ctx ends. Failures of single files and of
// single listings are reported to the sink and retried in later rounds; only a
// lost session is returned as an error, together with the partial result.
func (c *Client) Run(ctx context.Context, pending *PendingSet) (*Result, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := c.fs.MkdirAll(c.cfg.LocalDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("create local directory %s: %w", c.cfg.LocalDirectory, err)
	}

	c.start = c.clock.Now()
	res := &Result{}
	seed := c.cfg.MirrorAll && pending.IsEmpty()

	for round := 1; round <= c.cfg.MaxIterations; round++ {
		if ctx.Err() != nil {
			return c.finish(ctx, res, OutcomeCancelled, pending), nil
		}

		res.Rounds = round
		c.sink.Emit(ctx, Event{Kind: EventRoundStarted, Round: round, Pending: pending.Names()})

		if err := c.round(ctx, round, pending, res, &seed); err != nil {
			return c.finish(ctx, res, OutcomeAborted, pending), err
		}

		if pending.IsEmpty() && !seed {
			return c.finish(ctx, res, OutcomeDone, pending), nil
		}
		if ctx.Err() != nil {
			return c.finish(ctx, res, OutcomeCancelled, pending), nil
		}
		if round == c.cfg.MaxIterations {
			break
		}

		c.sink.Emit(ctx, Event{Kind: EventSleeping, Round: round, Delay: c.cfg.Delay})
		if !c.sleep(ctx) {
			return c.finish(ctx, res, OutcomeCancelled, pending), nil
		}
	}

	c.sink.Emit(ctx, Event{Kind: EventExhausted, Round: res.Rounds, Pending: pending.Names()})
	return c.finish(ctx, res, OutcomeExhausted, pending), nil
}

func (c *Client) sleep(ctx context.Context) bool {
	if c.cfg.Delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(c.cfg.Delay):
		return true
	}
}

func (c *Client) finish(ctx context.Context, res *Result, outcome Outcome, pending *PendingSet) *Result {
	res.Outcome = outcome
	res.Pending = pending.Names()
	res.Elapsed = c.clock.Since(c.start)
	c.sink.Emit(ctx, Event{
		Kind:     EventRunComplete,
		Round:    res.Rounds,
		Outcome:  outcome,
		Pending:  res.Pending,
		Bytes:    res.Bytes,
		Duration: res.Elapsed,
	})
	return res
}

// round performs a single listing and evaluates every pending entry in it. It
// returns an error only when the session is lost.
func (c *Client) round(ctx context.Context, round int, pending *PendingSet, res *Result, seed *bool) error {
	entries, err := c.tp.List(ctx)
	if err != nil {
		if errors.Is(err, transport.ErrSessionLost) {
			return fmt.Errorf("%w: list: %w", ErrSession, err)
		}
		if ctx.Err() == nil {
			c.sink.Emit(ctx, Event{Kind: EventListingFailed, Round: round, Err: err})
		}
		return nil
	}

	if *seed {
		c.seedPending(pending, entries)
		*seed = false
	}

	for _, entry := range entries {
		if entry.IsDir || !pending.Contains(entry.Name) {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := c.evaluate(ctx, round, entry.Name, pending, res); err != nil {
			return err
		}
	}
	return nil
}

// seedPending fills an empty pending set with every regular file in the
// listing whose name is usable locally.
func (c *Client) seedPending(pending *PendingSet, entries []transport.DirEntry) {
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir || validateName(entry.Name) != nil {
			continue
		}
		names = append(names, entry.Name)
	}
	// names are pre-validated
	_ = pending.Initialize(names)
}

func (c *Client) evaluate(ctx context.Context, round int, name string, pending *PendingSet, res *Result) error {
	remote, err := c.tp.Stat(ctx, name)
	switch {
	case errors.Is(err, transport.ErrSessionLost):
		return fmt.Errorf("%w: stat %s: %w", ErrSession, name, err)
	case errors.Is(err, transport.ErrNotFound):
		c.sink.Emit(ctx, Event{Kind: EventNotFound, Round: round, Name: name, Err: err})
		return nil
	case err != nil:
		c.sink.Emit(ctx, Event{Kind: EventTransferFailed, Round: round, Name: name, Err: err})
		return nil
	}

	local, err := probeLocal(c.fs, filepath.Join(c.cfg.LocalDirectory, name))
	if err != nil {
		c.sink.Emit(ctx, Event{Kind: EventTransferFailed, Round: round, Name: name, Err: err})
		return nil
	}

	if Decide(remote.ModTime, local) == ActionSkip {
		pending.Remove(name)
		res.Skipped = append(res.Skipped, name)
		c.sink.Emit(ctx, Event{
			Kind:          EventSkipped,
			Round:         round,
			Name:          name,
			RemoteModTime: remote.ModTime,
			LocalModTime:  local.ModTime,
		})
		return nil
	}

	result := c.transfer(ctx, name, remote.ModTime)
	switch result.Status {
	case TransferOK:
		pending.Remove(name)
		res.Transferred = append(res.Transferred, name)
		res.Bytes += result.Bytes
		c.sink.Emit(ctx, Event{
			Kind:          EventTransferred,
			Round:         round,
			Name:          name,
			RemoteModTime: remote.ModTime,
			Bytes:         result.Bytes,
			Duration:      result.Duration,
		})
	case TransferNotFound:
		c.sink.Emit(ctx, Event{Kind: EventNotFound, Round: round, Name: name, Err: result.Err})
	default:
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(result.Err, transport.ErrSessionLost) {
			return fmt.Errorf("%w: fetch %s: %w", ErrSession, name, result.Err)
		}
		c.sink.Emit(ctx, Event{Kind: EventTransferFailed, Round: round, Name: name, Err: result.Err})
	}
	return nil
}
