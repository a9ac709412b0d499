// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package emitter runs an emission session: it records batches of
// measurements into a sink, flushes them, and optionally repeats on an
// interval until its context is cancelled.
package emitter

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/appoptics/otlp-histogram-sender/internal/log"
	"github.com/appoptics/otlp-histogram-sender/internal/measurement"
	"github.com/appoptics/otlp-histogram-sender/internal/sink"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

const timestampLayout = "2006-01-02 15:04:05"

// ErrAlreadyRun is returned when Run is called on an emitter which has
// already run. An emitter runs exactly one session.
var ErrAlreadyRun = errors.New("the emitter has already run")

// SinkFactory constructs the sink of a session.
type SinkFactory func(ctx context.Context) (sink.Sink, error)

// Emitter drives an emission session. The zero value is not usable, create
// it with New.
type Emitter struct {
	newSink  SinkFactory
	source   measurement.Source
	loop     bool
	interval time.Duration
	out      io.Writer
	after    func(d time.Duration) <-chan time.Time
	now      func() time.Time

	sink     sink.Sink
	state    *atomic.Int32
	ticks    *atomic.Int64
	teardown sync.Once
}

// Option is a function type that sets an option of the Emitter.
type Option func(e *Emitter)

// WithLoop makes the emitter repeat the emission every interval until its
// context is cancelled.
func WithLoop(interval time.Duration) Option {
	return func(e *Emitter) {
		e.loop = true
		e.interval = interval
	}
}

// WithOutput sets the writer of the progress messages. It's stdout by default.
func WithOutput(w io.Writer) Option {
	return func(e *Emitter) {
		e.out = w
	}
}

// WithTimer replaces time.After for the wait between two emissions.
func WithTimer(after func(d time.Duration) <-chan time.Time) Option {
	return func(e *Emitter) {
		e.after = after
	}
}

// WithClock replaces time.Now for the timestamps of the progress messages.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) {
		e.now = now
	}
}

// New creates an emitter which will construct its sink with newSink and take
// the measurements from source.
func New(newSink SinkFactory, source measurement.Source, opts ...Option) *Emitter {
	e := &Emitter{
		newSink: newSink,
		source:  source,
		out:     os.Stdout,
		after:   time.After,
		now:     time.Now,
		state:   atomic.NewInt32(int32(Idle)),
		ticks:   atomic.NewInt64(0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// State returns the current state of the session.
func (e *Emitter) State() State {
	return State(e.state.Load())
}

// Ticks returns the number of completed emissions, i.e., a batch recorded and
// flushed, regardless of the result of the flush.
func (e *Emitter) Ticks() int64 {
	return e.ticks.Load()
}

func (e *Emitter) setState(s State) {
	old := State(e.state.Swap(int32(s)))
	if old != s {
		log.Debugf("Emitter state: %s -> %s", old, s)
	}
}

// Run runs the session until it's done: after one emission in the single-shot
// mode, or after ctx is cancelled in the loop mode. The sink is shut down
// exactly once before Run returns.
//
// A cancellation never interrupts a flush; it's honored once the flush has
// completed, followed by a final flush and the shutdown. Run returns nil in
// this case.
//
// Run returns an error if the sink cannot be constructed, or if it reports an
// unrecoverable error. Other export errors are only logged.
func (e *Emitter) Run(ctx context.Context) error {
	if !e.state.CAS(int32(Idle), int32(Configuring)) {
		return ErrAlreadyRun
	}
	log.Debugf("Emitter state: %s -> %s", Idle, Configuring)

	s, err := e.newSink(ctx)
	if err != nil {
		e.setState(Terminated)
		return err
	}
	e.sink = s

	defer func() {
		e.shutdown(ctx)
		e.setState(Terminated)
	}()

	e.setState(Running)
	if e.loop {
		return e.runLoop(ctx)
	}
	return e.runOnce(ctx)
}

func (e *Emitter) runOnce(ctx context.Context) error {
	fmt.Fprintln(e.out, "Recording sample measurements...")
	n := e.emit(ctx)

	fmt.Fprintln(e.out, "Measurements recorded. Waiting for export...")
	err := e.flush(ctx)
	e.ticks.Inc()
	if err != nil {
		if sink.IsFatal(err) {
			return errors.Wrap(err, "flush")
		}
		log.Errorf("Failed to export %d measurements: %v", n, err)
		return nil
	}

	fmt.Fprintf(e.out, "✓ Metrics exported successfully! Sent %d measurements.\n", n)
	fmt.Fprintf(e.out, "\nNote: Check your backend for the metric '%s'\n", sink.HistogramName)
	return nil
}

func (e *Emitter) runLoop(ctx context.Context) error {
	fmt.Fprintf(e.out, "Running in loop mode (sending every %v)\n", e.interval)
	fmt.Fprintln(e.out, "Press Ctrl+C to stop...")
	fmt.Fprintln(e.out)

	for {
		iteration := e.ticks.Load() + 1
		ts := e.now().Format(timestampLayout)

		fmt.Fprintf(e.out, "[%s] Iteration %d: Recording measurements...\n", ts, iteration)
		n := e.emit(ctx)
		err := e.flush(ctx)
		e.ticks.Inc()

		switch {
		case err == nil:
			fmt.Fprintf(e.out, "[%s] ✓ Sent %d measurements\n", ts, n)
		case sink.IsFatal(err):
			return errors.Wrapf(err, "iteration %d", iteration)
		default:
			log.Errorf("Iteration %d: failed to export %d measurements: %v", iteration, n, err)
		}

		if !e.sleep(ctx) {
			break
		}
	}

	e.setState(ShuttingDown)
	fmt.Fprintln(e.out, "\nStopping... Flushing final metrics...")
	if err := e.flush(ctx); err != nil {
		log.Errorf("Final flush failed: %v", err)
	}
	return nil
}

// sleep waits for the interval. It returns false without waiting if ctx is
// already cancelled, e.g., during the last flush.
func (e *Emitter) sleep(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	e.setState(Sleeping)
	select {
	case <-ctx.Done():
		return false
	case <-e.after(e.interval):
		e.setState(Running)
		return true
	}
}

// emit records a batch and returns its size.
func (e *Emitter) emit(ctx context.Context) int {
	batch := e.source.Batch()
	for _, m := range batch {
		e.sink.Record(ctx, m.Value, m.Labels)
	}
	log.Debugf("Recorded %d measurements", len(batch))
	return len(batch)
}

// flush runs on a context detached from the cancellation of ctx, so that an
// interrupt can't cut it short. The sink bounds it with its own timeout.
func (e *Emitter) flush(ctx context.Context) error {
	if e.State() != ShuttingDown {
		e.setState(Flushing)
	}
	return e.sink.Flush(context.WithoutCancel(ctx))
}

func (e *Emitter) shutdown(ctx context.Context) {
	e.teardown.Do(func() {
		e.setState(ShuttingDown)
		if err := e.sink.Shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Errorf("Failed to shut down the metric sink: %v", err)
		}
		if e.loop {
			fmt.Fprintln(e.out, "Shutdown complete.")
		}
	})
}
