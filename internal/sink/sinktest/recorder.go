// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package sinktest provides an in-memory sink for testing.
package sinktest

import (
	"context"
	"sync"

	"github.com/appoptics/otlp-histogram-sender/internal/sink"
)

// Record is a measurement captured by the Recorder.
type Record struct {
	Value  float64
	Labels map[string]interface{}
}

// Recorder is a sink that keeps everything in memory. It's safe for
// concurrent use.
type Recorder struct {
	// FlushErr, if set, is called on each flush with the 1-based number of the
	// flush and its result is returned.
	FlushErr func(n int) error
	// OnFlush, if set, is called during each flush before it completes.
	OnFlush func(ctx context.Context)

	mu        sync.Mutex
	records   []Record
	pending   int
	flushed   int
	flushes   int
	shutdowns int
	closed    bool
}

var _ sink.Sink = (*Recorder)(nil)

// Record buffers one measurement.
func (r *Recorder) Record(_ context.Context, value float64, labels map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.records = append(r.records, Record{Value: value, Labels: labels})
	r.pending++
}

// Flush marks the pending measurements as exported.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return sink.ErrSinkClosed
	}
	r.flushes++
	n := r.flushes
	r.mu.Unlock()

	if r.OnFlush != nil {
		r.OnFlush(ctx)
	}
	if r.FlushErr != nil {
		if err := r.FlushErr(n); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushed += r.pending
	r.pending = 0
	return nil
}

// Shutdown exports the pending measurements and closes the recorder. Only
// the first call has an effect.
func (r *Recorder) Shutdown(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.shutdowns++
	r.flushed += r.pending
	r.pending = 0
	return nil
}

// Records returns a copy of the recorded measurements.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Flushes returns the number of Flush calls.
func (r *Recorder) Flushes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes
}

// Exported returns the number of measurements exported by flushes and the
// shutdown.
func (r *Recorder) Exported() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushed
}

// Shutdowns returns the number of shutdowns that took effect.
func (r *Recorder) Shutdowns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdowns
}

// Closed returns if the recorder is shut down.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
