// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package sink defines the boundary to the metrics pipeline. A Sink buffers
// recorded measurements, aggregates them and exports them to a remote
// endpoint, either on its own timer or when it's flushed explicitly.
package sink

import (
	"context"

	"github.com/pkg/errors"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Sink accepts measurements and exports them.
//
// Flush may be called while the sink's own background export is active; the
// data exported by one is not exported again by the other.
type Sink interface {
	// Record buffers one measurement.
	Record(ctx context.Context, value float64, labels map[string]interface{})
	// Flush forces the pending measurements to be exported now.
	Flush(ctx context.Context) error
	// Shutdown flushes the remaining data and releases all the resources.
	// Calls after the first one do nothing and return nil.
	Shutdown(ctx context.Context) error
}

// Sink errors
var (
	ErrSinkClosed = errors.New("the sink is closed")
)

// ConstructionError is returned when a sink cannot be set up, e.g., the
// endpoint is malformed.
type ConstructionError struct {
	Err error
}

func (e *ConstructionError) Error() string {
	return "failed to construct the metric sink: " + e.Err.Error()
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// ExportError is returned when a single flush failed. The sink has already
// retried by then.
type ExportError struct {
	Err error
}

func (e *ExportError) Error() string {
	return "export failed: " + e.Err.Error()
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err leaves the sink unusable, so that further
// flushes are pointless.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSinkClosed) || errors.Is(err, sdkmetric.ErrReaderShutdown)
}
