// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package measurement produces the samples fed to a metric sink. A Source
// stands in for real application instrumentation.
package measurement

import (
	"pgregory.net/rand"
)

// Label keys of the simulated HTTP requests.
const (
	LabelMethod     = "http.method"
	LabelStatusCode = "http.status_code"
)

// Measurement is a single value with its labels. Label values are strings or
// ints. A Measurement must not be modified once created.
type Measurement struct {
	Value  float64
	Labels map[string]interface{}
}

// Source produces a batch of measurements per call.
type Source interface {
	Batch() []Measurement
}

// template describes one simulated request: the duration range in
// milliseconds and its labels.
type template struct {
	min, max float64
	method   string
	status   int
}

var requestTemplates = [BatchSize]template{
	{10, 150, "GET", 200},
	{15, 120, "GET", 200},
	{20, 100, "POST", 201},
	{25, 180, "GET", 200},
	{30, 90, "PUT", 200},
}

// BatchSize is the number of measurements a RandomSource produces per batch.
const BatchSize = 5

// RandomSource simulates HTTP request durations. Each batch has the same
// shape; only the values are random. It is not safe for concurrent use.
type RandomSource struct {
	rng *rand.Rand
}

// NewRandomSource creates a RandomSource. A non-zero seed makes the sequence
// of batches reproducible.
func NewRandomSource(seed uint64) *RandomSource {
	if seed == 0 {
		return &RandomSource{rng: rand.New()}
	}
	return &RandomSource{rng: rand.New(seed)}
}

// Batch returns a new batch of measurements, each drawn uniformly from
// [min, max) of its template.
func (s *RandomSource) Batch() []Measurement {
	batch := make([]Measurement, 0, len(requestTemplates))
	for _, t := range requestTemplates {
		batch = append(batch, Measurement{
			Value: t.min + (t.max-t.min)*s.rng.Float64(),
			Labels: map[string]interface{}{
				LabelMethod:     t.method,
				LabelStatusCode: t.status,
			},
		})
	}
	return batch
}
