// Copyright (C) 2017 Librato, Inc. All rights reserved.

package measurement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomSourceBatchShape(t *testing.T) {
	s := NewRandomSource(0)

	for i := 0; i < 100; i++ {
		batch := s.Batch()
		require.Len(t, batch, BatchSize)
		for idx, m := range batch {
			tpl := requestTemplates[idx]
			assert.GreaterOrEqual(t, m.Value, tpl.min)
			assert.Less(t, m.Value, tpl.max)
			assert.Equal(t, tpl.method, m.Labels[LabelMethod])
			assert.Equal(t, tpl.status, m.Labels[LabelStatusCode])
			assert.Len(t, m.Labels, 2)
		}
	}
}

func TestRandomSourceLabels(t *testing.T) {
	batch := NewRandomSource(1).Batch()
	methods := make([]interface{}, 0, len(batch))
	for _, m := range batch {
		methods = append(methods, m.Labels[LabelMethod])
	}
	assert.Equal(t, []interface{}{"GET", "GET", "POST", "GET", "PUT"}, methods)
	assert.Equal(t, 201, batch[2].Labels[LabelStatusCode])
}

func TestRandomSourceSeeded(t *testing.T) {
	a, b := NewRandomSource(42), NewRandomSource(42)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Batch(), b.Batch())
	}

	c := NewRandomSource(43)
	assert.NotEqual(t, NewRandomSource(42).Batch(), c.Batch())
}

func TestRandomSourceFreshLabels(t *testing.T) {
	s := NewRandomSource(7)
	first := s.Batch()
	first[0].Labels[LabelMethod] = "DELETE"

	second := s.Batch()
	assert.Equal(t, "GET", second[0].Labels[LabelMethod])
}
