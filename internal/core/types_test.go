package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortScreenshots(t *testing.T) {
	input := []Screenshot{
		{ID: 3, CapturedAt: 300},
		{ID: 1, CapturedAt: 100},
		{ID: 2, CapturedAt: 100},
		{ID: 1, CapturedAt: 100},
	}

	sorted := SortScreenshots(input)

	require.Len(t, sorted, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	assert.Equal(t, int64(3), input[0].ID, "input must not be reordered")
}

func TestNewBatch(t *testing.T) {
	t.Run("derives bounds", func(t *testing.T) {
		batch, err := NewBatch([]Screenshot{
			{ID: 2, CapturedAt: 2000},
			{ID: 1, CapturedAt: 1000},
		}, nil)
		require.NoError(t, err)

		assert.Equal(t, int64(1000), batch.StartTs)
		assert.Equal(t, int64(2000), batch.EndTs)
		assert.Equal(t, []int64{1, 2}, batch.IDs())
		assert.Equal(t, int64(1000), batch.Duration())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := NewBatch(nil, nil)
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})
}

func TestNewRequestID(t *testing.T) {
	first := NewRequestID()
	second := NewRequestID()

	assert.True(t, strings.HasPrefix(string(first), "req_"))
	assert.NotEqual(t, first, second)
	assert.Less(t, string(first), string(second), "ids from one process sort by creation")
}

func TestIntFromAny(t *testing.T) {
	assert.Equal(t, 3, IntFromAny(float64(3)))
	assert.Equal(t, 4, IntFromAny(int64(4)))
	assert.Equal(t, 0, IntFromAny("5"))
	assert.Equal(t, int64(1700000000), Int64FromAny(float64(1700000000)))
}
