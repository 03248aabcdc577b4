package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EnqueueDequeue(t *testing.T) {
	q := New[int]()
	assert.True(t, q.IsEmpty())

	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)
	assert.Equal(t, 3, q.Len())

	v, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	assert.Equal(t, 1, q.Len())
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := New[string]()
	v, ok := q.Dequeue()
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestQueue_Peek(t *testing.T) {
	q := New[int]()
	_, ok := q.Peek()
	assert.False(t, ok)

	q.Enqueue(7)
	v, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_BoundedEvictsOldest(t *testing.T) {
	q := NewBounded[int](3)
	for i := 1; i <= 5; i++ {
		q.Enqueue(i)
	}

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []int{3, 4, 5}, q.Items())
}

func TestQueue_BoundedZeroCapIsUnbounded(t *testing.T) {
	q := NewBounded[int](0)
	for i := 0; i < 100; i++ {
		q.Enqueue(i)
	}
	assert.Equal(t, 100, q.Len())
}

func TestQueue_ItemsIsCopy(t *testing.T) {
	q := New[int]()
	q.Enqueue(1)
	q.Enqueue(2)

	items := q.Items()
	items[0] = 99

	v, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestQueue_Clear(t *testing.T) {
	q := New[int]()
	q.Enqueue(1)
	q.Enqueue(2)
	q.Clear()
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Len())
}
