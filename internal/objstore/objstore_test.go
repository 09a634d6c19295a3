package objstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddGetDelete(t *testing.T) {
	s := New[string]()

	a := s.Add("a")
	b := s.Add("b")
	require.Equal(t, 2, s.Len())

	v, ok := s.Get(a)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	s.Delete(a)
	_, ok = s.Get(a)
	assert.False(t, ok)
	assert.True(t, s.Live(b))
	assert.Equal(t, 1, s.Len())

	s.Delete(a)
	assert.Equal(t, 1, s.Len())
}

func TestReusedSlotInvalidatesOldHandle(t *testing.T) {
	s := New[int]()

	old := s.Add(1)
	s.Delete(old)
	reused := s.Add(2)

	assert.Equal(t, old.index, reused.index)
	assert.NotEqual(t, old, reused)
	assert.False(t, s.Live(old))

	v, ok := s.Get(reused)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestZeroHandle(t *testing.T) {
	s := New[int]()
	s.Add(1)

	var h Handle
	assert.True(t, h.IsZero())
	assert.False(t, s.Live(h))
}
