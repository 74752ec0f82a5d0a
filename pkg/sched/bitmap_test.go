package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWordBitmapSetClearTest(t *testing.T) {
	b := newWordBitmap(130) // spans three words
	assert.True(t, b.empty())

	b.set(0)
	b.set(63)
	b.set(64)
	b.set(129)
	assert.True(t, b.test(0))
	assert.True(t, b.test(63))
	assert.True(t, b.test(64))
	assert.True(t, b.test(129))
	assert.False(t, b.test(1))
	assert.False(t, b.empty())

	b.clear(64)
	assert.False(t, b.test(64))
}

func TestWordBitmapFirstSet(t *testing.T) {
	b := newWordBitmap(128)
	b.set(5)
	b.set(70)

	idx, ok := b.firstSet(0)
	assert.True(t, ok)
	assert.Equal(t, 5, idx)

	idx, ok = b.firstSet(6)
	assert.True(t, ok)
	assert.Equal(t, 70, idx)

	idx, ok = b.firstSet(71)
	assert.False(t, ok)
	assert.Equal(t, -1, idx)
}

func TestWordBitmapFirstSetUpTo(t *testing.T) {
	b := newWordBitmap(64)
	b.set(40)

	_, ok := b.firstSetUpTo(39)
	assert.False(t, ok)

	idx, ok := b.firstSetUpTo(40)
	assert.True(t, ok)
	assert.Equal(t, 40, idx)
}
