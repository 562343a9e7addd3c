package seqnum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSuccPred(t *testing.T) {
	n := Num(65535)
	assert.Equal(t, Num(0), n.Succ())
	assert.Equal(t, Num(65534), n.Pred())
}

func TestDiffWraparound(t *testing.T) {
	assert.Equal(t, int32(1), Num(0).Diff(Num(65535)))
	assert.Equal(t, int32(-1), Num(65535).Diff(Num(0)))
	assert.Equal(t, int32(0), Num(42).Diff(Num(42)))
}

func TestLessAndLessOrEqual(t *testing.T) {
	assert.True(t, Num(5).Less(Num(6)))
	assert.False(t, Num(6).Less(Num(5)))
	assert.True(t, Num(65535).Less(Num(0)))
	assert.True(t, Num(5).LessOrEqual(Num(5)))
	assert.True(t, Num(5).LessOrEqual(Num(6)))
	assert.False(t, Num(6).LessOrEqual(Num(5)))
}

func TestClassifyCurrentWindow(t *testing.T) {
	last := Num(100)
	assert.Equal(t, Current, Classify(Num(101), last, 32))
	assert.Equal(t, Current, Classify(Num(132), last, 32))
	assert.Equal(t, Unknown, Classify(Num(133), last, 32))
}

func TestClassifyPreviousWindow(t *testing.T) {
	last := Num(100)
	assert.Equal(t, Previous, Classify(Num(100), last, 32))
	assert.Equal(t, Previous, Classify(Num(69), last, 32))
	assert.Equal(t, Unknown, Classify(Num(68), last, 32))
}

func TestClassifyWraparoundAtBoundary(t *testing.T) {
	last := Num(0)
	assert.Equal(t, Current, Classify(Num(1), last, 16))
	assert.Equal(t, Previous, Classify(Num(65535), last, 16))
}

func TestClassifyWindowSizeClamped(t *testing.T) {
	last := Num(100)
	// windowSize 0 clamps to 1: only the immediate successor is Current.
	assert.Equal(t, Current, Classify(Num(101), last, 0))
	assert.Equal(t, Unknown, Classify(Num(102), last, 0))
}
