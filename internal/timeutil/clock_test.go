package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	now := c.Now()
	assert.False(t, now.Before(before))
	assert.GreaterOrEqual(t, c.Since(before), time.Duration(0))
}

func TestOrReal(t *testing.T) {
	assert.Equal(t, RealClock{}, OrReal(nil))
	mc := NewMockClock(time.Unix(0, 0))
	assert.Same(t, mc, OrReal(mc))
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start, c.Now(), "no step: reading is stable")

	c.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, c.Since(start))

	c.Set(start)
	c.Step = time.Millisecond
	first, second := c.Now(), c.Now()
	assert.Equal(t, time.Millisecond, second.Sub(first))
	assert.Equal(t, 2*time.Millisecond, c.Since(start), "Since does not step")
}
