package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	b := NewExponentialBackoff()

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for _, w := range want {
		assert.Equal(t, w*time.Second, b.NextDelay())
	}

	b.Reset()
	assert.Equal(t, time.Second, b.NextDelay())
}

func TestExponentialBackoffWithBounds(t *testing.T) {
	b := NewExponentialBackoffWith(10*time.Millisecond, 25*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, b.NextDelay())
	assert.Equal(t, 20*time.Millisecond, b.NextDelay())
	assert.Equal(t, 25*time.Millisecond, b.NextDelay())

	b = NewExponentialBackoffWith(0, 0)
	assert.Equal(t, time.Second, b.NextDelay())
	assert.Equal(t, time.Second, b.NextDelay())
}

var _ ReconnectStrategy = (*ExponentialBackoff)(nil)
