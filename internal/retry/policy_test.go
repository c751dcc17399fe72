package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 30*time.Second, p.Initial)
	assert.Equal(t, 3, p.MaxRetries)
}

func TestDelayIsFixed(t *testing.T) {
	p := NewPolicy(5*time.Second, 2)
	assert.Equal(t, 5*time.Second, p.Delay(1))
	assert.Equal(t, 5*time.Second, p.Delay(2))
	assert.Equal(t, time.Duration(0), p.Delay(0))
}

func TestShouldRetryBounds(t *testing.T) {
	p := NewPolicy(time.Second, 2)
	assert.True(t, p.ShouldRetry(1))
	assert.True(t, p.ShouldRetry(2))
	assert.False(t, p.ShouldRetry(3))
}

func TestInvalidValuesFallBack(t *testing.T) {
	p := NewPolicy(0, -1)
	assert.Equal(t, DefaultPolicy(), p)
}
