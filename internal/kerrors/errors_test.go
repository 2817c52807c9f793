package kerrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaxonomyWrapping(t *testing.T) {
	base := New("disk full")

	err := ResourceExhausted(base)
	assert.True(t, IsResourceExhausted(err))
	assert.False(t, IsNotFound(err))
	assert.True(t, Is(err, base))
}

func TestRetryable(t *testing.T) {
	err := NewRetryable("provider B timed out")
	assert.True(t, Retryable(err))
	assert.False(t, Retryable(New("not retryable")))
}
