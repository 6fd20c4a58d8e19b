package utils

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(4)
	require.NoError(t, err)
	assert.Len(t, code, 8)
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]+$`), code)

	other, err := GenerateCode(4)
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestCircuitBreakerPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker("test")

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.NoError(t, err)

	wantErr := errors.New("remote broke")
	err = cb.Execute(context.Background(), func() error { return wantErr })
	assert.ErrorIs(t, err, wantErr)
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test")
	failure := errors.New("remote broke")

	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func() error { return failure })
	}

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestCircuitBreakerHonorsContext(t *testing.T) {
	cb := NewCircuitBreaker("test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
