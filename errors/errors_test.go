package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiedError_Unwrap(t *testing.T) {
	base := errors.New("socket closed")
	wrapped := WrapTransient(base, "transport", "ReadFrame", "read next frame")

	require.Error(t, wrapped)
	assert.True(t, errors.Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "transport.ReadFrame: read next frame failed")
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"wrapped transient", WrapTransient(errors.New("x"), "c", "m", "a"), ErrorTransient},
		{"wrapped invalid", WrapInvalid(errors.New("x"), "c", "m", "a"), ErrorInvalid},
		{"wrapped fatal", WrapFatal(errors.New("x"), "c", "m", "a"), ErrorFatal},
		{"connection lost sentinel", fmt.Errorf("session: %w", ErrConnectionLost), ErrorTransient},
		{"retries exceeded sentinel", fmt.Errorf("session: %w", ErrRetriesExceeded), ErrorFatal},
		{"parsing sentinel", fmt.Errorf("frame: %w", ErrParsingFailed), ErrorInvalid},
		{"unknown defaults transient", errors.New("something odd"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsTransient_MessagePatterns(t *testing.T) {
	assert.True(t, IsTransient(errors.New("i/o timeout")))
	assert.True(t, IsTransient(errors.New("network is unreachable")))
	assert.False(t, IsTransient(nil))
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}
