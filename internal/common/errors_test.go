package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_WrappedRequestError(t *testing.T) {
	err := fmt.Errorf("marking read: %w", NewServerError(409, "conflict", "already read", nil))
	assert.Equal(t, KindServer, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestRequestError_Transient(t *testing.T) {
	assert.True(t, NewNetworkError(nil).Transient())
	assert.True(t, NewTimeoutError(context.DeadlineExceeded).Transient())
	assert.True(t, NewConnectionLostError(nil).Transient())
	assert.False(t, NewServerError(500, "", "", nil).Transient())
	assert.False(t, NewParseError(nil).Transient())
}

func TestRequestError_UnwrapAndMessage(t *testing.T) {
	err := NewTimeoutError(context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	srv := NewServerError(503, "", "", nil)
	assert.Equal(t, "SERVER_ERROR (503): server returned status 503", srv.Error())
}
