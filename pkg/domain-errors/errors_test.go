package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode_WalksWrappedChain(t *testing.T) {
	root := New(CodeRemoteUnavailable, "biometric api down")
	wrapped := Wrap(root, CodeInternal, "verify failed")

	assert.True(t, HasCode(wrapped, CodeInternal))
	assert.True(t, HasCode(wrapped, CodeRemoteUnavailable))
	assert.False(t, HasCode(wrapped, CodeNotFound))
	assert.Equal(t, CodeInternal, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CodeInternal))
	assert.False(t, Is(wrapped, CodeRemoteUnavailable))
}

func TestHasCode_ThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("context: %w", New(CodeMediaUnavailable, "camera denied"))
	assert.True(t, HasCode(err, CodeMediaUnavailable))
	assert.Equal(t, "camera denied", MessageOf(err))
}

func TestPlainErrors(t *testing.T) {
	err := errors.New("boom")
	assert.False(t, HasCode(err, CodeInternal))
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, "internal error", MessageOf(err))
	assert.Nil(t, Wrap(nil, CodeInternal, "nothing"))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidInput:       http.StatusBadRequest,
		CodePreconditionFailed: http.StatusPreconditionFailed,
		CodeMediaUnavailable:   http.StatusUnprocessableEntity,
		CodeRemoteUnavailable:  http.StatusBadGateway,
		CodeConflict:           http.StatusConflict,
		CodeStaleResult:        http.StatusConflict,
		CodeTooManyRequests:    http.StatusTooManyRequests,
		Code("unknown"):        http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), "code %s", code)
	}
}
