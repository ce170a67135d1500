package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	t.Run("not found matches sentinel through wrapping", func(t *testing.T) {
		err := fmt.Errorf("loading snapshot: %w", NotFoundf("snapshot %s not found", "abc"))
		assert.True(t, IsNotFound(err))
		assert.False(t, IsConflict(err))
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("conflict", func(t *testing.T) {
		err := Conflictf("duplicate item contacts/1")
		assert.True(t, errors.Is(err, ErrConflict))
		assert.Equal(t, "duplicate item contacts/1", err.Error())
	})

	t.Run("plain errors have no kind", func(t *testing.T) {
		assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
		assert.False(t, IsRetryable(errors.New("boom")))
	})
}

func TestConnectorFailureRetryable(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{0, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			err := NewConnectorFailure(tc.status, nil, "request failed")
			assert.Equal(t, tc.retryable, IsRetryable(err))
			assert.True(t, errors.Is(err, ErrConnectorFailure))
		})
	}
}

func TestToHTTPError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(ToHTTPError(NotFoundf("missing"))))
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(ToHTTPError(Conflictf("dup"))))
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(ToHTTPError(Invalidf("bad"))))
	assert.Equal(t, http.StatusInternalServerError, httperror.GetStatusCode(ToHTTPError(errors.New("x"))))
}
