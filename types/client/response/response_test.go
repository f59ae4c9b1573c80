package response_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duocall/database"
	"duocall/pkg/callerr"
	"duocall/types/client/response"
)

func TestErrorRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   string
		target error
	}{
		{
			name:   "given a call failure when converted then kind and sentinel survive",
			err:    callerr.New(callerr.SessionNotFound, "get", database.ErrCallSessionNotFound),
			kind:   string(callerr.SessionNotFound),
			target: callerr.ErrSessionNotFound,
		},
		{
			name:   "given a rejected transition when converted then the transition sentinel survives",
			err:    fmt.Errorf("s1: ended to connected: %w", database.ErrInvalidTransition),
			kind:   response.InvalidTransition,
			target: database.ErrInvalidTransition,
		},
		{
			name:   "given an invalid update when converted then it is an invalid request",
			err:    fmt.Errorf("s1: %w", database.ErrInvalidUpdate),
			kind:   response.InvalidRequest,
			target: response.ErrInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := response.NewError(tt.err)
			assert.Equal(t, tt.kind, wire.Kind)
			assert.True(t, errors.Is(wire.Err("op"), tt.target))
		})
	}

	t.Run("given an unexpected error when converted then its text is hidden", func(t *testing.T) {
		wire := response.NewError(errors.New("disk on fire"))
		assert.Equal(t, response.Internal, wire.Kind)
		assert.NotContains(t, wire.Message, "disk")
	})
}

func TestFrames(t *testing.T) {
	t.Run("given a result without payload when marshalled then payload is omitted", func(t *testing.T) {
		res, err := response.Result(7, nil)
		require.NoError(t, err)
		data, err := json.Marshal(res)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"RESULT","request_id":7}`, string(data))
	})

	t.Run("given a failure when marshalled then error carries kind and cause", func(t *testing.T) {
		data, err := json.Marshal(response.Failure(3, callerr.New(callerr.Unauthorized, "signal", nil)))
		require.NoError(t, err)
		assert.JSONEq(t,
			`{"type":"RESULT","request_id":3,"error":{"kind":"unauthorized","message":"You are not allowed to access this call"}}`,
			string(data))
	})
}
