package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")

	assert.Equal(t, "job not found", NotFoundf("job not found").Error())
	assert.Equal(t, "100% done", NotFoundf("%d%% done", 100).Error())

	wrapped := Wrap(cause, ErrCodeInternal, "save job")
	assert.Equal(t, "save job: connection reset", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "ignored"))
}

func TestConstructors(t *testing.T) {
	cause := errors.New("dial tcp: no route to host")

	tests := []struct {
		name      string
		err       *AppError
		wantCode  ErrorCode
		wantMsg   string
		wantField string
	}{
		{name: "not found", err: NotFoundf("job %s not found", "j1"), wantCode: ErrCodeNotFound, wantMsg: "job j1 not found"},
		{name: "conflict", err: Conflictf("job %s changed", "j1"), wantCode: ErrCodeConflict, wantMsg: "job j1 changed"},
		{name: "validation field", err: ValidationField("limit", "must be positive"), wantCode: ErrCodeValidation, wantMsg: "must be positive", wantField: "limit"},
		{name: "invalid request", err: InvalidRequest("prompt", "prompt is required"), wantCode: ErrCodeInvalidRequest, wantMsg: "prompt is required", wantField: "prompt"},
		{name: "source unavailable", err: SourceUnavailable("repository unreachable", cause), wantCode: ErrCodeSourceUnavailable, wantMsg: "repository unreachable"},
		{name: "generation failed", err: GenerationFailed("syntax check failed"), wantCode: ErrCodeGenerationFailed, wantMsg: "syntax check failed"},
		{name: "build failed", err: BuildFailed("gradle exited 1"), wantCode: ErrCodeBuildFailed, wantMsg: "gradle exited 1"},
		{name: "not ready", err: NotReadyf("job %s is %s", "j1", "generating"), wantCode: ErrCodeNotReady, wantMsg: "job j1 is generating"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, GetCode(tt.err))
			assert.Equal(t, tt.wantMsg, GetMessage(tt.err))
			assert.Equal(t, tt.wantField, GetField(tt.err))
		})
	}

	assert.ErrorIs(t, SourceUnavailable("x", cause), cause)
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	tests := []struct {
		err  *AppError
		pred func(error) bool
	}{
		{NotFoundf("x"), IsNotFound},
		{Conflictf("x"), IsConflict},
		{ValidationField("f", "x"), func(err error) bool { return Is(err, ErrCodeValidation) }},
		{&AppError{Code: ErrCodeTimeout, Message: "x"}, func(err error) bool { return Is(err, ErrCodeTimeout) }},
		{InvalidRequest("mode", "x"), IsInvalidRequest},
		{SourceUnavailable("x", nil), IsSourceUnavailable},
		{GenerationFailed("x"), IsGenerationFailed},
		{BuildFailed("x"), IsBuildFailed},
		{NotReadyf("x"), IsNotReady},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			assert.True(t, tt.pred(tt.err))
			assert.True(t, tt.pred(fmt.Errorf("submit: %w", tt.err)))
			assert.False(t, tt.pred(errors.New(tt.err.Message)))
			assert.False(t, tt.pred(nil))
		})
	}

	// Every predicate matches exactly one code.
	for _, a := range tests {
		matches := 0
		for _, b := range tests {
			if b.pred(a.err) {
				matches++
			}
		}
		require.Equal(t, 1, matches, a.err.Code)
	}
}

func TestAccessorsOnPlainErrors(t *testing.T) {
	plain := errors.New("plain")

	assert.Equal(t, ErrorCode(""), GetCode(plain))
	assert.Equal(t, "plain", GetMessage(plain))
	assert.Equal(t, "", GetField(plain))
	assert.Equal(t, "", GetMessage(nil))
	assert.Equal(t, "outer", GetMessage(Wrap(errors.New("inner"), ErrCodeInternal, "outer")))
}
