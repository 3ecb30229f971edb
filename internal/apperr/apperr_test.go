package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		want bool
	}{
		{name: "direct", err: New(NotFound, "addChild", "sale %s", "s1"), kind: NotFound, want: true},
		{name: "other kind", err: New(NotFound, "addChild", "sale"), kind: AccessDenied, want: false},
		{name: "wrapped with fmt", err: fmt.Errorf("outer: %w", New(AccessDenied, "removeChild", "owner")), kind: AccessDenied, want: true},
		{name: "bare kind", err: ConnectivityFailure, kind: ConnectivityFailure, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.kind))
		})
	}
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(ConnectivityFailure, "read", cause, "sales/s1")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ConnectivityFailure)
	assert.Equal(t, ConnectivityFailure, KindOf(err))
	assert.Equal(t, "read: ConnectivityFailure: sales/s1: dial tcp: refused", err.Error())
}

func TestPartial(t *testing.T) {
	assert.NoError(t, Partial("cascadeDelete", 3, 3))
	assert.NoError(t, Partial("cascadeDelete", 3, 3, nil, nil))

	first := errors.New("child a")
	second := errors.New("child b")
	err := Partial("cascadeDelete", 1, 3, first, nil, second)
	assert.ErrorIs(t, err, PartialFailure)
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.Contains(t, err.Error(), "1 of 3 steps completed")
}

func TestKindOf_Plain(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
