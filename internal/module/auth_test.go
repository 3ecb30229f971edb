package module

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emrgen/salesdb/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService_RoundTrip(t *testing.T) {
	svc := NewTokenService("a-test-secret-of-some-length", time.Hour)

	token, err := svc.Issue(model.Principal{ID: "agent-1", Role: "agent"})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	p, err := svc.PrincipalFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, model.Principal{ID: "agent-1", Role: "agent"}, p)
}

func TestTokenService_Rejects(t *testing.T) {
	svc := NewTokenService("a-test-secret-of-some-length", time.Hour)
	other := NewTokenService("another-secret-of-some-length", time.Hour)

	foreign, err := other.Issue(model.Principal{ID: "admin-1", Role: model.RoleAdmin})
	require.NoError(t, err)

	expired := NewTokenService("a-test-secret-of-some-length", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := expired.Issue(model.Principal{ID: "agent-1"})
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong secret": foreign,
		"expired":      stale,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestAccessTokenFromHeader(t *testing.T) {
	tests := []struct {
		header string
		want   string
		err    error
	}{
		{"", "", ErrMissingToken},
		{"Basic abc", "", ErrMissingToken},
		{"Bearer ", "", ErrMissingToken},
		{"Bearer abc.def", "abc.def", nil},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}

		got, err := accessTokenFromHeader(req.Header)
		assert.Equal(t, tt.want, got, tt.header)
		assert.ErrorIs(t, err, tt.err, tt.header)
	}
}
