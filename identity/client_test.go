package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantUser   User
		wantReason Reason
		wantErr    bool
	}{
		{
			name: "valid token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer tok-A", r.Header.Get("Authorization"))
				w.Write([]byte(`{"id":100,"name":"alice","avatar":"https://cdn/a.png"}`))
			},
			wantUser: User{ID: 100, DisplayName: "alice", AvatarURL: "https://cdn/a.png"},
		},
		{
			name: "missing avatar substitutes default",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"id":200,"name":"bob"}`))
			},
			wantUser: User{ID: 200, DisplayName: "bob", AvatarURL: "https://default/avatar.png"},
		},
		{
			name: "rejected token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			wantErr:    true,
			wantReason: ReasonUnauthorized,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`not json`))
			},
			wantErr:    true,
			wantReason: ReasonMalformed,
		},
		{
			name: "missing id field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"name":"ghost"}`))
			},
			wantErr:    true,
			wantReason: ReasonMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := New(srv.URL, "https://default/avatar.png", 0)
			u, err := c.Resolve(context.Background(), "tok-A")

			if tt.wantErr {
				require.Error(t, err)
				var identErr *Error
				require.ErrorAs(t, err, &identErr)
				assert.Equal(t, tt.wantReason, identErr.Reason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, u)
		})
	}
}

func TestClient_Resolve_Unreachable(t *testing.T) {
	c := New("http://127.0.0.1:0", "https://default/avatar.png", 500*time.Millisecond)
	_, err := c.Resolve(context.Background(), "tok-A")
	require.Error(t, err)
	var identErr *Error
	require.ErrorAs(t, err, &identErr)
	assert.Equal(t, ReasonUnreachable, identErr.Reason)
}
