package respond

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSON(t *testing.T) {
	tests := []struct {
		name string
		code int
		v    any
		body string
	}{
		{name: "object", code: http.StatusOK, v: map[string]int{"epoch": 3}, body: `{"epoch":3}`},
		{name: "slice", code: http.StatusAccepted, v: []string{"a"}, body: `["a"]`},
		{name: "nil", code: http.StatusNoContent, v: nil, body: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			JSON(rec, tt.code, tt.v)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.body == "" {
				assert.Empty(t, rec.Body.String())
				return
			}
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestJSON_EncodingError(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusOK, map[string]any{"f": func() {}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusBadRequest, "limit must be positive")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"limit must be positive"}`, rec.Body.String())
}

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain", err: errors.New("connection refused"), want: "connection refused"},
		{
			name: "url dsn",
			err:  fmt.Errorf("ping database: %w", errors.New("postgres://sift:hunter2@db:5432/sift failed")),
			want: "ping database: postgres://sift:****@db:5432/sift failed",
		},
		{
			name: "keyword dsn",
			err:  errors.New("cannot connect: host=db user=sift password=hunter2 sslmode=disable"),
			want: "cannot connect: host=db user=sift password=**** sslmode=disable",
		},
		{name: "url without password", err: errors.New("dial https://go.dev/blog"), want: "dial https://go.dev/blog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeError(tt.err))
		})
	}
}
