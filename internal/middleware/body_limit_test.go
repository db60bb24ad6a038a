package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMaxBodySize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		bodySize   int
		wantStatus int
	}{
		{"body under limit", 512, http.StatusOK},
		{"body exactly at limit", 1024, http.StatusOK},
		{"declared length over limit", 2048, http.StatusRequestEntityTooLarge},
		{"empty body", 0, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := MaxBodySize(1024)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, err := io.ReadAll(r.Body); err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("POST", "/gateway/send", bytes.NewReader(make([]byte, tt.bodySize)))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// TestMaxBodySizeUnknownLength checks that chunked bodies are still capped.
func TestMaxBodySizeUnknownLength(t *testing.T) {
	t.Parallel()

	var readErr error
	handler := MaxBodySize(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	req := httptest.NewRequest("POST", "/gateway/send", io.NopCloser(bytes.NewReader(make([]byte, 64))))
	req.ContentLength = -1
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var maxErr *http.MaxBytesError
	if readErr == nil {
		t.Fatal("expected read error for oversized body")
	}
	if !errors.As(readErr, &maxErr) {
		t.Errorf("read error = %T, want *http.MaxBytesError", readErr)
	}
}
