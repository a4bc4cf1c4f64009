package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatlink/pkg/types"
)

func TestParseServerURL(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"http://localhost:5000", false},
		{"https://chat.example/prefix", false},
		{"ws://localhost:5000", true},
		{"localhost:5000", true},
		{"http://", true},
		{"://bad", true},
	}

	for _, tt := range tests {
		_, err := ParseServerURL(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseServerURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidServerURL) {
			t.Errorf("ParseServerURL(%q) should wrap ErrInvalidServerURL, got %v", tt.raw, err)
		}
	}
}

func TestResolveKeepsPrefix(t *testing.T) {
	base, err := ParseServerURL("http://chat.example/relay/?x=1")
	if err != nil {
		t.Fatalf("ParseServerURL failed: %v", err)
	}
	if got := resolve(base, types.PathPoll).String(); got != "http://chat.example/relay/poll-message" {
		t.Errorf("unexpected resolved URL %s", got)
	}
}

func TestFetchMessage(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantOK  bool
		wantErr error
	}{
		{"message", http.StatusOK, `{"message":"hi","client_id":"bob"}`, true, nil},
		{"no content", http.StatusNoContent, "", false, nil},
		{"null body", http.StatusOK, "null", false, nil},
		{"empty body", http.StatusOK, "", false, nil},
		{"malformed", http.StatusOK, "{oops", false, ErrMalformedMessage},
		{"server error", http.StatusInternalServerError, "boom", false, ErrUnexpectedStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get(types.HeaderClientID); got != "alice" {
					t.Errorf("expected Client-Id alice, got %q", got)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			msg, ok, err := fetchMessage(context.Background(), srv.Client(), srv.URL, "alice")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (msg.Text != "hi" || msg.ClientID != "bob") {
				t.Errorf("unexpected message %+v", msg)
			}
		})
	}
}
