package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestWebhookPublish(t *testing.T) {
	var got Event
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w, err := NewWebhook(WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer ci-token"},
	})
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got.RunID != "run-001" || got.AppName != "Space Trucker" {
		t.Errorf("received %+v", got)
	}
	if auth != "Bearer ci-token" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestWebhookClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	w, err := NewWebhook(WebhookConfig{URL: srv.URL, Retries: 3})
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}

	err = w.Publish(t.Context(), testEvent())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadRequest {
		t.Fatalf("Publish() error = %v, want StatusError 400", err)
	}
	if !strings.Contains(err.Error(), "non-retriable") {
		t.Errorf("error = %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestWebhookServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w, err := NewWebhook(WebhookConfig{URL: srv.URL, Retries: 1})
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	if err := w.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestWebhookCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w, err := NewWebhook(WebhookConfig{URL: srv.URL, Retries: 5})
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	if err := w.Publish(ctx, testEvent()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Publish() = %v, want deadline exceeded", err)
	}
}

func TestNewWebhookValidation(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com/hook", "https://user:pw@example.com/hook"} {
		if _, err := NewWebhook(WebhookConfig{URL: raw}); err == nil {
			t.Errorf("NewWebhook(%q) expected error", raw)
		}
	}
}

type recordingPublisher struct {
	events []*Event
	err    error
	closed bool
}

func (r *recordingPublisher) Publish(_ context.Context, e *Event) error {
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingPublisher) Close() error {
	r.closed = true
	return nil
}

func TestFanout(t *testing.T) {
	ok := &recordingPublisher{}
	bad := &recordingPublisher{err: errors.New("down")}
	f := Fanout{bad, ok}

	err := f.Publish(t.Context(), testEvent())
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("Publish() = %v, want joined error", err)
	}
	if len(ok.events) != 1 {
		t.Error("second publisher skipped after first failed")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if !ok.closed || !bad.closed {
		t.Error("Close() did not reach every publisher")
	}
}

func TestEventStamp(t *testing.T) {
	e := &Event{}
	e.Stamp(time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600)))
	if e.EventType != EventType {
		t.Errorf("EventType = %q", e.EventType)
	}
	if e.Timestamp != "2026-03-01T11:00:00Z" {
		t.Errorf("Timestamp = %q", e.Timestamp)
	}
}
