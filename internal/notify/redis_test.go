package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func testEvent() *Event {
	return &Event{
		EventType:    EventType,
		RunID:        "run-001",
		AppID:        12,
		AppName:      "Space Trucker",
		BuildID:      501,
		Success:      true,
		ArtifactName: "Space_Trucker_upload.zip",
		ArtifactSize: 1200,
		Multipart:    true,
		Parts:        3,
		Timestamp:    "2026-03-01T12:00:00Z",
		DurationMs:   1500,
	}
}

// asyncReceive must run before Publish; miniredis delivers synchronously.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func waitMessage(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{}
	}
}

func TestRedisPublish(t *testing.T) {
	mr := miniredis.RunT(t)

	r, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer func() { _ = r.Close() }()

	if r.config.Channel != DefaultRedisChannel {
		t.Errorf("channel = %q, want default", r.config.Channel)
	}

	sub := mr.NewSubscriber()
	sub.Subscribe(DefaultRedisChannel)
	ch := asyncReceive(sub)

	if err := r.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg := waitMessage(t, ch)
	var got Event
	if err := json.Unmarshal([]byte(msg.Message), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RunID != "run-001" || got.BuildID != 501 || !got.Success || got.Parts != 3 {
		t.Errorf("received %+v", got)
	}
}

func TestRedisCustomChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	r, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr(), Channel: "ci:builds"})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer func() { _ = r.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe("ci:builds")
	ch := asyncReceive(sub)

	if err := r.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if msg := waitMessage(t, ch); msg.Channel != "ci:builds" {
		t.Errorf("channel = %q", msg.Channel)
	}
}

func TestRedisOutcomeChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	r, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr(), Channel: "ci:builds"})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer func() { _ = r.Close() }()

	failed := testEvent()
	failed.Success = false
	failed.ErrorKind = "finalize_after_upload"
	if got := r.OutcomeChannel(failed); got != "ci:builds:finalize_after_upload" {
		t.Errorf("OutcomeChannel(failed) = %q", got)
	}
	if got := r.OutcomeChannel(testEvent()); got != "ci:builds:ok" {
		t.Errorf("OutcomeChannel(ok) = %q", got)
	}

	sub := mr.NewSubscriber()
	sub.Subscribe("ci:builds:finalize_after_upload")
	ch := asyncReceive(sub)

	if err := r.Publish(t.Context(), failed); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	msg := waitMessage(t, ch)
	var got Event
	if err := json.Unmarshal([]byte(msg.Message), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ErrorKind != "finalize_after_upload" || got.RunID != "run-001" {
		t.Errorf("received %+v", got)
	}
}

func TestRedisHistoryIsCapped(t *testing.T) {
	mr := miniredis.RunT(t)

	r, err := NewRedis(RedisConfig{URL: "redis://" + mr.Addr(), History: 2})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer func() { _ = r.Close() }()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		e := testEvent()
		e.RunID = id
		if err := r.Publish(t.Context(), e); err != nil {
			t.Fatalf("Publish(%s): %v", id, err)
		}
	}

	items, err := mr.List(r.RecentKey())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("recent list has %d items, want 2", len(items))
	}
	var newest Event
	if err := json.Unmarshal([]byte(items[0]), &newest); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if newest.RunID != "run-3" {
		t.Errorf("newest = %s, want run-3", newest.RunID)
	}
}

func TestRedisConnectionRefused(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	r, err := NewRedis(RedisConfig{URL: "redis://" + addr, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer func() { _ = r.Close() }()

	if err := r.Publish(t.Context(), testEvent()); err == nil {
		t.Fatal("expected error from closed server")
	}
}

func TestNewRedisValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  RedisConfig
	}{
		{"empty url", RedisConfig{}},
		{"bad scheme", RedisConfig{URL: "http://localhost:6379"}},
		{"negative retries", RedisConfig{URL: "redis://localhost:6379", Retries: -1}},
		{"negative history", RedisConfig{URL: "redis://localhost:6379", History: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRedis(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
