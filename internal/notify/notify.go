// Package notify publishes the outcome of an upload run to downstream
// systems such as a CI webhook or a Redis channel.
package notify

import (
	"context"
	"errors"
	"time"
)

// EventType is the only event this package publishes.
const EventType = "upload_completed"

// Event is the payload published when an upload run finishes.
type Event struct {
	EventType    string `json:"event_type"`
	RunID        string `json:"run_id"`
	AppID        int64  `json:"app_id"`
	AppName      string `json:"app_name,omitempty"`
	BuildID      int64  `json:"build_id,omitempty"`
	Success      bool   `json:"success"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
	ArtifactName string `json:"artifact_name,omitempty"`
	ArtifactSize int64  `json:"artifact_size"`
	Multipart    bool   `json:"multipart"`
	Parts        int    `json:"parts"`
	DashboardURL string `json:"dashboard_url,omitempty"`
	Timestamp    string `json:"timestamp"` // RFC 3339
	DurationMs   int64  `json:"duration_ms"`
}

// Stamp fills EventType and Timestamp when unset.
func (e *Event) Stamp(now time.Time) {
	if e.EventType == "" {
		e.EventType = EventType
	}
	if e.Timestamp == "" {
		e.Timestamp = now.UTC().Format(time.RFC3339)
	}
}

// Publisher delivers events to one downstream system.
type Publisher interface {
	// Publish must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// Fanout publishes to every publisher, returning the joined errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event *Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// backoff returns the delay before retry attempt i (1-based).
func backoff(i int) time.Duration {
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

var (
	_ Publisher = Fanout(nil)
	_ Publisher = (*Webhook)(nil)
	_ Publisher = (*Redis)(nil)
)
