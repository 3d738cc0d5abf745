package engine

import (
	"sync"
	"time"
)

// State is a phase of an upload run.
type State string

const (
	StateIdle         State = "idle"
	StatePackaging    State = "packaging"
	StateRequesting   State = "requesting"
	StateTransferring State = "transferring"
	StateFinalizing   State = "finalizing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Progress windows of the overall bar.
const (
	fracPackagingEnd = 0.20
	fracRequesting   = 0.25
	fracTransferLow  = 0.30
	fracTransferHigh = 0.90
	fracFinalizing   = 0.90
	fracDone         = 1.00
)

// ProgressFunc receives the overall fraction (0..1) and a short label.
type ProgressFunc func(fraction float64, label string)

// Progress is a snapshot of the current run, safe for JSON serialization.
type Progress struct {
	RunID          string    `json:"run_id,omitempty"`
	State          State     `json:"state"`
	Fraction       float64   `json:"fraction"`
	Label          string    `json:"label,omitempty"`
	TotalBytes     int64     `json:"total_bytes"`
	BytesSent      int64     `json:"bytes_sent"`
	CurrentPart    int       `json:"current_part,omitempty"`
	TotalParts     int       `json:"total_parts,omitempty"`
	BytesPerSecond int64     `json:"bytes_per_second"`
	ETA            string    `json:"eta,omitempty"`
	StartTime      time.Time `json:"start_time"`
	Elapsed        string    `json:"elapsed"`
	Message        string    `json:"message,omitempty"`
}

// Tracker accumulates run progress in a thread-safe manner. Observers use
// Wait() to block until the next update.
type Tracker struct {
	mu sync.Mutex

	runID       string
	state       State
	fraction    float64
	label       string
	totalBytes  int64
	bytesSent   int64
	currentPart int
	totalParts  int
	startTime   time.Time
	message     string

	// Close-and-replace: every update closes notify and makes a new one.
	notify chan struct{}

	lastByteUpdate time.Time
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		state:  StateIdle,
		notify: make(chan struct{}),
	}
}

// Reset clears the tracker for a new run.
func (t *Tracker) Reset(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runID = runID
	t.state = StateIdle
	t.fraction = 0
	t.label = ""
	t.totalBytes = 0
	t.bytesSent = 0
	t.currentPart = 0
	t.totalParts = 0
	t.message = ""
	t.startTime = time.Now()
	t.lastByteUpdate = time.Time{}
	t.signal()
}

// Snapshot returns a copy of the current progress state.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	var elapsed time.Duration
	if !t.startTime.IsZero() {
		elapsed = time.Since(t.startTime)
	}
	var bytesPerSecond int64
	var eta string
	if elapsed > time.Second && t.bytesSent > 0 {
		bytesPerSecond = int64(float64(t.bytesSent) / elapsed.Seconds())
		if bytesPerSecond > 0 && t.totalBytes > t.bytesSent {
			remaining := t.totalBytes - t.bytesSent
			etaDuration := time.Duration(float64(remaining) / float64(bytesPerSecond) * float64(time.Second))
			eta = etaDuration.Truncate(time.Second).String()
		}
	}

	return Progress{
		RunID:          t.runID,
		State:          t.state,
		Fraction:       t.fraction,
		Label:          t.label,
		TotalBytes:     t.totalBytes,
		BytesSent:      t.bytesSent,
		CurrentPart:    t.currentPart,
		TotalParts:     t.totalParts,
		BytesPerSecond: bytesPerSecond,
		ETA:            eta,
		StartTime:      t.startTime,
		Elapsed:        elapsed.Truncate(time.Second).String(),
		Message:        t.message,
	}
}

// Wait returns a channel that is closed on the next update.
func (t *Tracker) Wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notify
}

// signal must be called with t.mu held.
func (t *Tracker) signal() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// SetState records a phase change.
func (t *Tracker) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
	t.signal()
}

// SetProgress records the overall fraction and label.
func (t *Tracker) SetProgress(fraction float64, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fraction = fraction
	t.label = label
	t.signal()
}

// SetTotals sets the artifact size and part count once the session is open.
func (t *Tracker) SetTotals(totalBytes int64, totalParts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalBytes = totalBytes
	t.totalParts = totalParts
	t.signal()
}

// SetPart records the part being sent.
func (t *Tracker) SetPart(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentPart = n
	t.signal()
}

// SetBytesSent updates the running byte count. Updates are throttled to
// one per 250ms unless final is set.
func (t *Tracker) SetBytesSent(n int64, final bool) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !final && now.Sub(t.lastByteUpdate) < 250*time.Millisecond {
		t.bytesSent = n
		return
	}
	t.lastByteUpdate = now
	t.bytesSent = n
	t.signal()
}

// SetMessage sets a human-readable status message.
func (t *Tracker) SetMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = msg
	t.signal()
}

// reporter forwards progress to the caller and the tracker, never letting
// the fraction go backwards.
type reporter struct {
	fn      ProgressFunc
	tracker *Tracker
	last    float64
}

func (r *reporter) report(fraction float64, label string) {
	if fraction < r.last {
		fraction = r.last
	}
	if fraction > 1 {
		fraction = 1
	}
	r.last = fraction
	r.tracker.SetProgress(fraction, label)
	if r.fn != nil {
		r.fn(fraction, label)
	}
}

// transfer maps bytes done within the artifact into the transfer window.
func (r *reporter) transfer(done, total int64, label string) {
	f := fracTransferHigh
	if total > 0 {
		f = fracTransferLow + (fracTransferHigh-fracTransferLow)*float64(done)/float64(total)
	}
	r.report(f, label)
}
