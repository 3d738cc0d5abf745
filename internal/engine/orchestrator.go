// Package engine drives one upload run end to end: package the build, open
// a transfer session, send the bytes and finalize the remote build.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/BadgerOps/glc/internal/api"
	"github.com/BadgerOps/glc/internal/failure"
	"github.com/BadgerOps/glc/internal/notify"
	"github.com/BadgerOps/glc/internal/packager"
	"github.com/BadgerOps/glc/internal/parts"
	"github.com/BadgerOps/glc/internal/store"
)

// DefaultNotes is sent when a run has no build notes.
const DefaultNotes = "Uploaded from glc"

// Transfer modes recorded in the run history.
const (
	ModeSingle    = "single"
	ModeMultipart = "multipart"
)

// ErrBusy is reported by a Run that was ignored because another run is active.
var ErrBusy = errors.New("an upload is already in progress")

// Service is the subset of the build service the orchestrator needs.
type Service interface {
	CheckEligibility(ctx context.Context, appID, size, uncompressed int64) (*api.Eligibility, error)
	OpenSession(ctx context.Context, req api.OpenSessionRequest) (*api.TransferSession, error)
	UploadRange(ctx context.Context, uploadURL, path string, start, end int64, onProgress api.ProgressFunc) (string, error)
	FinalizeSession(ctx context.Context, req api.FinalizeRequest) error
}

// Builder produces the artifact to upload.
type Builder interface {
	Package(ctx context.Context, preset packager.Preset, onStep packager.StepFunc) (*packager.Artifact, error)
	Compress(ctx context.Context) (*packager.Artifact, error)
	Existing() (*packager.Artifact, error)
}

// Recorder persists run history. *store.Store implements it.
type Recorder interface {
	CreateRun(run *store.UploadRun) error
	UpdateRun(run *store.UploadRun) error
	GetRun(id string) (*store.UploadRun, error)
	RecordPart(part *store.UploadPart) error
	ListParts(runID string) ([]store.UploadPart, error)
}

// Request describes one run.
type Request struct {
	AppID   int64
	AppName string
	Preset  packager.Preset
	Notes   string
	// SkipBuild uploads the build already on disk instead of exporting.
	SkipBuild bool
	// Artifact, when set, is uploaded as is; packaging is skipped.
	Artifact *packager.Artifact
}

// Outcome is the result of a run.
type Outcome struct {
	// Started is false when the run was ignored because another was active.
	Started   bool
	RunID     string
	BuildID   int64
	Success   bool
	Kind      failure.Kind
	Err       error
	State     State // last state entered before the run ended
	Artifact  *packager.Artifact
	Multipart bool
	Parts     []api.PartResult
	BytesSent int64
	Duration  time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records every run and its acknowledged parts.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithPublisher publishes each terminal outcome.
func WithPublisher(p notify.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithPolicy overrides the size policy.
func WithPolicy(p parts.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithEligibilityCheck asks the service whether the plan allows the upload
// before opening a session.
func WithEligibilityCheck(enabled bool) Option {
	return func(o *Orchestrator) { o.checkEligibility = enabled }
}

// WithMaxArtifactSize refuses archives over n bytes before any request.
// Zero disables the local limit.
func WithMaxArtifactSize(n int64) Option {
	return func(o *Orchestrator) { o.maxArtifactSize = n }
}

// WithDashboardURL is included in published events.
func WithDashboardURL(u string) Option {
	return func(o *Orchestrator) { o.dashboardURL = u }
}

// Orchestrator runs uploads one at a time.
type Orchestrator struct {
	service          Service
	builder          Builder
	recorder         Recorder
	publisher        notify.Publisher
	policy           parts.Policy
	checkEligibility bool
	maxArtifactSize  int64
	dashboardURL     string
	logger           *slog.Logger
	tracker          *Tracker

	running atomic.Bool

	mu    sync.RWMutex
	state State
}

// New creates an Orchestrator. builder may be nil when only explicit
// artifacts are uploaded.
func New(service Service, builder Builder, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		service: service,
		builder: builder,
		policy:  parts.Default(),
		logger:  logger,
		tracker: NewTracker(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Progress returns the tracker of the current or last run.
func (o *Orchestrator) Progress() *Tracker {
	return o.tracker
}

// State returns the state of the current or last run.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Busy reports whether a run is in progress.
func (o *Orchestrator) Busy() bool {
	return o.running.Load()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.tracker.SetState(s)
}

// Run performs one upload. A Run issued while another is in progress
// returns immediately with Started == false.
func (o *Orchestrator) Run(ctx context.Context, req Request, onProgress ProgressFunc) *Outcome {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Warn("upload request ignored", "reason", ErrBusy)
		return &Outcome{Started: false, Err: ErrBusy, State: o.State()}
	}
	defer o.running.Store(false)

	r := &run{
		o:     o,
		req:   req,
		start: time.Now(),
		out:   &Outcome{Started: true, RunID: uuid.NewString()},
		rep:   &reporter{fn: onProgress, tracker: o.tracker},
	}
	o.tracker.Reset(r.out.RunID)
	o.setState(StateIdle)

	err := r.execute(ctx)
	r.finish(ctx, err)
	return r.out
}

// run is the mutable state of one Run call.
type run struct {
	o      *Orchestrator
	req    Request
	start  time.Time
	out    *Outcome
	rep    *reporter
	record *store.UploadRun
}

func (r *run) enter(s State) {
	r.out.State = s
	r.o.setState(s)
}

func (r *run) execute(ctx context.Context) error {
	if err := r.validate(); err != nil {
		return err
	}

	r.enter(StatePackaging)
	artifact, err := r.artifact(ctx)
	if err != nil {
		return err
	}
	r.out.Artifact = artifact
	r.rep.report(fracPackagingEnd, "Build ready")
	if err := ctx.Err(); err != nil {
		return failure.New(failure.KindCancelled, "package", err)
	}

	r.enter(StateRequesting)
	r.rep.report(fracRequesting, "Requesting upload")
	session, err := r.openSession(ctx, artifact)
	if err != nil {
		return err
	}

	r.enter(StateTransferring)
	r.rep.report(fracTransferLow, "Uploading")
	results, err := r.transfer(ctx, artifact, session)
	if err != nil {
		return err
	}

	r.enter(StateFinalizing)
	r.rep.report(fracFinalizing, "Finalizing")
	if err := r.o.finalize(ctx, session.BuildID, session.FinalKey, sessionID(session), results); err != nil {
		return err
	}
	r.rep.report(fracDone, "Upload complete")
	return nil
}

func (r *run) validate() error {
	const op = "upload"
	if r.req.AppID <= 0 {
		return failure.Errorf(failure.KindValidation, op, "app id is required")
	}
	if r.req.Artifact != nil {
		return nil
	}
	if r.o.builder == nil {
		return failure.Errorf(failure.KindValidation, op, "no artifact and no packager configured")
	}
	if !r.req.SkipBuild && strings.TrimSpace(r.req.Preset.Name) == "" {
		return failure.Errorf(failure.KindValidation, op, "export preset is required unless skipping the build")
	}
	return nil
}

// artifact returns the file to upload: the explicit one, the existing
// build, or a fresh package.
func (r *run) artifact(ctx context.Context) (*packager.Artifact, error) {
	switch {
	case r.req.Artifact != nil:
		a := *r.req.Artifact
		info, err := os.Stat(a.Path)
		if err != nil {
			return nil, failure.New(failure.KindArtifactIO, "artifact", err)
		}
		if !info.Mode().IsRegular() {
			return nil, failure.Errorf(failure.KindArtifactIO, "artifact", "%s is not a regular file", a.Path)
		}
		a.TotalSize = info.Size()
		return &a, nil

	case r.req.SkipBuild:
		r.rep.report(0, "Checking existing build")
		a, err := r.o.builder.Existing()
		if err != nil {
			return nil, failure.New(failure.KindArtifactIO, "existing build", err)
		}
		if a == nil {
			return nil, failure.Errorf(failure.KindExportOutputMissing, "existing build", "no build found; run without --skip-build first")
		}
		if a.Compressed {
			return a, nil
		}
		r.rep.report(0.10, "Compressing")
		return r.o.builder.Compress(ctx)

	default:
		r.rep.report(0, "Preparing build")
		return r.o.builder.Package(ctx, r.req.Preset, func(step string) {
			switch step {
			case "export":
				r.rep.report(0.02, "Exporting "+r.req.Preset.Name)
			case "compress":
				r.rep.report(0.12, "Compressing")
			}
		})
	}
}

func (r *run) openSession(ctx context.Context, a *packager.Artifact) (*api.TransferSession, error) {
	if limit := r.o.maxArtifactSize; limit > 0 && a.TotalSize > limit {
		return nil, failure.Errorf(failure.KindOversizedArtifact, "size limit",
			"%s exceeds the local limit of %s", parts.Format(a.TotalSize), parts.Format(limit))
	}
	if err := r.o.policy.CheckLimit(a.TotalSize); err != nil {
		return nil, err
	}

	if r.o.checkEligibility {
		el, err := r.o.service.CheckEligibility(ctx, r.req.AppID, a.TotalSize, a.UncompressedSize)
		if err != nil {
			return nil, err
		}
		if !el.Allowed {
			return nil, failure.Errorf(failure.KindOversizedArtifact, "eligibility",
				"the %s plan does not allow this upload (%s; limit %d GB compressed, %d GB uncompressed)",
				el.PlanName, parts.Format(a.TotalSize), el.MaxCompressedSizeGB, el.MaxUncompressedSizeGB)
		}
	}

	notes := strings.TrimSpace(r.req.Notes)
	if notes == "" {
		notes = DefaultNotes
	}
	session, err := r.o.service.OpenSession(ctx, api.OpenSessionRequest{
		AppID:            r.req.AppID,
		FileName:         a.Name(),
		FileSize:         a.TotalSize,
		UncompressedSize: a.UncompressedSize,
		BuildNotes:       notes,
	})
	if err != nil {
		return nil, err
	}
	if err := checkSession(session, a.TotalSize); err != nil {
		return nil, err
	}

	r.out.BuildID = session.BuildID
	r.out.Multipart = session.Multipart()
	totalParts := 1
	if session.Multipart() {
		totalParts = len(session.Parts)
	}
	r.o.tracker.SetTotals(a.TotalSize, totalParts)
	r.begin(a, session, totalParts)
	return session, nil
}

// checkSession rejects a session the transfer could not complete.
func checkSession(s *api.TransferSession, total int64) error {
	const op = "start upload"
	if s.FinalKey == "" {
		return failure.Errorf(failure.KindRemote, op, "protocol: session has no storage key")
	}
	if !s.Multipart() {
		if s.SinglePartURL == "" {
			return failure.Errorf(failure.KindRemote, op, "protocol: session has neither an upload url nor a part plan")
		}
		return nil
	}
	if s.SessionID == "" {
		return failure.Errorf(failure.KindRemote, op, "protocol: multipart session has no upload id")
	}
	ranges := make([]parts.Range, len(s.Parts))
	for i, p := range s.Parts {
		if p.ByteLength != p.EndByte-p.StartByte+1 {
			return failure.Errorf(failure.KindRemote, op,
				"protocol: part %d length %d does not match bytes %d-%d", p.PartNumber, p.ByteLength, p.StartByte, p.EndByte)
		}
		if p.UploadURL == "" {
			return failure.Errorf(failure.KindRemote, op, "protocol: part %d has no upload url", p.PartNumber)
		}
		ranges[i] = p.Range()
	}
	if err := parts.ValidatePlan(total, ranges); err != nil {
		return failure.New(failure.KindRemote, op, fmt.Errorf("protocol: %w", err))
	}
	return nil
}

func sessionID(s *api.TransferSession) string {
	if s.Multipart() {
		return s.SessionID
	}
	return ""
}

// transfer sends the artifact: one PUT, or every part in order. The first
// failure ends the run; later parts are never attempted.
func (r *run) transfer(ctx context.Context, a *packager.Artifact, s *api.TransferSession) ([]api.PartResult, error) {
	total := a.TotalSize

	if !s.Multipart() {
		r.o.tracker.SetPart(1)
		_, err := r.o.service.UploadRange(ctx, s.SinglePartURL, a.Path, 0, total-1, func(sent, _ int64) {
			r.sent(sent, total, "Uploading", false)
		})
		if err != nil {
			return nil, err
		}
		r.sent(total, total, "Uploading", true)
		return nil, nil
	}

	results := make([]api.PartResult, 0, len(s.Parts))
	var done int64
	for _, p := range s.Parts {
		if err := ctx.Err(); err != nil {
			return nil, failure.New(failure.KindCancelled, "upload", err)
		}
		label := fmt.Sprintf("Uploading part %d/%d", p.PartNumber, len(s.Parts))
		r.o.tracker.SetPart(p.PartNumber)
		r.o.logger.Info("uploading part", "part", p.PartNumber, "of", len(s.Parts), "size", parts.Format(p.ByteLength))

		base := done
		etag, err := r.o.service.UploadRange(ctx, p.UploadURL, a.Path, p.StartByte, p.EndByte, func(sent, _ int64) {
			r.sent(base+sent, total, label, false)
		})
		if err != nil {
			r.o.logger.Error("part failed", "part", p.PartNumber, "error", err)
			return nil, err
		}
		if etag == "" {
			return nil, failure.Errorf(failure.KindMissingEntityTag, "upload", "part %d has no entity tag", p.PartNumber)
		}

		done += p.ByteLength
		result := api.PartResult{PartNumber: p.PartNumber, ETag: etag}
		results = append(results, result)
		r.out.Parts = results
		r.sent(done, total, label, true)
		r.recordPart(p, etag)
	}
	return results, nil
}

func (r *run) sent(n, total int64, label string, final bool) {
	r.out.BytesSent = n
	r.o.tracker.SetBytesSent(n, final)
	r.rep.transfer(n, total, label)
}

// finalize tells the service the bytes are in place. Any failure here is
// reported as finalize_after_upload: the bytes are already on the store.
func (o *Orchestrator) finalize(ctx context.Context, buildID int64, key, sessionID string, results []api.PartResult) error {
	err := o.service.FinalizeSession(ctx, api.FinalizeRequest{
		BuildID:   buildID,
		Key:       key,
		SessionID: sessionID,
		Parts:     results,
	})
	if err != nil {
		return failure.New(failure.KindFinalizeAfterUpload, "finalize", err)
	}
	return nil
}

// classify makes sure every run error carries a kind.
func classify(ctx context.Context, err error) error {
	if failure.KindOf(err) != failure.KindUnknown {
		return err
	}
	if ctx.Err() != nil {
		return failure.New(failure.KindCancelled, "upload", err)
	}
	return failure.New(failure.KindUnknown, "upload", err)
}

// finish fills in the outcome, closes the history record and publishes.
func (r *run) finish(ctx context.Context, err error) {
	out := r.out
	out.Duration = time.Since(r.start)
	if err != nil {
		err = classify(ctx, err)
		out.Err = err
		out.Kind = failure.KindOf(err)
		r.o.tracker.SetMessage(err.Error())
		r.o.logger.Error("upload failed",
			"run_id", out.RunID, "state", out.State, "kind", out.Kind, "error", err)
		r.o.setState(StateFailed)
	} else {
		out.Success = true
		out.State = StateDone
		r.o.setState(StateDone)
		r.o.logger.Info("upload complete",
			"run_id", out.RunID, "build_id", out.BuildID, "bytes", out.BytesSent,
			"duration", out.Duration.Round(time.Millisecond))
	}

	r.end(out)
	r.o.publish(ctx, r.req.AppID, r.req.AppName, out)
}

// ============================================================================
// History
// ============================================================================

func (r *run) begin(a *packager.Artifact, s *api.TransferSession, totalParts int) {
	if r.o.recorder == nil {
		return
	}
	mode := ModeSingle
	if s.Multipart() {
		mode = ModeMultipart
	}
	r.record = &store.UploadRun{
		ID:               r.out.RunID,
		AppID:            r.req.AppID,
		AppName:          r.req.AppName,
		BuildID:          s.BuildID,
		ArtifactPath:     a.Path,
		ArtifactSize:     a.TotalSize,
		UncompressedSize: a.UncompressedSize,
		Mode:             mode,
		SessionKey:       s.FinalKey,
		SessionID:        sessionID(s),
		TotalParts:       totalParts,
		State:            store.StateRunning,
		Phase:            string(StateRequesting),
		StartTime:        r.start.UTC(),
	}
	if err := r.o.recorder.CreateRun(r.record); err != nil {
		r.o.logger.Warn("failed to record upload run", "run_id", r.out.RunID, "error", err)
		r.record = nil
	}
}

func (r *run) recordPart(p api.PartSpec, etag string) {
	if r.record == nil {
		return
	}
	err := r.o.recorder.RecordPart(&store.UploadPart{
		RunID:      r.record.ID,
		PartNumber: p.PartNumber,
		StartByte:  p.StartByte,
		EndByte:    p.EndByte,
		ETag:       etag,
	})
	if err != nil {
		r.o.logger.Warn("failed to record part", "run_id", r.record.ID, "part", p.PartNumber, "error", err)
	}
}

func (r *run) end(out *Outcome) {
	if r.record == nil {
		return
	}
	rec := r.record
	rec.BytesSent = out.BytesSent
	rec.Phase = string(out.State)
	rec.EndTime = time.Now().UTC()
	if out.Success {
		rec.State = store.StateDone
	} else {
		rec.State = store.StateFailed
		rec.ErrorKind = string(out.Kind)
		rec.ErrorMessage = out.Err.Error()
	}
	if err := r.o.recorder.UpdateRun(rec); err != nil {
		r.o.logger.Warn("failed to update upload run", "run_id", rec.ID, "error", err)
	}
}

// ============================================================================
// Notification
// ============================================================================

// publish sends the outcome to the configured publishers. It runs even
// after cancellation and never changes the outcome.
func (o *Orchestrator) publish(ctx context.Context, appID int64, appName string, out *Outcome) {
	if o.publisher == nil {
		return
	}
	event := &notify.Event{
		RunID:        out.RunID,
		AppID:        appID,
		AppName:      appName,
		BuildID:      out.BuildID,
		Success:      out.Success,
		ErrorKind:    string(out.Kind),
		ArtifactSize: out.BytesSent,
		Multipart:    out.Multipart,
		Parts:        len(out.Parts),
		DashboardURL: o.dashboardURL,
		DurationMs:   out.Duration.Milliseconds(),
	}
	if out.Err != nil {
		event.Error = out.Err.Error()
	}
	if out.Artifact != nil {
		event.ArtifactName = out.Artifact.Name()
		event.ArtifactSize = out.Artifact.TotalSize
	}
	event.Stamp(time.Now())

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := o.publisher.Publish(pctx, event); err != nil {
		o.logger.Warn("failed to publish upload outcome", "run_id", out.RunID, "error", err)
	}
}
