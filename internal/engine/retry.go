package engine

import (
	"context"
	"time"

	"github.com/BadgerOps/glc/internal/api"
	"github.com/BadgerOps/glc/internal/failure"
	"github.com/BadgerOps/glc/internal/store"
)

// RetryFinalize re-sends only the finalize call of a recorded run whose
// bytes were all acknowledged. Nothing is uploaded again.
func (o *Orchestrator) RetryFinalize(ctx context.Context, runID string) *Outcome {
	if !o.running.CompareAndSwap(false, true) {
		return &Outcome{Started: false, Err: ErrBusy, State: o.State()}
	}
	defer o.running.Store(false)

	start := time.Now()
	out := &Outcome{Started: true, RunID: runID, State: StateFinalizing}
	o.tracker.Reset(runID)

	rec, results, err := o.loadFinalizable(runID)
	if err == nil {
		out.BuildID = rec.BuildID
		out.Multipart = rec.Mode == ModeMultipart
		out.BytesSent = rec.BytesSent
		out.Parts = results
		o.setState(StateFinalizing)
		o.logger.Info("retrying finalize", "run_id", runID, "build_id", rec.BuildID, "parts", len(results))
		err = o.finalize(ctx, rec.BuildID, rec.SessionKey, rec.SessionID, results)
	}

	out.Duration = time.Since(start)
	appID, appName := int64(0), ""
	if rec != nil {
		appID, appName = rec.AppID, rec.AppName
	}

	if err != nil {
		out.Err = err
		out.Kind = failure.KindOf(err)
		o.setState(StateFailed)
		o.logger.Error("finalize retry failed", "run_id", runID, "kind", out.Kind, "error", err)
	} else {
		out.Success = true
		out.State = StateDone
		o.setState(StateDone)
		o.logger.Info("finalize retry succeeded", "run_id", runID, "build_id", out.BuildID)
	}

	if rec != nil && failure.KindOf(err) != failure.KindValidation {
		rec.EndTime = time.Now().UTC()
		rec.Phase = string(out.State)
		if out.Success {
			rec.State = store.StateDone
			rec.ErrorKind, rec.ErrorMessage = "", ""
		} else {
			rec.State = store.StateFailed
			rec.ErrorKind = string(out.Kind)
			rec.ErrorMessage = err.Error()
		}
		if uerr := o.recorder.UpdateRun(rec); uerr != nil {
			o.logger.Warn("failed to update upload run", "run_id", runID, "error", uerr)
		}
		o.publish(ctx, appID, appName, out)
	}
	return out
}

// loadFinalizable returns the run and its part results when the run can be
// finalized from history alone.
func (o *Orchestrator) loadFinalizable(runID string) (*store.UploadRun, []api.PartResult, error) {
	const op = "retry finalize"
	if o.recorder == nil {
		return nil, nil, failure.Errorf(failure.KindValidation, op, "no run history configured")
	}
	rec, err := o.recorder.GetRun(runID)
	if err != nil {
		return nil, nil, failure.New(failure.KindValidation, op, err)
	}
	if rec.State == store.StateDone {
		return rec, nil, failure.Errorf(failure.KindValidation, op, "run %s already completed", runID)
	}
	if rec.BuildID == 0 || rec.SessionKey == "" {
		return rec, nil, failure.Errorf(failure.KindValidation, op, "run %s never opened an upload session", runID)
	}
	if rec.Mode != ModeMultipart {
		if rec.BytesSent < rec.ArtifactSize {
			return rec, nil, failure.Errorf(failure.KindValidation, op,
				"run %s sent %d of %d bytes; upload again", runID, rec.BytesSent, rec.ArtifactSize)
		}
		return rec, nil, nil
	}

	stored, err := o.recorder.ListParts(runID)
	if err != nil {
		return rec, nil, failure.New(failure.KindUnknown, op, err)
	}
	if len(stored) != rec.TotalParts {
		return rec, nil, failure.Errorf(failure.KindValidation, op,
			"run %s has %d of %d parts acknowledged; upload again", runID, len(stored), rec.TotalParts)
	}
	results := make([]api.PartResult, len(stored))
	for i, p := range stored {
		results[i] = api.PartResult{PartNumber: p.PartNumber, ETag: p.ETag}
	}
	return rec, results, nil
}
