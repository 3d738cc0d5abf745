// Package failure classifies errors raised by the packaging and upload
// pipeline so callers can decide what is safe to retry.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names a failure class.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindExportFailed        Kind = "export_failed"
	KindExportOutputMissing Kind = "export_output_missing"
	KindCompressionFailed   Kind = "compression_failed"
	KindOversizedArtifact   Kind = "oversized_artifact"
	KindUnauthenticated     Kind = "unauthenticated"
	KindRemote              Kind = "remote_error"
	KindTransport           Kind = "transport"
	KindMissingEntityTag    Kind = "missing_entity_tag"
	KindFinalizeAfterUpload Kind = "finalize_after_upload"
	KindArtifactIO          Kind = "artifact_io"
	KindCancelled           Kind = "cancelled"
	KindUnknown             Kind = "unknown"
)

// Sentinels for errors.Is checks against a classified error.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrExportFailed        = &Error{Kind: KindExportFailed}
	ErrExportOutputMissing = &Error{Kind: KindExportOutputMissing}
	ErrCompressionFailed   = &Error{Kind: KindCompressionFailed}
	ErrOversizedArtifact   = &Error{Kind: KindOversizedArtifact}
	ErrUnauthenticated     = &Error{Kind: KindUnauthenticated}
	ErrRemote              = &Error{Kind: KindRemote}
	ErrTransport           = &Error{Kind: KindTransport}
	ErrMissingEntityTag    = &Error{Kind: KindMissingEntityTag}
	ErrFinalizeAfterUpload = &Error{Kind: KindFinalizeAfterUpload}
	ErrArtifactIO          = &Error{Kind: KindArtifactIO}
	ErrCancelled           = &Error{Kind: KindCancelled}
)

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(string(e.Kind))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so the package sentinels work
// with errors.Is regardless of Op or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in the chain,
// or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Remediation describes what state a failure leaves behind.
func Remediation(kind Kind) string {
	switch kind {
	case KindValidation, KindUnauthenticated:
		return "nothing was done; fix the input and retry"
	case KindExportFailed, KindExportOutputMissing, KindCompressionFailed, KindOversizedArtifact:
		return "local work may have been done but nothing was sent"
	case KindRemote, KindTransport, KindMissingEntityTag, KindArtifactIO:
		return "the upload did not complete; running it again starts a new session"
	case KindFinalizeAfterUpload:
		return "bytes were sent but the build is not usable; retry finalize or upload again"
	case KindCancelled:
		return "the run was cancelled"
	default:
		return "unexpected failure"
	}
}

// ExitCode maps a kind to a process exit status.
func ExitCode(kind Kind) int {
	switch kind {
	case "":
		return 0
	case KindValidation, KindUnauthenticated:
		return 2
	case KindExportFailed, KindExportOutputMissing, KindCompressionFailed, KindOversizedArtifact, KindArtifactIO:
		return 3
	case KindRemote, KindTransport, KindMissingEntityTag:
		return 4
	case KindFinalizeAfterUpload:
		return 5
	default:
		return 1
	}
}
