package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("uploading part 3: %w", New(KindMissingEntityTag, "upload part", errors.New("no ETag header")))

	if !errors.Is(err, ErrMissingEntityTag) {
		t.Fatalf("errors.Is(%v, ErrMissingEntityTag) = false", err)
	}
	if errors.Is(err, ErrTransport) {
		t.Fatalf("errors.Is(%v, ErrTransport) = true", err)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), KindUnknown},
		{"direct", New(KindValidation, "run", errors.New("app id required")), KindValidation},
		{"wrapped", fmt.Errorf("outer: %w", New(KindTransport, "get", errors.New("dial"))), KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(KindExportFailed, "export", errors.New("exit status 1"))
	if got, want := err.Error(), "export: exit status 1"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := &Error{Kind: KindCancelled}
	if got := bare.Error(); got != "cancelled" {
		t.Errorf("Error() = %q, want %q", got, "cancelled")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{"", 0},
		{KindValidation, 2},
		{KindCompressionFailed, 3},
		{KindRemote, 4},
		{KindFinalizeAfterUpload, 5},
		{KindUnknown, 1},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.kind); got != tt.want {
			t.Errorf("ExitCode(%q) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
