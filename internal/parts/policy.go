// Package parts decides how an artifact is transferred and checks the
// byte ranges of a multipart plan.
package parts

import (
	"fmt"
	"sort"

	"github.com/BadgerOps/glc/internal/failure"
)

const (
	MiB = 1024 * 1024

	// MultipartThreshold is the largest artifact sent in a single PUT.
	MultipartThreshold int64 = 500 * MiB
	// DefaultPartSize is the size of every part but the last.
	DefaultPartSize int64 = 500 * MiB
	// MaxParts is the remote object store's part limit.
	MaxParts = 10000
)

// Policy holds the transfer thresholds. The zero value is not usable; start
// from Default.
type Policy struct {
	Threshold int64
	PartSize  int64
	MaxParts  int
}

// Default returns the protocol constants.
func Default() Policy {
	return Policy{
		Threshold: MultipartThreshold,
		PartSize:  DefaultPartSize,
		MaxParts:  MaxParts,
	}
}

// Range is one contiguous, inclusive byte range of the artifact.
type Range struct {
	PartNumber int
	Start      int64
	End        int64
}

// Len returns the number of bytes covered by the range.
func (r Range) Len() int64 { return r.End - r.Start + 1 }

// OversizedError reports an artifact that needs more parts than allowed.
type OversizedError struct {
	Size    int64
	MaxSize int64
	Parts   int
}

func (e *OversizedError) Error() string {
	return fmt.Sprintf("artifact is %s, which needs %d parts; the maximum is %s",
		Format(e.Size), e.Parts, Format(e.MaxSize))
}

// ShouldChunk reports whether total must be sent as a multipart upload.
// Exactly Threshold bytes still goes as one PUT.
func (p Policy) ShouldChunk(total int64) bool {
	return total > p.Threshold
}

// PartCount returns ceil(total/partSize).
func (p Policy) PartCount(total, partSize int64) int {
	if total <= 0 || partSize <= 0 {
		return 0
	}
	return int((total + partSize - 1) / partSize)
}

// CheckLimit fails with an oversized_artifact error when total cannot be
// expressed within MaxParts parts of PartSize.
func (p Policy) CheckLimit(total int64) error {
	if !p.ShouldChunk(total) {
		return nil
	}
	n := p.PartCount(total, p.PartSize)
	if n <= p.MaxParts {
		return nil
	}
	return failure.New(failure.KindOversizedArtifact, "size check", &OversizedError{
		Size:    total,
		MaxSize: p.PartSize * int64(p.MaxParts),
		Parts:   n,
	})
}

// PartSizeFor returns the part size to request for total bytes. Artifacts
// at or under the threshold are a single part of their own size.
func (p Policy) PartSizeFor(total int64) (int64, error) {
	if err := p.CheckLimit(total); err != nil {
		return 0, err
	}
	if !p.ShouldChunk(total) {
		return total, nil
	}
	return p.PartSize, nil
}

// Plan returns the ranges a well-behaved server hands back for total bytes.
func (p Policy) Plan(total int64) ([]Range, error) {
	size, err := p.PartSizeFor(total)
	if err != nil {
		return nil, err
	}
	n := p.PartCount(total, size)
	ranges := make([]Range, 0, n)
	for i := 0; i < n; i++ {
		start := int64(i) * size
		end := start + size - 1
		if end > total-1 {
			end = total - 1
		}
		ranges = append(ranges, Range{PartNumber: i + 1, Start: start, End: end})
	}
	return ranges, nil
}

// ValidatePlan checks that ranges are numbered 1..n and exactly cover
// [0, total) without gaps or overlap. Input order does not matter.
func ValidatePlan(total int64, ranges []Range) error {
	if len(ranges) == 0 {
		return fmt.Errorf("part plan is empty")
	}
	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	var next int64
	for i, r := range sorted {
		if r.PartNumber != i+1 {
			return fmt.Errorf("part numbers are not sequential: expected %d, got %d", i+1, r.PartNumber)
		}
		if r.End < r.Start {
			return fmt.Errorf("part %d has an empty range %d-%d", r.PartNumber, r.Start, r.End)
		}
		if r.Start != next {
			return fmt.Errorf("part %d starts at byte %d, expected %d", r.PartNumber, r.Start, next)
		}
		next = r.End + 1
	}
	if next != total {
		return fmt.Errorf("part plan covers %d bytes, artifact is %d", next, total)
	}
	return nil
}

var defaultPolicy = Default()

// ShouldChunk applies the default policy.
func ShouldChunk(total int64) bool { return defaultPolicy.ShouldChunk(total) }

// PartSize applies the default policy.
func PartSize(total int64) (int64, error) { return defaultPolicy.PartSizeFor(total) }

// PartCount applies the default policy.
func PartCount(total, partSize int64) int { return defaultPolicy.PartCount(total, partSize) }
