package api

import "github.com/BadgerOps/glc/internal/parts"

// envelope wraps every response body from the build service.
type envelope[T any] struct {
	Result        *T       `json:"result"`
	IsSuccess     bool     `json:"isSuccess"`
	ErrorMessages []string `json:"errorMessages"`
	StatusCode    int      `json:"statusCode"`
}

// Identity is the account a login resolved to.
type Identity struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Token    string   `json:"token"`
	Roles    []string `json:"roles"`
	PlanName string   `json:"-"`
}

type loginRequest struct {
	APIKey string `json:"apiKey"`
}

type loginResponse struct {
	Identity
	Subscription *struct {
		Plan *struct {
			Name string `json:"name"`
		} `json:"plan"`
	} `json:"subscription"`
}

// Target is a remote app that builds can be uploaded to.
type Target struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	BuildCount    int    `json:"buildCount"`
	IsOwnedByUser bool   `json:"isOwnedByUser"`
}

// TargetList is the set of apps visible to the caller.
type TargetList struct {
	Apps      []Target `json:"apps"`
	TotalApps int      `json:"totalApps"`
	PlanName  string   `json:"planName"`
}

// Eligibility is the plan check for an upload of a given size.
type Eligibility struct {
	Allowed               bool   `json:"canUpload"`
	FileSizeBytes         int64  `json:"fileSizeBytes"`
	UncompressedSizeBytes int64  `json:"uncompressedSizeBytes"`
	PlanName              string `json:"planName"`
	MaxCompressedSizeGB   int    `json:"maxCompressedSizeGB"`
	MaxUncompressedSizeGB int    `json:"maxUncompressedSizeGB"`
}

// OpenSessionRequest describes the artifact about to be sent.
type OpenSessionRequest struct {
	AppID            int64
	FileName         string
	FileSize         int64
	UncompressedSize int64 // 0 when unknown
	BuildNotes       string
}

type startUploadRequest struct {
	AppID                int64  `json:"appId"`
	FileName             string `json:"fileName"`
	FileSize             int64  `json:"fileSize"`
	UncompressedFileSize *int64 `json:"uncompressedFileSize,omitempty"`
	BuildNotes           string `json:"buildNotes"`
	PartSize             *int64 `json:"partSize,omitempty"`
}

type presignedPart struct {
	PartNumber int    `json:"partNumber"`
	UploadURL  string `json:"uploadUrl"`
	StartByte  int64  `json:"startByte"`
	EndByte    int64  `json:"endByte"`
	PartSize   int64  `json:"partSize"`
}

type startUploadResponse struct {
	AppBuildID int64           `json:"appBuildId"`
	UploadURL  string          `json:"uploadUrl"`
	Key        string          `json:"key"`
	FinalURL   string          `json:"finalUrl"`
	PartURLs   []presignedPart `json:"partUrls"`
	UploadID   string          `json:"uploadId"`
	PartSize   int64           `json:"partSize"`
	TotalParts int             `json:"totalParts"`
}

// PartSpec is one presigned byte range of a multipart session.
type PartSpec struct {
	PartNumber int
	UploadURL  string
	StartByte  int64
	EndByte    int64 // inclusive
	ByteLength int64
}

// Range returns the part's byte range.
func (p PartSpec) Range() parts.Range {
	return parts.Range{PartNumber: p.PartNumber, Start: p.StartByte, End: p.EndByte}
}

// TransferSession is the server's answer to OpenSession. It is never
// modified after it is returned.
type TransferSession struct {
	BuildID       int64
	SinglePartURL string
	FinalKey      string
	FinalURL      string
	SessionID     string
	PartSize      int64
	TotalParts    int
	Parts         []PartSpec
}

// Multipart reports whether the server issued a part plan.
func (s *TransferSession) Multipart() bool { return len(s.Parts) > 0 }

// PartResult is the entity tag returned for one uploaded part.
type PartResult struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"eTag"`
}

// FinalizeRequest tells the service the bytes are in place.
type FinalizeRequest struct {
	BuildID   int64
	Key       string
	SessionID string
	Parts     []PartResult
}

type fileReadyRequest struct {
	AppBuildID int64        `json:"appBuildId"`
	Key        string       `json:"key"`
	UploadID   *string      `json:"uploadId,omitempty"`
	Parts      []PartResult `json:"parts,omitempty"`
}

// BuildStatus is the server-side processing state of a build.
type BuildStatus struct {
	BuildID            int64  `json:"appBuildId"`
	AppID              int64  `json:"appId"`
	Status             string `json:"status"`
	FileName           string `json:"fileName"`
	BuildNotes         string `json:"buildNotes"`
	ErrorMessage       string `json:"errorMessage"`
	FileSize           int64  `json:"fileSize"`
	CompressedFileSize int64  `json:"compressedFileSize"`
	StageProgress      int    `json:"stageProgress"`
}
