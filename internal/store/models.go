package store

import "time"

// Run states persisted for an upload run.
const (
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// UploadRun records one packaging and upload attempt
type UploadRun struct {
	ID               string // uuid
	AppID            int64
	AppName          string
	BuildID          int64 // 0 until the session is opened
	ArtifactPath     string
	ArtifactSize     int64
	UncompressedSize int64
	Mode             string // "single" or "multipart"
	SessionKey       string
	SessionID        string
	TotalParts       int
	BytesSent        int64
	State            string // "running", "done", "failed"
	Phase            string // last orchestrator state reached
	ErrorKind        string
	ErrorMessage     string
	StartTime        time.Time
	EndTime          time.Time
}

// UploadPart records an acknowledged part of a multipart run
type UploadPart struct {
	ID         int64
	RunID      string
	PartNumber int
	StartByte  int64
	EndByte    int64
	ETag       string
	UploadedAt time.Time
}
