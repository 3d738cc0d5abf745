package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/BadgerOps/glc/internal/failure"
	"github.com/BadgerOps/glc/internal/safety"
)

// ProgressFunc is called as bytes of a range are sent.
// sent is the number of bytes sent so far, total is the range length.
type ProgressFunc func(sent, total int64)

// UploadRange PUTs bytes start..end (inclusive) of the file at path to a
// presigned URL and returns the entity tag from the response. The file is
// read through a section reader of exactly the range length; a file that
// is shorter than the range fails before anything is sent.
func (c *Client) UploadRange(ctx context.Context, uploadURL, path string, start, end int64, onProgress ProgressFunc) (string, error) {
	const op = "upload range"
	length := end - start + 1
	if start < 0 || length < 0 {
		return "", failure.Errorf(failure.KindValidation, op, "invalid byte range %d-%d", start, end)
	}
	if _, err := safety.ValidateHTTPURL(uploadURL); err != nil {
		return "", failure.New(failure.KindRemote, op, fmt.Errorf("server issued a bad upload url: %w", err))
	}

	f, err := os.Open(path)
	if err != nil {
		return "", failure.New(failure.KindArtifactIO, op, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", failure.New(failure.KindArtifactIO, op, err)
	}
	if info.Size() < start+length {
		return "", failure.Errorf(failure.KindArtifactIO, op,
			"artifact is %d bytes but the range ends at byte %d; was it modified during upload?", info.Size(), end)
	}

	var body io.Reader = http.NoBody
	if length > 0 {
		body = &rangeReader{
			reader:   io.NewSectionReader(f, start, length),
			callback: onProgress,
			total:    length,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return "", failure.New(failure.KindValidation, op, fmt.Errorf("failed to create request: %w", err))
	}
	req.ContentLength = length
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug("uploading range", "url", safety.RedactURL(uploadURL), "start", start, "end", end)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := safety.ReadAllWithLimit(resp.Body, maxResponseBytes)
		return "", failure.New(failure.KindRemote, op, &RemoteError{
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		})
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", failure.Errorf(failure.KindMissingEntityTag, op, "object store returned no ETag for bytes %d-%d", start, end)
	}
	return etag, nil
}

// rangeReader reports progress as the transport reads the request body.
type rangeReader struct {
	reader   io.Reader
	callback ProgressFunc
	current  int64
	total    int64
}

func (r *rangeReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	if n > 0 {
		r.current += int64(n)
		if r.callback != nil {
			r.callback(r.current, r.total)
		}
	}
	return n, err
}
