// Package api talks to the build service: authentication, app listing,
// upload sessions against presigned object-store URLs, and build status.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BadgerOps/glc/internal/failure"
	"github.com/BadgerOps/glc/internal/parts"
	"github.com/BadgerOps/glc/internal/safety"
)

// BasePath is the route prefix of every service endpoint.
const BasePath = "/api/cli/build"

// maxResponseBytes caps service and object-store response bodies.
const maxResponseBytes = 4 << 20

// RemoteError is a non-success answer from the service or object store.
type RemoteError struct {
	StatusCode int
	Messages   []string
	Body       string
}

func (e *RemoteError) Error() string {
	detail := strings.Join(e.Messages, "; ")
	if detail == "" {
		detail = strings.TrimSpace(e.Body)
	}
	if detail == "" {
		detail = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, detail)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient shares an existing client (and its connection pool).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the bearer token, e.g. one persisted from a prior login.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithPolicy overrides the size policy used to request part sizes.
func WithPolicy(p parts.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// Client performs the build service operations. It holds no per-upload
// state and is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
	policy     parts.Policy

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger,
		userAgent: "glc/1.0",
		policy:    parts.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = safety.NewHTTPClient(0, nil)
	}
	return c
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Authenticated reports whether a token is present.
func (c *Client) Authenticated() bool { return c.Token() != "" }

// Login exchanges an API key for a token and keeps it on the client.
func (c *Client) Login(ctx context.Context, apiKey string) (*Identity, error) {
	const op = "login"
	if strings.TrimSpace(apiKey) == "" {
		return nil, failure.Errorf(failure.KindValidation, op, "api key is required")
	}

	env, err := callJSON[loginResponse](ctx, c, op, http.MethodPost, "/login-interactive", nil, loginRequest{APIKey: apiKey}, false)
	if err != nil {
		return nil, err
	}
	if env.Result == nil || env.Result.Token == "" {
		return nil, failure.New(failure.KindRemote, op, &RemoteError{
			StatusCode: http.StatusOK,
			Messages:   fallbackMessages(env.ErrorMessages, "login failed"),
		})
	}

	id := env.Result.Identity
	if s := env.Result.Subscription; s != nil && s.Plan != nil {
		id.PlanName = s.Plan.Name
	}
	c.SetToken(id.Token)
	c.logger.Info("logged in", "email", id.Email, "plan", id.PlanName)
	return &id, nil
}

// ListTargets returns the apps the caller may upload to.
func (c *Client) ListTargets(ctx context.Context) (*TargetList, error) {
	env, err := callJSON[TargetList](ctx, c, "list apps", http.MethodGet, "/list-apps", nil, nil, true)
	if err != nil {
		return nil, err
	}
	if err := requireResult(env, "list apps"); err != nil {
		return nil, err
	}
	return env.Result, nil
}

// CheckEligibility asks whether the plan allows an upload of this size.
// uncompressed of 0 is omitted from the query.
func (c *Client) CheckEligibility(ctx context.Context, appID, size, uncompressed int64) (*Eligibility, error) {
	q := url.Values{}
	q.Set("fileSizeBytes", strconv.FormatInt(size, 10))
	q.Set("appId", strconv.FormatInt(appID, 10))
	if uncompressed > 0 {
		q.Set("uncompressedSizeBytes", strconv.FormatInt(uncompressed, 10))
	}

	env, err := callJSON[Eligibility](ctx, c, "can upload", http.MethodGet, "/can-upload", q, nil, true)
	if err != nil {
		return nil, err
	}
	if err := requireResult(env, "can upload"); err != nil {
		return nil, err
	}
	return env.Result, nil
}

// OpenSession starts an upload. A part size is requested when the artifact
// needs a multipart transfer; an oversized artifact fails before any request.
func (c *Client) OpenSession(ctx context.Context, req OpenSessionRequest) (*TransferSession, error) {
	const op = "start upload"
	if req.AppID <= 0 {
		return nil, failure.Errorf(failure.KindValidation, op, "app id is required")
	}
	if req.FileName == "" {
		return nil, failure.Errorf(failure.KindValidation, op, "file name is required")
	}
	if err := c.policy.CheckLimit(req.FileSize); err != nil {
		return nil, err
	}

	body := startUploadRequest{
		AppID:      req.AppID,
		FileName:   req.FileName,
		FileSize:   req.FileSize,
		BuildNotes: req.BuildNotes,
	}
	if req.UncompressedSize > 0 {
		u := req.UncompressedSize
		body.UncompressedFileSize = &u
	}
	if c.policy.ShouldChunk(req.FileSize) {
		size, err := c.policy.PartSizeFor(req.FileSize)
		if err != nil {
			return nil, err
		}
		body.PartSize = &size
	}

	env, err := callJSON[startUploadResponse](ctx, c, op, http.MethodPost, "/start-upload", nil, body, true)
	if err != nil {
		return nil, err
	}
	if err := requireResult(env, op); err != nil {
		return nil, err
	}

	r := env.Result
	session := &TransferSession{
		BuildID:       r.AppBuildID,
		SinglePartURL: r.UploadURL,
		FinalKey:      r.Key,
		FinalURL:      r.FinalURL,
		SessionID:     r.UploadID,
		PartSize:      r.PartSize,
		TotalParts:    r.TotalParts,
	}
	for _, p := range r.PartURLs {
		length := p.PartSize
		if length == 0 {
			length = p.EndByte - p.StartByte + 1
		}
		session.Parts = append(session.Parts, PartSpec{
			PartNumber: p.PartNumber,
			UploadURL:  p.UploadURL,
			StartByte:  p.StartByte,
			EndByte:    p.EndByte,
			ByteLength: length,
		})
	}
	sort.Slice(session.Parts, func(i, j int) bool { return session.Parts[i].PartNumber < session.Parts[j].PartNumber })

	c.logger.Info("upload session opened",
		"build_id", session.BuildID, "multipart", session.Multipart(), "parts", len(session.Parts))
	return session, nil
}

// FinalizeSession reports the upload complete. Every part must carry a
// non-empty entity tag; parts are sent in part-number order.
func (c *Client) FinalizeSession(ctx context.Context, req FinalizeRequest) error {
	const op = "file ready"
	body := fileReadyRequest{AppBuildID: req.BuildID, Key: req.Key}
	if req.SessionID != "" {
		id := req.SessionID
		body.UploadID = &id
	}
	if len(req.Parts) > 0 {
		body.Parts = make([]PartResult, len(req.Parts))
		copy(body.Parts, req.Parts)
		sort.Slice(body.Parts, func(i, j int) bool { return body.Parts[i].PartNumber < body.Parts[j].PartNumber })
		for _, p := range body.Parts {
			if p.ETag == "" {
				return failure.Errorf(failure.KindValidation, op, "part %d has no entity tag", p.PartNumber)
			}
		}
	}

	status, raw, err := c.call(ctx, op, http.MethodPost, "/file-ready", nil, body, true)
	if err != nil {
		return err
	}
	// Any 2xx is accepted, including an empty body. Only an envelope that
	// explicitly reports isSuccess:false is a failure.
	if len(bytes.TrimSpace(raw)) > 0 {
		var ack struct {
			IsSuccess     *bool    `json:"isSuccess"`
			ErrorMessages []string `json:"errorMessages"`
		}
		if json.Unmarshal(raw, &ack) == nil && ack.IsSuccess != nil && !*ack.IsSuccess {
			return failure.New(failure.KindRemote, op, &RemoteError{
				StatusCode: status,
				Messages:   fallbackMessages(ack.ErrorMessages, "finalize failed"),
				Body:       string(raw),
			})
		}
	}
	c.logger.Info("upload finalized", "build_id", req.BuildID, "parts", len(req.Parts))
	return nil
}

// BuildStatus fetches the processing state of a build.
func (c *Client) BuildStatus(ctx context.Context, buildID int64) (*BuildStatus, error) {
	path := "/status/" + strconv.FormatInt(buildID, 10)
	env, err := callJSON[BuildStatus](ctx, c, "build status", http.MethodGet, path, nil, nil, true)
	if err != nil {
		return nil, err
	}
	if err := requireResult(env, "build status"); err != nil {
		return nil, err
	}
	return env.Result, nil
}

// IsTerminalStatus reports whether the service has stopped processing.
func IsTerminalStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "complete", "ready", "active", "failed", "error", "cancelled", "canceled", "rejected":
		return true
	}
	return false
}

// WaitForBuild polls BuildStatus until the build reaches a terminal status
// or ctx is done. onStatus, if set, sees every poll result.
func (c *Client) WaitForBuild(ctx context.Context, buildID int64, interval time.Duration, onStatus func(*BuildStatus)) (*BuildStatus, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.BuildStatus(ctx, buildID)
		if err != nil {
			return nil, err
		}
		if onStatus != nil {
			onStatus(st)
		}
		if IsTerminalStatus(st.Status) {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return st, failure.New(failure.KindCancelled, "wait for build", ctx.Err())
		case <-ticker.C:
		}
	}
}

// callJSON performs one request against the service and decodes the
// response envelope. Non-2xx answers become RemoteError.
func callJSON[T any](ctx context.Context, c *Client, op, method, path string, query url.Values, body any, auth bool) (*envelope[T], error) {
	status, raw, err := c.call(ctx, op, method, path, query, body, auth)
	if err != nil {
		return nil, err
	}
	var env envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, failure.New(failure.KindRemote, op, &RemoteError{
			StatusCode: status,
			Messages:   []string{"invalid response: " + err.Error()},
			Body:       string(raw),
		})
	}
	return &env, nil
}

// call sends one request and returns the status and raw body of a 2xx
// answer. Anything else becomes RemoteError, with envelope messages when
// the body parses as one.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body any, auth bool) (int, []byte, error) {
	token := c.Token()
	if auth && token == "" {
		return 0, nil, failure.Errorf(failure.KindUnauthenticated, op, "not logged in")
	}

	target := c.baseURL + BasePath + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, failure.New(failure.KindValidation, op, fmt.Errorf("encoding request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, failure.New(failure.KindValidation, op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug("api request", "op", op, "method", method, "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	raw, err := safety.ReadAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return 0, nil, transportError(ctx, op, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rerr := &RemoteError{StatusCode: resp.StatusCode, Body: string(raw)}
		var env envelope[json.RawMessage]
		if json.Unmarshal(raw, &env) == nil {
			rerr.Messages = env.ErrorMessages
		}
		return 0, nil, failure.New(failure.KindRemote, op, rerr)
	}
	return resp.StatusCode, raw, nil
}

func requireResult[T any](env *envelope[T], op string) error {
	if env.IsSuccess && env.Result != nil {
		return nil
	}
	return failure.New(failure.KindRemote, op, &RemoteError{
		StatusCode: http.StatusOK,
		Messages:   fallbackMessages(env.ErrorMessages, op+" failed"),
	})
}

func fallbackMessages(msgs []string, fallback string) []string {
	if len(msgs) > 0 {
		return msgs
	}
	return []string{fallback}
}

// transportError classifies a failed round trip. A done context wins over
// the network error it caused.
func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return failure.New(failure.KindCancelled, op, ctxErr)
	}
	if errors.Is(err, context.Canceled) {
		return failure.New(failure.KindCancelled, op, err)
	}
	return failure.New(failure.KindTransport, op, err)
}
