// Package backend is a small HTTP client for the hospital backend REST API.
// Every response is a JSON envelope whose "message" field must be "success";
// any other envelope, status code or transport error is a failure.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNonSuccess = errors.New("backend: non-success response")
	ErrBadStatus  = errors.New("backend: unexpected http status")
)

const (
	successMessage = "success"
	maxBodyBytes   = 10 << 20
)

// EnvelopeError carries the message of a non-success envelope.
type EnvelopeError struct {
	Path    string
	Message string
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("backend %s: message %q", e.Path, e.Message)
}

func (e *EnvelopeError) Unwrap() error { return ErrNonSuccess }

// StatusError carries an HTTP status >= 400.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s: http %d: %s", e.Path, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrBadStatus }

// FilePart is one file in a multipart request.
type FilePart struct {
	Field       string
	FileName    string
	ContentType string
	Content     io.Reader
}

// Multipart is a multipart/form-data request body.
type Multipart struct {
	Fields map[string]string
	Files  []FilePart
}

// Client talks to the backend on behalf of a bearer token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a Client rooted at baseURL.
func New(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/",
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Get fetches path and decodes the envelope into out.
func (c *Client) Get(ctx context.Context, token, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, token, path, nil, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

// PostJSON posts body as JSON and decodes the envelope into out.
func (c *Client) PostJSON(ctx context.Context, token, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, token, path, nil, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

// PostMultipart posts form as multipart/form-data and decodes the envelope
// into out.
func (c *Client) PostMultipart(ctx context.Context, token, path string, query url.Values, form Multipart, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range form.Fields {
		if err := w.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}
	for _, f := range form.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.FileName))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("create part %s: %w", f.FileName, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return fmt.Errorf("copy %s: %w", f.FileName, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, token, path, query, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, path, out)
}

func (c *Client) newRequest(ctx context.Context, method, token, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, path string, out any) error {
	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug().
		Str("request_id", req.Header.Get("X-Request-ID")).
		Str("method", req.Method).
		Str("path", path).
		Int("status", res.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("backend call")

	if res.StatusCode >= http.StatusBadRequest {
		return &StatusError{Path: path, Code: res.StatusCode, Body: truncate(string(body), 256)}
	}

	var env struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return &EnvelopeError{Path: path, Message: "malformed envelope: " + err.Error()}
	}
	if !strings.EqualFold(env.Message, successMessage) {
		return &EnvelopeError{Path: path, Message: env.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
