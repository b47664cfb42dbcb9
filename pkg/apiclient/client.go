package apiclient

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultBasePath = "/api"
	defaultTimeout  = 15 * time.Second
	maxErrorBody    = 64 * 1024
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "studyhub",
	Subsystem: "backend",
	Name:      "request_duration_seconds",
	Help:      "Duration of requests issued to the study group backend.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
}, []string{"method", "status"})

// CorrelationHeader carries the request correlation id to the backend.
const CorrelationHeader = "X-Correlation-ID"

type correlationKey struct{}

// WithCorrelationID returns a context whose backend requests carry id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id stored in ctx, if any.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// ErrEmptyOrigin is returned when the client is constructed without a backend origin.
var ErrEmptyOrigin = errors.New("backend origin must not be empty")

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function into a TokenSource.
type TokenFunc func() string

// Token implements TokenSource.
func (f TokenFunc) Token() string {
	if f == nil {
		return ""
	}
	return f()
}

// Config describes how to reach the backend REST API.
type Config struct {
	Origin   string
	BasePath string
	Timeout  time.Duration
}

// APIError describes a non-2xx response returned by the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend responded with status %d", e.Status)
	}
	return fmt.Sprintf("backend responded with status %d: %s", e.Status, e.Message)
}

// StatusCode extracts the backend status from err, or 0 when err is not an APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Client issues authenticated requests against the backend REST API.
type Client struct {
	origin  string
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  zerolog.Logger
}

// New constructs a backend client. Requests time out after cfg.Timeout (15s by default) and are never retried.
func New(cfg Config, tokens TokenSource, logger zerolog.Logger) (*Client, error) {
	origin := strings.TrimRight(strings.TrimSpace(cfg.Origin), "/")
	if origin == "" {
		return nil, ErrEmptyOrigin
	}
	if _, err := url.ParseRequestURI(origin); err != nil {
		return nil, fmt.Errorf("invalid backend origin: %w", err)
	}

	basePath := cfg.BasePath
	if basePath == "" {
		basePath = defaultBasePath
	}
	basePath = "/" + strings.Trim(basePath, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if tokens == nil {
		tokens = TokenFunc(nil)
	}

	return &Client{
		origin:  origin,
		baseURL: origin + basePath,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tokens: tokens,
		logger: logger.With().Str("component", "backend_client").Logger(),
	}, nil
}

// Origin returns the backend origin the client targets.
func (c *Client) Origin() string {
	return c.origin
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	return c.doJSON(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		if raw, ok := body.(json.RawMessage); ok {
			reader = bytes.NewReader(raw)
		} else {
			payload, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("encode request body: %w", err)
			}
			reader = bytes.NewReader(payload)
		}
	}

	req, err := c.newRequest(ctx, method, c.resolve(path, query), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, out)
}

// upload sends a multipart form with a single file part named field plus optional text fields.
func (c *Client) upload(ctx context.Context, path string, field string, file FileUpload, fields map[string]string, out interface{}) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("write form field %s: %w", key, err)
		}
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, file.Name))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(file.Content); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.resolve(path, nil), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.send(req, out)
}

// Fetch downloads raw bytes from a file URL. Relative URLs are resolved against the
// backend origin; the bearer token is only sent to that origin.
func (c *Client) Fetch(ctx context.Context, rawURL string, maxBytes int64) ([]byte, string, error) {
	target := strings.TrimSpace(rawURL)
	if target == "" {
		return nil, "", errors.New("file url is required")
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.origin + "/" + strings.TrimLeft(target, "/")
	}

	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	if !c.sameOrigin(req.URL) {
		req.Header.Del("Authorization")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		requestDuration.WithLabelValues(req.Method, "error").Observe(time.Since(start).Seconds())
		return nil, "", fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()
	requestDuration.WithLabelValues(req.Method, fmt.Sprintf("%d", resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", decodeError(resp)
	}

	limit := maxBytes
	if limit <= 0 {
		limit = 20 * 1024 * 1024
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	if int64(len(payload)) > limit {
		return nil, "", ErrFileTooLarge
	}

	return payload, resp.Header.Get("Content-Type"), nil
}

func (c *Client) sameOrigin(target *url.URL) bool {
	origin, err := url.Parse(c.origin)
	if err != nil || target == nil {
		return false
	}
	return strings.EqualFold(origin.Scheme, target.Scheme) && strings.EqualFold(origin.Host, target.Host)
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.tokens.Token())
	if id := CorrelationID(ctx); id != "" {
		req.Header.Set(CorrelationHeader, id)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		requestDuration.WithLabelValues(req.Method, "error").Observe(time.Since(start).Seconds())
		c.logger.Debug().Err(err).Str("method", req.Method).Str("url", req.URL.Path).Msg("backend request failed")
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	requestDuration.WithLabelValues(req.Method, fmt.Sprintf("%d", resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		c.logger.Debug().Int("status", resp.StatusCode).Str("method", req.Method).Str("url", req.URL.Path).Msg("backend request rejected")
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if raw, ok := out.(*json.RawMessage); ok {
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		if len(bytes.TrimSpace(payload)) == 0 {
			payload = []byte("null")
		}
		*raw = json.RawMessage(payload)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

func (c *Client) resolve(path string, query url.Values) string {
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

func decodeError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	message := ""
	if err := json.Unmarshal(payload, &envelope); err == nil {
		switch {
		case envelope.Message != "":
			message = envelope.Message
		case envelope.Error != "":
			message = envelope.Error
		case envelope.Detail != "":
			message = envelope.Detail
		}
	}
	if message == "" {
		message = strings.TrimSpace(string(payload))
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &APIError{Status: resp.StatusCode, Message: message}
}

func escape(segment string) string {
	return url.PathEscape(strings.TrimSpace(segment))
}
