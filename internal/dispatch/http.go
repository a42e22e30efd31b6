package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skein-dev/skein/pkg/schema"
)

// HTTPConfig configures the net.http_request action.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	Client          *http.Client
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

const httpRequestInputSchema = `{
  "type": "object",
  "properties": {
    "method": {"type": "string", "default": "GET"},
    "url": {"type": "string"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "timeout": {"type": "string"},
    "fail_on_error_status": {"type": "boolean", "default": false}
  },
  "required": ["url"]
}`

// HTTPRequestAction implements "net.http_request".
type HTTPRequestAction struct {
	config HTTPConfig
}

func NewHTTPRequestAction(cfg HTTPConfig) *HTTPRequestAction {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &HTTPRequestAction{config: cfg}
}

func (a *HTTPRequestAction) Name() string { return "net.http_request" }

func (a *HTTPRequestAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Execute an HTTP request and return status, headers and decoded body.",
		InputSchema: json.RawMessage(httpRequestInputSchema),
	}
}

func (a *HTTPRequestAction) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	rawURL := stringParam(params, "url", "")
	if rawURL == "" {
		return nil, schema.NewError(schema.ErrCodeActionDispatch, "net.http_request: missing required param 'url'")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeActionDispatch, "net.http_request: invalid url %q", rawURL)
	}

	method := strings.ToUpper(stringParam(params, "method", "GET"))
	failOnErrorStatus := boolParam(params, "fail_on_error_status", false)

	timeout := a.config.DefaultTimeout
	if ts := stringParam(params, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			timeout = d
		}
	}

	var bodyReader io.Reader
	contentType := ""
	if rawBody, ok := params["body"]; ok && rawBody != nil {
		b, err := json.Marshal(rawBody)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeActionDispatch, "net.http_request: marshal body").WithCause(err)
		}
		bodyReader = strings.NewReader(string(b))
		contentType = "application/json"
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeActionDispatch, "net.http_request: build request").WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	start := time.Now()
	res, err := a.config.Client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeActionDispatch, "net.http_request: %s %s failed", method, rawURL).WithCause(err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, a.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeActionDispatch, "net.http_request: read response").WithCause(err)
	}

	var body any
	respContentType := res.Header.Get("Content-Type")
	if strings.Contains(respContentType, "application/json") {
		if err := json.Unmarshal(raw, &body); err != nil {
			body = string(raw)
		}
	} else {
		body = string(raw)
	}

	headers := make(map[string]any, len(res.Header))
	for k := range res.Header {
		headers[k] = res.Header.Get(k)
	}

	out := map[string]any{
		"status_code":  res.StatusCode,
		"status":       res.Status,
		"headers":      headers,
		"body":         body,
		"content_type": respContentType,
		"duration_ms":  time.Since(start).Milliseconds(),
	}

	if failOnErrorStatus && res.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeActionDispatch, "net.http_request: %s %s returned %s", method, rawURL, res.Status).
			WithDetails(map[string]any{"status_code": res.StatusCode})
	}
	return out, nil
}
