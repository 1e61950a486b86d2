package replay

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/request_inspector/internal/types"
	"github.com/go-resty/resty/v2"
)

// ErrNonSuccess marks an upstream response outside the 2xx range.
var ErrNonSuccess = errors.New("upstream returned non-success status")

// StatusError carries the status of a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNonSuccess, e.Status)
}

func (e *StatusError) Is(target error) bool { return target == ErrNonSuccess }

// Doer executes a synthesized request.
type Doer interface {
	Execute(ctx context.Context, req types.SynthesizedRequest) (*types.Response, error)
}

// skippedRequestHeaders are left to the transport: it negotiates compression
// and computes framing itself.
var skippedRequestHeaders = map[string]bool{
	"accept-encoding":   true,
	"content-length":    true,
	"connection":        true,
	"host":              true,
	"transfer-encoding": true,
}

// Executor issues synthesized requests over resty. One attempt per request,
// bounded by the client timeout.
type Executor struct {
	client *resty.Client
}

// NewExecutor creates an Executor whose requests time out after timeout.
func NewExecutor(timeout time.Duration) *Executor {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	return NewExecutorWithClient(client)
}

// NewExecutorWithClient wraps an existing resty client.
func NewExecutorWithClient(client *resty.Client) *Executor {
	return &Executor{client: client}
}

// Execute sends req and returns the upstream response when its status is
// 2xx. Any other status is returned as a *StatusError. The caller owns the
// returned body.
func (e *Executor) Execute(ctx context.Context, req types.SynthesizedRequest) (*types.Response, error) {
	r := e.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)

	for name, value := range req.Headers {
		if value == "" || skippedRequestHeaders[name] {
			continue
		}
		r.SetHeader(name, value)
	}
	if req.HasPayload() {
		r.SetBody([]byte(req.Body))
	}

	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		if resp != nil && resp.RawBody() != nil {
			_ = resp.RawBody().Close()
		}
		return nil, fmt.Errorf("execute %s %s: %w", req.Method, req.URL, err)
	}

	if !resp.IsSuccess() {
		_ = resp.RawBody().Close()
		return nil, &StatusError{StatusCode: resp.StatusCode(), Status: resp.Status()}
	}

	out, err := buildResponse(resp.RawResponse)
	if err != nil {
		_ = resp.RawBody().Close()
		return nil, err
	}
	return out, nil
}

// buildResponse splits the content type into media type and charset and
// collapses repeated headers to their first value.
func buildResponse(raw *http.Response) (*types.Response, error) {
	contentType := raw.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/html"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("parse content type %q: %w", contentType, err)
	}
	charset := params["charset"]
	if charset == "" {
		charset = "UTF-8"
	}

	headers := make(map[string]string, len(raw.Header))
	for name, values := range raw.Header {
		if len(values) == 0 {
			continue
		}
		headers[name] = values[0]
	}
	if raw.Uncompressed {
		// The transport already decoded the body.
		delete(headers, "Content-Encoding")
		delete(headers, "Content-Length")
	}

	statusText := strings.TrimSpace(strings.TrimPrefix(raw.Status, fmt.Sprint(raw.StatusCode)))
	return &types.Response{
		StatusCode: raw.StatusCode,
		StatusText: statusText,
		MediaType:  mediaType,
		Charset:    charset,
		Headers:    headers,
		Body:       raw.Body,
	}, nil
}
