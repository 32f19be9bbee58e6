package module

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GustoCredentialSource supplies the API origin and an authenticated client.
// *GustoCredential implements it.
type GustoCredentialSource interface {
	BaseURL() string
	HTTPClient(ctx context.Context) (*http.Client, error)
}

// RequestDescriptor is the outbound request built for one call.
type RequestDescriptor struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    map[string]any // nil when the body is omitted
	Query   url.Values     // nil when there is no query string
}

// GustoAPIError wraps any failure of a Gusto API call.
type GustoAPIError struct {
	// StatusCode is 0 when no response was received.
	StatusCode int
	Message    string
	// Description carries the detail of the original failure: Gusto's error
	// payload or the transport error text.
	Description string
	Err         error
}

func (e *GustoAPIError) Error() string {
	return "Gusto API request failed: " + e.Message
}

func (e *GustoAPIError) Unwrap() error { return e.Err }

// GustoClient performs single requests against the Gusto REST API. It
// never retries or paginates.
type GustoClient struct {
	cred    GustoCredentialSource
	metrics *MetricsCollector
}

// NewGustoClient creates a client for the given credential.
func NewGustoClient(cred GustoCredentialSource) *GustoClient {
	return &GustoClient{cred: cred}
}

// WithMetrics records every request into m.
func (c *GustoClient) WithMetrics(m *MetricsCollector) *GustoClient {
	c.metrics = m
	return c
}

// Describe builds the request descriptor for a call without sending it.
func (c *GustoClient) Describe(method, endpoint string, body, query map[string]any) RequestDescriptor {
	d := RequestDescriptor{
		Method: method,
		URL:    c.cred.BaseURL() + endpoint,
		Headers: map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		},
	}
	if len(body) > 0 {
		d.Body = body
	}
	if q := encodeQuery(query); len(q) > 0 {
		d.Query = q
	}
	return d
}

// Request sends one request and decodes the JSON response. An empty response
// body decodes to nil.
func (c *GustoClient) Request(ctx context.Context, method, endpoint string, body, query map[string]any) (any, error) {
	d := c.Describe(method, endpoint, body, query)

	ctx, span := tracer.Start(ctx, "gusto.request", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("gusto.endpoint", endpoint),
	)
	defer span.End()

	start := time.Now()
	result, status, err := c.do(ctx, d)
	if c.metrics != nil {
		c.metrics.RecordGustoRequest(method, status, time.Since(start))
	}
	if status > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

func (c *GustoClient) do(ctx context.Context, d RequestDescriptor) (any, int, error) {
	var bodyReader io.Reader
	if d.Body != nil {
		data, err := json.Marshal(d.Body)
		if err != nil {
			return nil, 0, &GustoAPIError{Message: "encode request body", Description: err.Error(), Err: err}
		}
		bodyReader = bytes.NewReader(data)
	}

	target := d.URL
	if d.Query != nil {
		target += "?" + d.Query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, d.Method, target, bodyReader)
	if err != nil {
		return nil, 0, &GustoAPIError{Message: err.Error(), Description: err.Error(), Err: err}
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	httpClient, err := c.cred.HTTPClient(ctx)
	if err != nil {
		return nil, 0, &GustoAPIError{Message: err.Error(), Description: err.Error(), Err: err}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, &GustoAPIError{Message: err.Error(), Description: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &GustoAPIError{
			StatusCode:  resp.StatusCode,
			Message:     "read response body: " + err.Error(),
			Description: err.Error(),
			Err:         err,
		}
	}

	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, &GustoAPIError{
			StatusCode:  resp.StatusCode,
			Message:     fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			Description: describeErrorBody(raw),
		}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, resp.StatusCode, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp.StatusCode, &GustoAPIError{
			StatusCode:  resp.StatusCode,
			Message:     "invalid JSON response",
			Description: truncate(string(raw), 512),
			Err:         err,
		}
	}
	return out, resp.StatusCode, nil
}

// describeErrorBody extracts a readable description from a Gusto error
// payload, falling back to the raw body.
func describeErrorBody(raw []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return truncate(strings.TrimSpace(string(raw)), 512)
	}
	if errs, ok := payload["errors"]; ok {
		if s := flattenErrors(errs); s != "" {
			return s
		}
	}
	for _, key := range []string{"message", "error_description", "error"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return truncate(strings.TrimSpace(string(raw)), 512)
}

// flattenErrors renders the shapes Gusto uses for "errors": a list of
// {error_key, category, message} objects, a map of field to messages, or a
// plain string.
func flattenErrors(v any) string {
	switch errs := v.(type) {
	case string:
		return errs
	case []any:
		parts := make([]string, 0, len(errs))
		for _, e := range errs {
			switch item := e.(type) {
			case map[string]any:
				msg, _ := item["message"].(string)
				if key, _ := item["error_key"].(string); key != "" && msg != "" {
					msg = key + ": " + msg
				}
				if msg != "" {
					parts = append(parts, msg)
				}
			case string:
				parts = append(parts, item)
			}
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		keys := make([]string, 0, len(errs))
		for k := range errs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+flattenErrors(errs[k]))
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

func encodeQuery(query map[string]any) url.Values {
	if len(query) == 0 {
		return nil
	}
	q := url.Values{}
	for k, v := range query {
		switch val := v.(type) {
		case nil:
		case []any:
			for _, item := range val {
				q.Add(k, stringify(item))
			}
		case []string:
			for _, item := range val {
				q.Add(k, item)
			}
		default:
			if s := stringify(val); s != "" {
				q.Set(k, s)
			}
		}
	}
	return q
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsGustoStatus reports whether err is a GustoAPIError with the given status.
func IsGustoStatus(err error, status int) bool {
	var apiErr *GustoAPIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
