package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPTransport issues one POST per call and decodes the response body as
// the JSON-RPC response, grounded on goadesign-goa-ai's httpcaller.go. It
// has no server-push channel, so SetNotificationHandler is a no-op — on
// this transport kind the manager's tool cache is filled once at Register
// and is not refreshed when the server's catalog changes (§4.5).
type HTTPTransport struct {
	url    string
	client *http.Client
	header http.Header
}

func NewHTTPTransport(url string, timeout time.Duration, header http.Header) *HTTPTransport {
	if header == nil {
		header = http.Header{}
	}
	return &HTTPTransport{
		url:    url,
		client: &http.Client{Timeout: timeout},
		header: header,
	}
}

func (t *HTTPTransport) SetNotificationHandler(func(method string, params json.RawMessage)) {}

func (t *HTTPTransport) Call(ctx context.Context, request []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(request))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range t.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post to tool server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tool server returned status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// Send POSTs a one-way notification and discards any response body — the
// JSON-RPC spec allows a server to reply 202 Accepted with no body to a
// notification.
func (t *HTTPTransport) Send(ctx context.Context, notification []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(notification))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range t.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification to tool server: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("tool server returned status %d for notification", resp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) Close() error { return nil }
