package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// Request is the single message sent per analysis: the image payload keyed
// by the endpoint's image field name.
type Request struct {
	ImageField string
	Image      string
}

// Body returns the wire object for the request.
func (r Request) Body() map[string]string {
	return map[string]string{r.ImageField: r.Image}
}

// Transport delivers a request and returns the raw success body.
type Transport interface {
	Send(ctx context.Context, req Request) ([]byte, error)
}

// HTTPTransport posts JSON to the classifier endpoint.
type HTTPTransport struct {
	url    string
	client *http.Client
}

// NewHTTPTransport builds a transport for url. A nil client uses http.DefaultClient.
func NewHTTPTransport(url string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{url: url, client: client}
}

// Send posts req and returns the body of a 2xx response.
func (t *HTTPTransport) Send(ctx context.Context, req Request) ([]byte, error) {
	payload, err := json.Marshal(req.Body())
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
