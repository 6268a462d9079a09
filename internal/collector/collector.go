// Package collector forwards intro-step profiles to the collection endpoint.
// Delivery is best effort; callers never wait on it for their own result.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/skin-analysis/internal/demographics"
)

const (
	TypeUserInfo       = "user_info"
	TypeDataCollection = "user_data_collection"

	anonymousName   = "Anonymous"
	unknownLocation = "Unknown"
)

// Submission is the body posted to the collection endpoint.
type Submission struct {
	Name      string `json:"name"`
	Location  string `json:"location"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Source    string `json:"source,omitempty"`
}

// Sender delivers a profile out of band.
type Sender interface {
	Send(profile demographics.Profile, kind, source string)
}

// Client posts profiles in background goroutines bounded by timeout.
type Client struct {
	url     string
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

// New builds a collector. An empty url disables delivery.
func New(url string, httpClient *http.Client, timeout time.Duration, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:     url,
		http:    httpClient,
		timeout: timeout,
		logger:  logger.Named("collector"),
		now:     time.Now,
	}
}

// Send spawns delivery and returns immediately. Failures are logged only.
func (c *Client) Send(profile demographics.Profile, kind, source string) {
	if c.url == "" {
		return
	}
	sub := Submission{
		Name:      profile.Name,
		Location:  profile.Location,
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
		Type:      kind,
		Source:    source,
	}
	if sub.Name == "" {
		sub.Name = anonymousName
	}
	if sub.Location == "" {
		sub.Location = unknownLocation
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.post(ctx, sub); err != nil {
			c.logger.Warn("profile collection failed", zap.Error(err), zap.String("type", kind))
			return
		}
		c.logger.Debug("profile collected", zap.String("type", kind))
	}()
}

// Wait blocks until in-flight deliveries finish. Used at shutdown and in tests.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) post(ctx context.Context, sub Submission) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collection endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
