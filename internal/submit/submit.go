// Package submit uploads accepted document sides to the processing endpoint.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/MeKo-Tech/idcap/internal/frame"
	"github.com/MeKo-Tech/idcap/internal/version"
)

// RequestIDHeader carries the id shared by all uploads of one submission.
const RequestIDHeader = "X-Request-ID"

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 4 << 10

// HTTPError is a non-2xx answer from the endpoint.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("submission rejected: HTTP %d", e.Status)
	}
	return fmt.Sprintf("submission rejected: HTTP %d: %s", e.Status, e.Body)
}

// Upload is one named document image.
type Upload struct {
	Name  string
	Image *frame.Buffer
}

type payload struct {
	ImageName string `json:"image_name"`
	ImageData string `json:"image_data"`
}

// Client posts uploads to URL.
type Client struct {
	URL  string
	HTTP *http.Client
}

// NewClient creates a client with the given per-request timeout.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{URL: url, HTTP: &http.Client{Timeout: timeout}}
}

// Submit posts every upload concurrently. It fails if any upload fails and
// cancels the remaining requests on the first failure.
func (c *Client) Submit(ctx context.Context, token string, uploads []Upload) error {
	if c.URL == "" {
		return errors.New("submit: no endpoint configured")
	}
	if len(uploads) == 0 {
		return errors.New("submit: nothing to upload")
	}
	requestID := uuid.NewString()
	log := slog.With("request_id", requestID)

	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	for _, u := range uploads {
		p.Go(func(ctx context.Context) error {
			if err := c.post(ctx, token, requestID, u); err != nil {
				log.Warn("upload failed", "image", u.Name, "error", err)
				return fmt.Errorf("upload %s: %w", u.Name, err)
			}
			log.Debug("upload done", "image", u.Name)
			return nil
		})
	}
	return p.Wait()
}

func (c *Client) post(ctx context.Context, token, requestID string, u Upload) error {
	if u.Image == nil || u.Image.Empty() {
		return frame.ErrEmptyBuffer
	}
	data, err := u.Image.Base64PNG()
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload{ImageName: u.Name, ImageData: data})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("User-Agent", version.UserAgent())

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
