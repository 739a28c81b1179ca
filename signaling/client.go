package signaling

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mengelbart/icesrc/ice"
)

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) SendDescription(ctx context.Context, d *ice.Description) error {
	payload, err := d.Marshal()
	if err != nil {
		return err
	}
	return c.post(ctx, descriptionPath, payload)
}

func (c *HTTPClient) SendCandidate(ctx context.Context, candidate ice.Candidate) error {
	return c.post(ctx, candidatePath, []byte(candidate.String()))
}

// FetchDescription gets the description of the remote peer.
func (c *HTTPClient) FetchDescription(ctx context.Context) (*ice.Description, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+descriptionPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch session description: %v", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	return ice.UnmarshalDescription(body)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentTypeSDP)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("failed to post to %v: %v: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
