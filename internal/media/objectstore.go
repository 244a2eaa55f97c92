package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// BucketClient talks to a Supabase-style storage API: objects are PUT under a
// bucket path with a service key, and public URLs are derived from the path.
type BucketClient struct {
	baseURL    string
	bucket     string
	serviceKey string
	httpClient *http.Client
}

func NewBucketClient(baseURL, bucket, serviceKey string) *BucketClient {
	return &BucketClient{
		baseURL:    baseURL,
		bucket:     bucket,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *BucketClient) Upload(ctx context.Context, path, contentType string, data []byte) error {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, escapePath(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, body)
	}
	return nil
}

// ResolveURL returns the public URL for an uploaded object. It is purely
// derived from the path; the object may not exist if its upload failed.
func (c *BucketClient) ResolveURL(_ context.Context, path string) (string, error) {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, c.bucket, escapePath(path)), nil
}

// escapePath escapes each segment while keeping the separators.
func escapePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}
