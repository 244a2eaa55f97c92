package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Bridge reaches the terminal's camera and GPS modules over the local device
// bridge HTTP contract. It implements both Camera and Locator.
type Bridge struct {
	baseURL    string
	httpClient *http.Client
}

func NewBridge(baseURL string) *Bridge {
	return &Bridge{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bridge) Capture(ctx context.Context, opts CaptureOptions) ([]byte, error) {
	body, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/camera/capture", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("camera bridge returned %d: %s", resp.StatusCode, msg)
	}
	return io.ReadAll(resp.Body)
}

func (b *Bridge) Current(ctx context.Context, highAccuracy bool, timeout time.Duration) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/location?highAccuracy=%t&timeoutMs=%d", b.baseURL, highAccuracy, timeout.Milliseconds())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Location{}, err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("location bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Location{}, fmt.Errorf("location bridge returned %d: %s", resp.StatusCode, msg)
	}

	var loc Location
	if err := json.NewDecoder(resp.Body).Decode(&loc); err != nil {
		return Location{}, fmt.Errorf("location bridge payload: %w", err)
	}
	return loc, nil
}
