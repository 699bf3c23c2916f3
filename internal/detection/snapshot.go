package detection

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxSnapshotBytes caps a single snapshot download.
const maxSnapshotBytes = 16 << 20

// Snapshot fetches still frames from an IP camera's snapshot endpoint.
type Snapshot struct {
	url    string
	client *http.Client
}

// NewSnapshot creates a frame source polling url.
func NewSnapshot(url string, timeout time.Duration) *Snapshot {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Snapshot{url: url, client: &http.Client{Timeout: timeout}}
}

// Frame downloads the current camera frame.
func (s *Snapshot) Frame(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch snapshot: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}
