// Package detection turns camera frames into face descriptors using the
// face embedding server.
package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/identity"
)

const defaultURL = "http://localhost:8000"

var (
	// ErrUnavailable means the embedding server could not be reached or failed.
	ErrUnavailable = errors.New("face detector unavailable")

	// ErrInvalidFrame means the frame could not be decoded as an image.
	ErrInvalidFrame = errors.New("invalid frame")
)

// Face is a single detected face.
type Face struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse is the body returned by /embed/face.
type FaceResponse struct {
	FacesCount int    `json:"faces_count"`
	Faces      []Face `json:"faces"`
	Model      string `json:"model"`
}

// Client calls the embedding server.
type Client struct {
	baseURL  string
	maxFrame int
	client   *http.Client
}

// NewClient creates a detector client from cfg.
func NewClient(cfg config.DetectionConfig) *Client {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = defaultURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		maxFrame: cfg.MaxFrame,
		client:   &http.Client{Timeout: timeout},
	}
}

// Detect returns the descriptor of the first face in frame. ok is false when
// the frame holds no face.
func (c *Client) Detect(ctx context.Context, frame []byte) (identity.Descriptor, bool, error) {
	resp, err := c.DetectFaces(ctx, frame)
	if err != nil {
		return nil, false, err
	}
	for _, f := range resp.Faces {
		if len(f.Embedding) > 0 {
			return identity.Descriptor(f.Embedding), true, nil
		}
	}
	return nil, false, nil
}

// DetectFaces downsizes frame and returns every face the server found.
func (c *Client) DetectFaces(ctx context.Context, frame []byte) (*FaceResponse, error) {
	if c.maxFrame > 0 {
		resized, err := PrepareFrame(frame, c.maxFrame)
		if err != nil {
			return nil, err
		}
		frame = resized
	}

	body, err := c.postFrame(ctx, "/embed/face", frame)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %w", ErrUnavailable, err)
	}
	return &faceResp, nil
}

func (c *Client) postFrame(ctx context.Context, endpoint string, frame []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", http.DetectContentType(frame))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(frame); err != nil {
		return nil, fmt.Errorf("failed to write frame: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// Health checks that the embedding server answers.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}
