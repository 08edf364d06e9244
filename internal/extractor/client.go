// Package extractor is the client of the face model service that turns an
// image into a face descriptor and expression scores.
package extractor

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

	"github.com/kozaktomas/attendance-terminal/internal/facematch"
)

const defaultExtractorURL = "http://localhost:8000"

// ErrNoFace is returned when the image contains no detectable face.
var ErrNoFace = errors.New("no face detected")

// Detection is the single face used for recognition.
type Detection struct {
	Descriptor  facematch.Descriptor
	Expressions facematch.Expressions
	BBox        []float64 // relative [x1, y1, x2, y2]
	Score       float64
	FacesCount  int
}

// Detector extracts the best single face from an image.
type Detector interface {
	Detect(ctx context.Context, image []byte) (*Detection, error)
}

// Client talks to the face model service.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new extractor client
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultExtractorURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type faceResult struct {
	Descriptor  []float32          `json:"descriptor"`
	BBox        []float64          `json:"bbox"` // [x1, y1, x2, y2] in pixels
	DetScore    float64            `json:"det_score"`
	Expressions map[string]float64 `json:"expressions"`
}

type detectResponse struct {
	FacesCount int          `json:"faces_count"`
	Faces      []faceResult `json:"faces"`
	Width      int          `json:"width"`
	Height     int          `json:"height"`
}

// postMultipartImage posts the image as the "file" part of a multipart form.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
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
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Detect returns the primary face of the image, or ErrNoFace.
func (c *Client) Detect(ctx context.Context, image []byte) (*Detection, error) {
	body, err := c.postMultipartImage(ctx, "/detect/face", image)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var scores []float64
	var boxes [][]float64
	for _, f := range resp.Faces {
		if len(f.Descriptor) == 0 {
			// Detected but not embeddable, never pick it.
			scores = append(scores, -1)
		} else {
			scores = append(scores, f.DetScore)
		}
		boxes = append(boxes, f.BBox)
	}
	best := facematch.SelectPrimary(scores, boxes)
	if best < 0 || scores[best] < 0 {
		return nil, ErrNoFace
	}

	face := resp.Faces[best]
	return &Detection{
		Descriptor:  facematch.Descriptor(face.Descriptor),
		Expressions: facematch.Expressions(face.Expressions),
		BBox:        facematch.ConvertPixelBBoxToRelative(face.BBox, resp.Width, resp.Height),
		Score:       face.DetScore,
		FacesCount:  len(resp.Faces),
	}, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// BMP: 42 4D
	if data[0] == 0x42 && data[1] == 0x4D {
		return "image/bmp"
	}
	return "application/octet-stream"
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, image []byte) (*Detection, error)

func (f DetectorFunc) Detect(ctx context.Context, image []byte) (*Detection, error) {
	return f(ctx, image)
}
