package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/kozaktomas/attendance-kiosk/internal/face"
)

const (
	// FaceTileSize is the square input size of the embedding model.
	FaceTileSize = 112
	// FaceMargin expands the detected box on each side before cropping.
	FaceMargin = 0.2
)

// ErrUnexpectedDimension is returned when the extractor answers with a vector of the wrong size.
var ErrUnexpectedDimension = errors.New("unexpected embedding dimension")

// embeddingResponse represents the response from the embedding server
type embeddingResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// EmbeddingClient computes face embeddings using the embedding server
type EmbeddingClient struct {
	httpService
	model string
	dim   int
}

// NewEmbeddingClient creates an embedding client. A positive dim makes Extract reject
// vectors of any other length.
func NewEmbeddingClient(baseURL, model string, dim int) *EmbeddingClient {
	return &EmbeddingClient{httpService: newHTTPService(baseURL), model: model, dim: dim}
}

// Model returns the model name stored with enrolled embeddings.
func (c *EmbeddingClient) Model() string {
	return c.model
}

// Extract crops the face at bounds out of the image and returns its embedding.
func (c *EmbeddingClient) Extract(ctx context.Context, imageData []byte, bounds face.Bounds) ([]float32, error) {
	tile, err := CropFace(imageData, bounds)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", tile)
	if err != nil {
		return nil, fmt.Errorf("embed face: %w", err)
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(resp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	if c.dim > 0 && len(resp.Embedding) != c.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedDimension, len(resp.Embedding), c.dim)
	}
	return resp.Embedding, nil
}

// CropFace cuts the face with a margin, scales it to a FaceTileSize square RGB tile and
// returns it JPEG-encoded.
func CropFace(imageData []byte, bounds face.Bounds) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	box := bounds.Expand(FaceMargin, b.Dx(), b.Dy())
	if box.Width < 1 || box.Height < 1 {
		return nil, fmt.Errorf("face box %+v outside %dx%d image", bounds, b.Dx(), b.Dy())
	}
	src := image.Rect(
		b.Min.X+int(box.X), b.Min.Y+int(box.Y),
		b.Min.X+int(box.X+box.Width), b.Min.Y+int(box.Y+box.Height),
	)

	dst := image.NewRGBA(image.Rect(0, 0, FaceTileSize, FaceTileSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode face tile: %w", err)
	}
	return buf.Bytes(), nil
}
