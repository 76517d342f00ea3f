package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/attendance-kiosk/internal/face"
)

func createTestImage(width, height int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, c)
		}
	}
	return img
}

// createGradientImage darkens from left to right.
func createGradientImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			v := uint8(255 - x*255/width)
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

// readUpload returns the multipart file sent by the client.
func readUpload(t *testing.T, r *http.Request) []byte {
	t.Helper()
	file, _, err := r.FormFile("file")
	if err != nil {
		t.Errorf("missing file part: %v", err)
		return nil
	}
	defer file.Close()
	data, _ := io.ReadAll(file)
	return data
}

func TestDetectorClient_Detect(t *testing.T) {
	frame := encodeJPEG(createTestImage(640, 480, color.White))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect/geometry" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := readUpload(t, r); !bytes.Equal(got, frame) {
			t.Error("uploaded frame differs from input")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"width": 640, "height": 480,
			"faces": [
				{"bbox": [100, 50, 300, 290], "left_eye_open": 0.9, "right_eye_open": 0.7, "yaw": 12.5, "roll": -3,
				 "landmarks": [[150, 120], [250, 120]]},
				{"bbox": [400, 60, 460, 130], "left_eye_open": 0.8, "right_eye_open": null, "yaw": null},
				{"bbox": [1, 2, 3]}
			]
		}`))
	}))
	defer server.Close()

	client := NewDetectorClient(server.URL + "/")
	det, err := client.Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if det.Width != 640 || det.Height != 480 {
		t.Errorf("frame size = %dx%d, want 640x480", det.Width, det.Height)
	}
	if len(det.Faces) != 2 {
		t.Fatalf("got %d faces, want 2 (malformed bbox dropped)", len(det.Faces))
	}

	first := det.Faces[0]
	if first.Bounds != (face.Bounds{X: 100, Y: 50, Width: 200, Height: 240}) {
		t.Errorf("bounds = %+v", first.Bounds)
	}
	avg, ok := first.EyeOpenAverage()
	if !ok || avg < 0.79 || avg > 0.81 {
		t.Errorf("EyeOpenAverage() = %v, %v, want 0.8", avg, ok)
	}
	if yaw, ok := first.YawAngle(); !ok || yaw != 12.5 {
		t.Errorf("YawAngle() = %v, %v, want 12.5", yaw, ok)
	}
	if len(first.Landmarks) != 2 || first.Landmarks[1] != (face.Point{X: 250, Y: 120}) {
		t.Errorf("landmarks = %+v", first.Landmarks)
	}
	if first.CapturedAt.IsZero() {
		t.Error("CapturedAt not set")
	}

	second := det.Faces[1]
	if second.Eyes != nil {
		t.Error("eyes should be nil when one eye is missing")
	}
	if second.Yaw != nil {
		t.Error("yaw should be nil when detector returns null")
	}
}

func TestDetectorClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewDetectorClient(server.URL)
	if _, err := client.Detect(context.Background(), []byte("x")); err == nil {
		t.Error("expected error for 503 response")
	}
}

func TestEmbeddingClient_Extract(t *testing.T) {
	frame := encodeJPEG(createGradientImage(640, 480))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		tile, _, err := image.Decode(bytes.NewReader(readUpload(t, r)))
		if err != nil {
			t.Errorf("uploaded tile is not an image: %v", err)
		} else if b := tile.Bounds(); b.Dx() != FaceTileSize || b.Dy() != FaceTileSize {
			t.Errorf("tile size = %dx%d, want %dx%d", b.Dx(), b.Dy(), FaceTileSize, FaceTileSize)
		}
		_ = json.NewEncoder(w).Encode(embeddingResponse{Dim: 4, Embedding: []float32{0.1, 0.2, 0.3, 0.4}, Model: "test"})
	}))
	defer server.Close()

	client := NewEmbeddingClient(server.URL, "test", 4)
	emb, err := client.Extract(context.Background(), frame, face.Bounds{X: 200, Y: 100, Width: 160, Height: 200})
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(emb) != 4 {
		t.Errorf("embedding length = %d, want 4", len(emb))
	}
}

func TestEmbeddingClient_DimensionMismatch(t *testing.T) {
	frame := encodeJPEG(createTestImage(320, 240, color.White))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embeddingResponse{Dim: 2, Embedding: []float32{1, 0}})
	}))
	defer server.Close()

	client := NewEmbeddingClient(server.URL, "test", 128)
	_, err := client.Extract(context.Background(), frame, face.Bounds{X: 10, Y: 10, Width: 100, Height: 100})
	if !errors.Is(err, ErrUnexpectedDimension) {
		t.Errorf("error = %v, want ErrUnexpectedDimension", err)
	}
}

func TestCropFace_OutsideImage(t *testing.T) {
	frame := encodeJPEG(createTestImage(100, 100, color.White))
	if _, err := CropFace(frame, face.Bounds{X: 500, Y: 500, Width: 50, Height: 50}); err == nil {
		t.Error("expected error for box outside the image")
	}
	if _, err := CropFace([]byte("not an image"), face.Bounds{Width: 10, Height: 10}); err == nil {
		t.Error("expected error for invalid image")
	}
}

func TestHammingDistance(t *testing.T) {
	tests := []struct {
		name     string
		hash1    uint64
		hash2    uint64
		expected int
	}{
		{"identical", 0x0, 0x0, 0},
		{"completely different", 0xFFFFFFFFFFFFFFFF, 0x0, 64},
		{"one bit different", 0x1, 0x0, 1},
		{"alternating", 0xAAAAAAAAAAAAAAAA, 0x5555555555555555, 64},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := HammingDistance(tc.hash1, tc.hash2)
			if result != tc.expected {
				t.Errorf("HammingDistance(%x, %x) = %d; want %d",
					tc.hash1, tc.hash2, result, tc.expected)
			}
		})
	}
}

func TestFrameHash(t *testing.T) {
	gradient := encodeJPEG(createGradientImage(200, 100))

	h1, err := FrameHash(gradient)
	if err != nil {
		t.Fatalf("FrameHash() error: %v", err)
	}
	h2, _ := FrameHash(gradient)
	if h1 != h2 {
		t.Errorf("hash not stable: %x vs %x", h1, h2)
	}

	flat, err := FrameHash(encodeJPEG(createTestImage(200, 100, color.White)))
	if err != nil {
		t.Fatalf("FrameHash() error: %v", err)
	}
	if HammingDistance(h1, flat) == 0 {
		t.Error("gradient and flat image should hash differently")
	}

	if ref := EvidenceRef(0xab); ref != "dhash:00000000000000ab" {
		t.Errorf("EvidenceRef() = %q", ref)
	}

	if _, err := FrameHash([]byte("garbage")); err == nil {
		t.Error("expected error for invalid image")
	}
}

func TestResizeImage(t *testing.T) {
	small := encodeJPEG(createTestImage(100, 50, color.White))
	out, err := ResizeImage(small, 200)
	if err != nil {
		t.Fatalf("ResizeImage() error: %v", err)
	}
	if !bytes.Equal(out, small) {
		t.Error("image within limit should be returned unchanged")
	}

	large := encodeJPEG(createTestImage(400, 200, color.White))
	out, err = ResizeImage(large, 200)
	if err != nil {
		t.Fatalf("ResizeImage() error: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decoding resized image: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Errorf("resized to %dx%d, want 200x100", b.Dx(), b.Dy())
	}
}
