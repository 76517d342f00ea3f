package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/face"
)

// Detection is the detector output for one frame.
type Detection struct {
	Width  int
	Height int
	Faces  []face.Sample
}

// detectedFace is one face in the detector response. Optional signals are null when
// the detector could not compute them.
type detectedFace struct {
	BBox          []float64    `json:"bbox"` // [x1, y1, x2, y2]
	LeftEyeOpen   *float64     `json:"left_eye_open"`
	RightEyeOpen  *float64     `json:"right_eye_open"`
	Yaw           *float64     `json:"yaw"`
	Roll          *float64     `json:"roll"`
	Landmarks     [][2]float64 `json:"landmarks"`
	DetectorScore float64      `json:"det_score"`
}

type detectResponse struct {
	Width  int            `json:"width"`
	Height int            `json:"height"`
	Faces  []detectedFace `json:"faces"`
}

// DetectorClient calls the face-geometry detector service.
type DetectorClient struct {
	httpService
	now func() time.Time
}

// NewDetectorClient creates a detector client for baseURL.
func NewDetectorClient(baseURL string) *DetectorClient {
	return &DetectorClient{httpService: newHTTPService(baseURL), now: time.Now}
}

// Detect returns all faces found in the image, normalized into samples stamped with
// the capture time.
func (c *DetectorClient) Detect(ctx context.Context, imageData []byte) (*Detection, error) {
	capturedAt := c.now()

	body, err := c.postMultipartImage(ctx, "/detect/geometry", imageData)
	if err != nil {
		return nil, fmt.Errorf("detect geometry: %w", err)
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	det := &Detection{Width: resp.Width, Height: resp.Height}
	for _, f := range resp.Faces {
		if len(f.BBox) != 4 {
			continue
		}
		det.Faces = append(det.Faces, f.toSample(capturedAt))
	}
	return det, nil
}

func (f detectedFace) toSample(capturedAt time.Time) face.Sample {
	s := face.Sample{
		Bounds:     face.CornersToBounds(f.BBox),
		Yaw:        f.Yaw,
		Roll:       f.Roll,
		CapturedAt: capturedAt,
	}
	// Both eyes are needed for the averaged openness.
	if f.LeftEyeOpen != nil && f.RightEyeOpen != nil {
		s.Eyes = &face.EyeOpenness{Left: *f.LeftEyeOpen, Right: *f.RightEyeOpen}
	}
	for _, p := range f.Landmarks {
		s.Landmarks = append(s.Landmarks, face.Point{X: p[0], Y: p[1]})
	}
	return s
}
