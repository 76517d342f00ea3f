package kiosk

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/attendance"
	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/kozaktomas/attendance-kiosk/internal/database/mock"
	"github.com/kozaktomas/attendance-kiosk/internal/face"
	"github.com/kozaktomas/attendance-kiosk/internal/liveness"
	"github.com/kozaktomas/attendance-kiosk/internal/vision"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeDetector returns the queued samples one frame at a time; an empty queue
// yields frames without faces.
type fakeDetector struct {
	mu     sync.Mutex
	frames [][]face.Sample
	calls  int
	err    error
}

func (d *fakeDetector) Detect(ctx context.Context, imageData []byte) (*vision.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	det := &vision.Detection{Width: 640, Height: 480}
	if len(d.frames) > 0 {
		det.Faces = d.frames[0]
		d.frames = d.frames[1:]
	}
	return det, nil
}

type fakeExtractor struct {
	embedding []float32
	err       error
	bounds    face.Bounds
}

func (e *fakeExtractor) Extract(ctx context.Context, imageData []byte, bounds face.Bounds) ([]float32, error) {
	e.bounds = bounds
	return e.embedding, e.err
}

var (
	faceBox = face.Bounds{X: 200, Y: 120, Width: 160, Height: 180}
	// blinkFrames opens, closes for two frames, then opens for two frames.
	blinkFrames = []float64{0.9, 0.1, 0.1, 0.9, 0.9}
)

func eyeSample(avg float64) []face.Sample {
	return []face.Sample{{Bounds: faceBox, Eyes: &face.EyeOpenness{Left: avg, Right: avg}}}
}

func blinkSequence() [][]face.Sample {
	var frames [][]face.Sample
	for _, v := range blinkFrames {
		frames = append(frames, eyeSample(v))
	}
	return frames
}

func testFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := 0; x < 32; x++ {
		for y := 0; y < 32; y++ {
			v := uint8(255 - x*8)
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return buf.Bytes()
}

type harness struct {
	svc        *Service
	detector   *fakeDetector
	extractor  *fakeExtractor
	identities *mock.MockIdentityStore
	events     *mock.MockAttendanceStore
	clock      *fakeClock
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
	identities := mock.NewMockIdentityStore()
	identities.AddIdentity(database.EnrolledIdentity{
		ID:     "emp-001",
		Name:   "Alice Smith",
		Active: true,
		Embeddings: []database.ReferenceEmbedding{
			{Embedding: []float32{1, 0, 0}},
		},
	})
	events := mock.NewMockAttendanceStore()
	recorder := attendance.NewRecorder(events, identities, attendance.Config{
		DeviceID: "kiosk-1",
		Location: time.UTC,
	}, attendance.WithClock(clock.Now))
	t.Cleanup(recorder.Close)

	params := liveness.DefaultParams()
	params.Challenges = []liveness.ChallengeType{liveness.Blink}

	cfg := Config{
		MatchThreshold:  0.55,
		LivenessTimeout: 8 * time.Second,
		FrameInterval:   time.Millisecond,
		Cooldown:        3 * time.Second,
		MinFaceSize:     80,
		Liveness:        params,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		detector:   &fakeDetector{},
		extractor:  &fakeExtractor{embedding: []float32{0.9, 0.1, 0}},
		identities: identities,
		events:     events,
		clock:      clock,
	}
	h.svc = NewService(h.detector, h.extractor, identities, recorder, cfg, WithClock(clock))
	return h
}

// submitAll feeds the queued detector frames and returns the last result.
func (h *harness) submitAll(t *testing.T, id string, frame []byte) FrameResult {
	t.Helper()
	var res FrameResult
	for len(h.detector.frames) > 0 {
		var err error
		res, err = h.svc.SubmitFrame(context.Background(), id, frame)
		if err != nil {
			t.Fatalf("SubmitFrame() error = %v", err)
		}
		h.clock.Advance(110 * time.Millisecond)
	}
	return res
}

func TestServiceRecordsAttendance(t *testing.T) {
	h := newHarness(t, nil)
	frame := testFrame(t)

	sess, err := h.svc.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sess.Challenge().Type != liveness.Blink {
		t.Fatalf("challenge = %q, want %q", sess.Challenge().Type, liveness.Blink)
	}

	h.detector.frames = blinkSequence()
	res := h.submitAll(t, sess.ID, frame)
	if !res.Passed || res.Progress != 100 || !res.Done {
		t.Fatalf("last frame = %+v, want passed with progress 100", res)
	}

	out, err := h.svc.Finish(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if out.Status != StatusRecorded {
		t.Fatalf("status = %q, want %q", out.Status, StatusRecorded)
	}
	if out.EmployeeID != "emp-001" || out.EmployeeName != "Alice Smith" {
		t.Errorf("employee = %q/%q, want emp-001/Alice Smith", out.EmployeeID, out.EmployeeName)
	}
	if out.Direction != database.DirectionIn {
		t.Errorf("direction = %q, want IN", out.Direction)
	}
	if out.Message != MessageFor(StatusRecorded) {
		t.Errorf("message = %q", out.Message)
	}
	if out.Cooldown != 3*time.Second || out.CooldownMS != 3000 {
		t.Errorf("cooldown = %v/%d, want 3s", out.Cooldown, out.CooldownMS)
	}
	if h.extractor.bounds != faceBox {
		t.Errorf("extracted bounds = %+v, want base face %+v", h.extractor.bounds, faceBox)
	}

	events := h.events.Events()
	if len(events) != 1 {
		t.Fatalf("stored %d events, want 1", len(events))
	}
	if !strings.HasPrefix(events[0].EvidenceRef, "dhash:") {
		t.Errorf("evidence ref = %q, want dhash reference", events[0].EvidenceRef)
	}
	if h.svc.Active() != nil {
		t.Error("session still active after Finish")
	}
}

func TestServiceFinishOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		frames    [][]face.Sample
		embedding []float32
		seed      func(h *harness)
		want      Status
	}{
		{
			name:      "no match",
			frames:    blinkSequence(),
			embedding: []float32{0, 1, 0},
			want:      StatusNoMatch,
		},
		{
			name:      "liveness not completed",
			frames:    [][]face.Sample{eyeSample(0.9), eyeSample(0.9)},
			embedding: []float32{1, 0, 0},
			want:      StatusLivenessFailed,
		},
		{
			name: "face too small",
			frames: [][]face.Sample{
				{{Bounds: face.Bounds{Width: 40, Height: 40}}},
			},
			embedding: []float32{1, 0, 0},
			want:      StatusQualityRejected,
		},
		{
			name:      "duplicate",
			frames:    blinkSequence(),
			embedding: []float32{1, 0, 0},
			seed: func(h *harness) {
				h.events.AddEvent(database.AttendanceEvent{
					ID:         "prev",
					IdentityID: "emp-001",
					Direction:  database.DirectionIn,
					Timestamp:  h.clock.Now().Add(-30 * time.Second),
				})
			},
			want: StatusDuplicate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.extractor.embedding = tt.embedding
			if tt.seed != nil {
				tt.seed(h)
			}
			sess, err := h.svc.Start(context.Background())
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			h.detector.frames = tt.frames
			h.submitAll(t, sess.ID, testFrame(t))

			out, err := h.svc.Finish(context.Background(), sess.ID)
			if err != nil {
				t.Fatalf("Finish() error = %v", err)
			}
			if out.Status != tt.want {
				t.Errorf("status = %q, want %q", out.Status, tt.want)
			}
			if out.Message == "" {
				t.Error("outcome has no message")
			}
		})
	}
}

func TestServiceDuplicateReportsSecondsAgo(t *testing.T) {
	h := newHarness(t, nil)
	h.events.AddEvent(database.AttendanceEvent{
		ID:         "prev",
		IdentityID: "emp-001",
		Direction:  database.DirectionIn,
		Timestamp:  h.clock.Now().Add(-30 * time.Second),
	})

	sess, _ := h.svc.Start(context.Background())
	h.detector.frames = blinkSequence()
	h.submitAll(t, sess.ID, testFrame(t))

	out, err := h.svc.Finish(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	// Five frames at 110ms advanced the clock by 550ms.
	if out.SecondsAgo != 30 {
		t.Errorf("SecondsAgo = %d, want 30", out.SecondsAgo)
	}
	if len(h.events.Events()) != 1 {
		t.Errorf("duplicate attempt wrote an event")
	}
}

func TestServiceCaptureGuard(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.CaptureThrottle = 1500 * time.Millisecond
		c.Cooldown = 3 * time.Second
	})
	ctx := context.Background()

	sess, err := h.svc.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := h.svc.Start(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Start() error = %v, want ErrBusy", err)
	}

	if err := h.svc.Cancel(sess.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if _, err := h.svc.Start(ctx); !errors.Is(err, ErrThrottled) {
		t.Fatalf("Start() inside throttle window error = %v, want ErrThrottled", err)
	}

	h.clock.Advance(2 * time.Second)
	sess, err = h.svc.Start(ctx)
	if err != nil {
		t.Fatalf("Start() after throttle error = %v", err)
	}
	if _, err := h.svc.Finish(ctx, sess.ID); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	h.clock.Advance(2 * time.Second)
	if _, err := h.svc.Start(ctx); !errors.Is(err, ErrBusy) {
		t.Fatalf("Start() during cooldown error = %v, want ErrBusy", err)
	}
	h.clock.Advance(time.Second)
	if _, err := h.svc.Start(ctx); err != nil {
		t.Fatalf("Start() after cooldown error = %v", err)
	}
}

func TestServiceUnknownSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.svc.SubmitFrame(ctx, "missing", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SubmitFrame() error = %v, want ErrSessionNotFound", err)
	}
	if _, err := h.svc.Finish(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Finish() error = %v, want ErrSessionNotFound", err)
	}
	if err := h.svc.Cancel("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Cancel() error = %v, want ErrSessionNotFound", err)
	}

	sess, _ := h.svc.Start(ctx)
	if _, err := h.svc.Finish(ctx, sess.ID); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if _, err := h.svc.Finish(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Finish() error = %v, want ErrSessionNotFound", err)
	}
}

func TestServiceTimeout(t *testing.T) {
	h := newHarness(t, nil)
	sess, _ := h.svc.Start(context.Background())

	h.clock.Advance(9 * time.Second)
	h.detector.frames = blinkSequence()
	res, err := h.svc.SubmitFrame(context.Background(), sess.ID, testFrame(t))
	if err != nil {
		t.Fatalf("SubmitFrame() error = %v", err)
	}
	if res.Reason != ReasonTimeout || !res.Done || res.Passed {
		t.Errorf("result = %+v, want timed out", res)
	}
	if h.detector.calls != 0 {
		t.Errorf("detector called %d times after timeout", h.detector.calls)
	}

	out, err := h.svc.Finish(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if out.Status != StatusLivenessFailed {
		t.Errorf("status = %q, want %q", out.Status, StatusLivenessFailed)
	}
}

func TestServiceSubjectChangeRestartsChallenge(t *testing.T) {
	h := newHarness(t, nil)
	sess, _ := h.svc.Start(context.Background())

	other := face.Bounds{X: 10, Y: 10, Width: 120, Height: 120}
	h.detector.frames = [][]face.Sample{
		eyeSample(0.9),
		eyeSample(0.1),
		eyeSample(0.1),
		{{Bounds: other, Eyes: &face.EyeOpenness{Left: 0.9, Right: 0.9}}},
	}
	res := h.submitAll(t, sess.ID, testFrame(t))
	if res.Reason != ReasonSubjectChanged {
		t.Fatalf("reason = %q, want %q", res.Reason, ReasonSubjectChanged)
	}
	if res.Progress != 0 || res.Passed {
		t.Errorf("result = %+v, want progress reset", res)
	}

	h.extractor.embedding = []float32{1, 0, 0}
	h.detector.frames = [][]face.Sample{
		{{Bounds: other, Eyes: &face.EyeOpenness{Left: 0.1, Right: 0.1}}},
		{{Bounds: other, Eyes: &face.EyeOpenness{Left: 0.1, Right: 0.1}}},
		{{Bounds: other, Eyes: &face.EyeOpenness{Left: 0.9, Right: 0.9}}},
		{{Bounds: other, Eyes: &face.EyeOpenness{Left: 0.9, Right: 0.9}}},
	}
	if res := h.submitAll(t, sess.ID, testFrame(t)); !res.Passed {
		t.Fatalf("result = %+v, want passed", res)
	}
	if _, err := h.svc.Finish(context.Background(), sess.ID); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if h.extractor.bounds != other {
		t.Errorf("extracted bounds = %+v, want new subject %+v", h.extractor.bounds, other)
	}
}

func TestServiceErrorsPropagate(t *testing.T) {
	storeErr := errors.New("connection refused")

	t.Run("detector", func(t *testing.T) {
		h := newHarness(t, nil)
		h.detector.err = storeErr
		sess, _ := h.svc.Start(context.Background())
		if _, err := h.svc.SubmitFrame(context.Background(), sess.ID, testFrame(t)); !errors.Is(err, storeErr) {
			t.Errorf("SubmitFrame() error = %v, want %v", err, storeErr)
		}
	})

	t.Run("identity store", func(t *testing.T) {
		h := newHarness(t, nil)
		h.identities.ListActiveError = storeErr
		sess, _ := h.svc.Start(context.Background())
		h.detector.frames = blinkSequence()
		h.submitAll(t, sess.ID, testFrame(t))
		if _, err := h.svc.Finish(context.Background(), sess.ID); !errors.Is(err, storeErr) {
			t.Errorf("Finish() error = %v, want %v", err, storeErr)
		}
		if h.svc.Active() != nil {
			t.Error("failed session still active")
		}
	})

	t.Run("attendance insert", func(t *testing.T) {
		h := newHarness(t, nil)
		h.events.InsertError = storeErr
		sess, _ := h.svc.Start(context.Background())
		h.detector.frames = blinkSequence()
		h.submitAll(t, sess.ID, testFrame(t))
		if _, err := h.svc.Finish(context.Background(), sess.ID); !errors.Is(err, storeErr) {
			t.Errorf("Finish() error = %v, want %v", err, storeErr)
		}
	})
}

type sliceSource struct {
	frames [][]byte
}

func (s *sliceSource) NextFrame(ctx context.Context) ([]byte, error) {
	if len(s.frames) == 0 {
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func TestServiceRun(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.frames = blinkSequence()

	frame := testFrame(t)
	src := &sliceSource{}
	for range 8 {
		src.frames = append(src.frames, frame)
	}

	out, err := h.svc.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != StatusRecorded {
		t.Errorf("status = %q, want %q", out.Status, StatusRecorded)
	}
	if len(src.frames) != 3 {
		t.Errorf("Run() consumed %d frames, want 5", 8-len(src.frames))
	}
}

func TestServiceRunExhaustedSource(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.frames = [][]face.Sample{eyeSample(0.9)}

	out, err := h.svc.Run(context.Background(), &sliceSource{frames: [][]byte{testFrame(t)}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != StatusLivenessFailed {
		t.Errorf("status = %q, want %q", out.Status, StatusLivenessFailed)
	}
}

func TestMessageFor(t *testing.T) {
	for _, s := range []Status{StatusRecorded, StatusNoMatch, StatusDuplicate, StatusQualityRejected, StatusLivenessFailed} {
		if MessageFor(s) == "" {
			t.Errorf("MessageFor(%q) is empty", s)
		}
	}
	if MessageFor("bogus") != "" {
		t.Error("MessageFor(bogus) should be empty")
	}
}
