// Package enrollment turns enrollment photos into reference embeddings.
package enrollment

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/kozaktomas/attendance-kiosk/internal/face"
	"github.com/kozaktomas/attendance-kiosk/internal/vision"
)

// ErrNoFace is returned when the detector finds no face in a photo.
var ErrNoFace = errors.New("enrollment: no face detected")

// Detector finds faces in a photo.
type Detector interface {
	Detect(ctx context.Context, imageData []byte) (*vision.Detection, error)
}

// Extractor computes face embeddings.
type Extractor interface {
	Extract(ctx context.Context, imageData []byte, bounds face.Bounds) ([]float32, error)
	Model() string
}

// NearDuplicate is an existing reference embedding of another identity that is close
// to a newly enrolled one.
type NearDuplicate struct {
	IdentityID  string
	EmbeddingID int64
	Distance    float64
}

// Result describes one enrolled photo.
type Result struct {
	EmbeddingID    int64
	FaceSize       float64
	FacesInPhoto   int
	NearDuplicates []NearDuplicate
}

// Options tune an Enroller.
type Options struct {
	MinFaceSize float64
	// MaxImageSize downscales photos before detection. Zero keeps photos as is.
	MaxImageSize int
	// NearDuplicateDistance is the cosine distance under which another identity's
	// embedding is reported.
	NearDuplicateDistance float64
	NearDuplicateLimit    int
}

// Enroller detects, validates and embeds enrollment photos.
type Enroller struct {
	detector  Detector
	extractor Extractor
	store     database.IdentityWriter
	gate      face.Gate
	opts      Options
}

// New creates an Enroller.
func New(detector Detector, extractor Extractor, store database.IdentityWriter, opts Options) *Enroller {
	if opts.NearDuplicateDistance <= 0 {
		opts.NearDuplicateDistance = database.DefaultNearDuplicateDistance
	}
	if opts.NearDuplicateLimit <= 0 {
		opts.NearDuplicateLimit = constants.DefaultNearDuplicateLimit
	}
	return &Enroller{
		detector:  detector,
		extractor: extractor,
		store:     store,
		gate:      face.NewGate(opts.MinFaceSize),
		opts:      opts,
	}
}

// EnsureIdentity creates the identity or updates its name and scope, keeping it active.
func (e *Enroller) EnsureIdentity(ctx context.Context, identity *database.EnrolledIdentity) error {
	identity.Active = true
	if err := e.store.Save(ctx, identity); err != nil {
		return fmt.Errorf("failed to save identity %s: %w", identity.ID, err)
	}
	return nil
}

// EnrollPhoto adds the largest face of imageData as a reference embedding of identityID.
// The face must pass the same quality gate the kiosk applies.
func (e *Enroller) EnrollPhoto(ctx context.Context, identityID string, imageData []byte) (*Result, error) {
	if e.opts.MaxImageSize > 0 {
		resized, err := vision.ResizeImage(imageData, e.opts.MaxImageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to resize photo: %w", err)
		}
		imageData = resized
	}

	det, err := e.detector.Detect(ctx, imageData)
	if err != nil {
		return nil, err
	}
	idx := face.Primary(det.Faces)
	if idx < 0 {
		return nil, ErrNoFace
	}
	sample := det.Faces[idx]
	validation := e.gate.Validate(sample)
	if !validation.Valid {
		return nil, e.gate.Err(validation)
	}

	embedding, err := e.extractor.Extract(ctx, imageData, sample.Bounds)
	if err != nil {
		return nil, err
	}

	result := &Result{FaceSize: validation.Size, FacesInPhoto: len(det.Faces)}
	result.NearDuplicates = e.nearDuplicates(ctx, identityID, embedding)

	id, err := e.store.AddEmbedding(ctx, identityID, embedding, e.extractor.Model())
	if err != nil {
		return nil, err
	}
	result.EmbeddingID = id
	return result, nil
}

// nearDuplicates lists other identities whose references are already close to
// embedding. Lookup failures are logged and do not block enrollment.
func (e *Enroller) nearDuplicates(ctx context.Context, identityID string, embedding []float32) []NearDuplicate {
	refs, distances, err := e.store.FindSimilarWithDistance(ctx, embedding, e.opts.NearDuplicateLimit, e.opts.NearDuplicateDistance)
	if err != nil {
		log.WithError(err).WithField("identity_id", identityID).Warn("Near-duplicate lookup failed")
		return nil
	}
	var out []NearDuplicate
	for i, ref := range refs {
		if ref.IdentityID == identityID {
			continue
		}
		out = append(out, NearDuplicate{IdentityID: ref.IdentityID, EmbeddingID: ref.ID, Distance: distances[i]})
	}
	return out
}
