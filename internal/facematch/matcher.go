// Package facematch verifies a probe face embedding against enrolled identities.
package facematch

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/attendance-kiosk/internal/database"
)

// Threshold limits accepted from kiosk configuration.
const (
	DefaultThreshold = 0.55
	MinThreshold     = 0.30
	MaxThreshold     = 0.80
)

// ErrDimensionMismatch describes a reference embedding that cannot be compared with the probe.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// MatchResult is a positive verification.
type MatchResult struct {
	IdentityID  string  `json:"identity_id"`
	Name        string  `json:"name"`
	Confidence  float64 `json:"confidence"`
	EmbeddingID int64   `json:"embedding_id"`
}

// ValidateThreshold checks that a configured threshold is within the accepted range.
func ValidateThreshold(threshold float64) error {
	if threshold < MinThreshold || threshold > MaxThreshold {
		return fmt.Errorf("match threshold %.2f outside [%.2f, %.2f]", threshold, MinThreshold, MaxThreshold)
	}
	return nil
}

// Match finds the candidate most similar to probe. It returns false when there are no
// comparable candidates or the best similarity is below threshold.
//
// Candidates are scanned in the order given and each embedding is compared in turn, so
// on equal similarity the first one seen wins. Callers should pass candidates in the
// order database.IdentityReader.ListActive guarantees.
func Match(probe []float32, candidates []database.EnrolledIdentity, threshold float64) (MatchResult, bool) {
	if len(probe) == 0 || len(candidates) == 0 {
		return MatchResult{}, false
	}

	var best MatchResult
	bestSimilarity := -2.0
	found := false

	for i := range candidates {
		c := &candidates[i]
		if !c.Active {
			continue
		}
		for j := range c.Embeddings {
			ref := &c.Embeddings[j]
			if len(ref.Embedding) != len(probe) {
				log.WithFields(log.Fields{
					"identity_id":  c.ID,
					"embedding_id": ref.ID,
					"probe_dim":    len(probe),
					"ref_dim":      len(ref.Embedding),
				}).Warn(ErrDimensionMismatch.Error() + ", skipping")
				continue
			}

			similarity := CosineSimilarity(probe, ref.Embedding)
			if similarity > bestSimilarity {
				bestSimilarity = similarity
				best = MatchResult{
					IdentityID:  c.ID,
					Name:        c.Name,
					Confidence:  similarity,
					EmbeddingID: ref.ID,
				}
				found = true
			}
		}
	}

	if !found || bestSimilarity < threshold {
		log.WithFields(log.Fields{
			"best":      bestSimilarity,
			"threshold": threshold,
		}).Debug("No identity above threshold")
		return MatchResult{}, false
	}
	return best, true
}
