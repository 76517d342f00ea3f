package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/attendance-kiosk/internal/attendance"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/kozaktomas/attendance-kiosk/internal/database/postgres"
	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	"github.com/kozaktomas/attendance-kiosk/internal/vision"
	log "github.com/sirupsen/logrus"
)

// backend holds the opened storage of one command run.
type backend struct {
	pool       *postgres.Pool
	identities *postgres.IdentityRepository
	attendance *postgres.AttendanceRepository
}

// openBackend connects to PostgreSQL, applies migrations and registers the repositories.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	log.Debug("Connecting to PostgreSQL database")
	pool, err := postgres.Initialize(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	b := &backend{
		pool:       pool,
		identities: postgres.NewIdentityRepository(pool),
		attendance: postgres.NewAttendanceRepository(pool),
	}
	database.RegisterPostgresBackend(
		func() database.IdentityReader { return b.identities },
		func() database.IdentityWriter { return b.identities },
		func() database.AttendanceStore { return b.attendance },
	)
	database.RegisterIdentityHNSWRebuilder(b.identities)
	return b, nil
}

func (b *backend) Close() {
	if err := b.pool.Close(); err != nil {
		log.WithError(err).Warn("Failed to close database pool")
	}
}

// initIdentityHNSW builds or loads the reference embedding index.
func initIdentityHNSW(ctx context.Context, repo *postgres.IdentityRepository, indexPath string) {
	if err := repo.EnableHNSW(ctx, indexPath); err != nil {
		log.WithError(err).Warn("Failed to build HNSW index, similarity lookups will use PostgreSQL")
		return
	}
	log.WithFields(log.Fields{
		"count": repo.HNSWCount(),
		"path":  indexPath,
	}).Info("Reference embedding HNSW index ready")
}

// saveHNSWIndex persists the registered index during shutdown.
func saveHNSWIndex() {
	rebuilder := database.GetIdentityHNSWRebuilder()
	if rebuilder == nil || !rebuilder.IsHNSWEnabled() {
		return
	}
	if err := rebuilder.SaveHNSWIndex(); err != nil {
		log.WithError(err).Warn("Failed to save HNSW index")
	}
}

// newVerificationService wires the vision clients, the recorder and the kiosk service
// against the registered stores. Close the returned recorder when done.
func newVerificationService(ctx context.Context, cfg *config.Config) (*kiosk.Service, *attendance.Recorder, error) {
	identities, err := database.GetIdentityReader(ctx)
	if err != nil {
		return nil, nil, err
	}
	events, err := database.GetAttendanceStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	loc, err := cfg.Kiosk.Location()
	if err != nil {
		return nil, nil, err
	}

	recorder := attendance.NewRecorder(events, identities, attendance.Config{
		DeviceID:        cfg.Kiosk.DeviceID,
		OrgID:           cfg.Kiosk.OrgID,
		BranchID:        cfg.Kiosk.BranchID,
		DuplicateWindow: cfg.Kiosk.DuplicateWindow,
		Location:        loc,
	})

	svc := kiosk.NewService(
		vision.NewDetectorClient(cfg.Detector.URL),
		vision.NewEmbeddingClient(cfg.Embedding.URL, cfg.Embedding.Model, cfg.Embedding.Dim),
		identities,
		recorder,
		kiosk.Config{
			Scope:           cfg.Kiosk.Scope(),
			MatchThreshold:  cfg.Kiosk.MatchThreshold,
			LivenessTimeout: cfg.Kiosk.LivenessTimeout,
			FrameInterval:   cfg.Kiosk.FrameInterval,
			CaptureThrottle: cfg.Kiosk.CaptureThrottle,
			Cooldown:        cfg.Kiosk.Cooldown,
			MinFaceSize:     cfg.Kiosk.MinFaceSize,
			MaxFrameSize:    cfg.Kiosk.MaxFrameSize,
			Liveness:        cfg.Liveness,
		},
	)
	return svc, recorder, nil
}
