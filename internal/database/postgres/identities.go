package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	log "github.com/sirupsen/logrus"
)

// pqForeignKeyViolation is the SQLSTATE for a missing referenced row.
const pqForeignKeyViolation = "23503"

// IdentityRepository stores enrolled identities and their reference embeddings, with an
// optional in-memory HNSW index for similarity lookups.
type IdentityRepository struct {
	pool          *Pool
	hnswIndex     *database.HNSWIndex
	hnswEnabled   bool
	hnswIndexPath string
	hnswMu        sync.RWMutex
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

const identityColumns = `i.id, i.name, i.org_id, i.branch_id, i.active, i.created_at, i.updated_at`

const embeddingColumns = `e.id, e.identity_id, e.embedding, e.model, e.dim, e.created_at`

// ListActive returns active identities in scope with their embeddings, ordered by identity
// ID then embedding ID. Identities without embeddings are omitted since they cannot match.
func (r *IdentityRepository) ListActive(ctx context.Context, scope database.Scope) ([]database.EnrolledIdentity, error) {
	query := `
		SELECT ` + identityColumns + `, ` + embeddingColumns + `
		FROM identities i
		JOIN reference_embeddings e ON e.identity_id = i.id
		WHERE i.active
		  AND ($1 = '' OR i.org_id = $1)
		  AND ($2 = '' OR i.branch_id = $2)
		ORDER BY i.id, e.id
	`

	rows, err := r.pool.Query(ctx, query, scope.OrgID, scope.BranchID)
	if err != nil {
		return nil, fmt.Errorf("query active identities: %w", err)
	}
	defer rows.Close()

	var identities []database.EnrolledIdentity
	for rows.Next() {
		var identity database.EnrolledIdentity
		ref, err := scanEmbedding(rows,
			&identity.ID, &identity.Name, &identity.OrgID, &identity.BranchID,
			&identity.Active, &identity.CreatedAt, &identity.UpdatedAt)
		if err != nil {
			return nil, err
		}
		// Rows arrive grouped by identity.
		if n := len(identities); n > 0 && identities[n-1].ID == identity.ID {
			identities[n-1].Embeddings = append(identities[n-1].Embeddings, ref)
			continue
		}
		identity.Embeddings = []database.ReferenceEmbedding{ref}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

// List returns all identities in scope without embeddings, ordered by ID.
func (r *IdentityRepository) List(ctx context.Context, scope database.Scope) ([]database.EnrolledIdentity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM identities i
		WHERE ($1 = '' OR i.org_id = $1)
		  AND ($2 = '' OR i.branch_id = $2)
		ORDER BY i.id
	`

	rows, err := r.pool.Query(ctx, query, scope.OrgID, scope.BranchID)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var identities []database.EnrolledIdentity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

// Get retrieves an identity with its embeddings, nil when it does not exist.
func (r *IdentityRepository) Get(ctx context.Context, id string) (*database.EnrolledIdentity, error) {
	identity, err := scanIdentity(r.pool.QueryRow(ctx, `
		SELECT `+identityColumns+`
		FROM identities i
		WHERE i.id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+embeddingColumns+`
		FROM reference_embeddings e
		WHERE e.identity_id = $1
		ORDER BY e.id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ref, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		identity.Embeddings = append(identity.Embeddings, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return &identity, nil
}

// FindSimilarWithDistance finds reference embeddings closer than maxDistance.
// Uses the in-memory HNSW index if enabled, otherwise falls back to PostgreSQL.
func (r *IdentityRepository) FindSimilarWithDistance(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.ReferenceEmbedding, []float64, error) {
	r.hnswMu.RLock()
	index := r.hnswIndex
	enabled := r.hnswEnabled && index != nil
	r.hnswMu.RUnlock()

	if enabled {
		refs, distances, err := index.SearchWithDistance(embedding, limit, maxDistance)
		if err != nil {
			return nil, nil, fmt.Errorf("HNSW search: %w", err)
		}
		return refs, distances, nil
	}
	return r.findSimilarPostgres(ctx, embedding, limit, maxDistance)
}

func (r *IdentityRepository) findSimilarPostgres(
	ctx context.Context, embedding []float32, limit int, maxDistance float64,
) ([]database.ReferenceEmbedding, []float64, error) {
	// Vectors of another dimension cannot be compared by <=>.
	query := `
		SELECT ` + embeddingColumns + `, e.embedding <=> $1::vector AS distance
		FROM reference_embeddings e
		WHERE e.dim = $2 AND e.embedding <=> $1::vector < $3
		ORDER BY distance, e.id
		LIMIT $4
	`

	rows, err := r.pool.Query(ctx, query, pgvector.NewVector(embedding), len(embedding), maxDistance, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar embeddings: %w", err)
	}
	defer rows.Close()

	var refs []database.ReferenceEmbedding
	var distances []float64
	for rows.Next() {
		var dist float64
		ref, err := scanEmbeddingWithDistance(rows, &dist)
		if err != nil {
			return nil, nil, err
		}
		refs = append(refs, ref)
		distances = append(distances, dist)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return refs, distances, nil
}

// Save creates or updates the identity record. Embeddings are left untouched.
func (r *IdentityRepository) Save(ctx context.Context, identity *database.EnrolledIdentity) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO identities (id, name, org_id, branch_id, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			org_id = EXCLUDED.org_id,
			branch_id = EXCLUDED.branch_id,
			active = EXCLUDED.active,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`, identity.ID, identity.Name, identity.OrgID, identity.BranchID, identity.Active,
	).Scan(&identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save identity %s: %w", identity.ID, err)
	}
	return nil
}

// AddEmbedding stores a reference embedding and adds it to the HNSW index when enabled.
func (r *IdentityRepository) AddEmbedding(ctx context.Context, identityID string, embedding []float32, model string) (int64, error) {
	ref := database.ReferenceEmbedding{
		IdentityID: identityID,
		Embedding:  embedding,
		Model:      model,
		Dim:        len(embedding),
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO reference_embeddings (identity_id, embedding, model, dim)
		VALUES ($1, $2::vector, $3, $4)
		RETURNING id, created_at
	`, identityID, pgvector.NewVector(embedding), model, len(embedding)).Scan(&ref.ID, &ref.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
			return 0, fmt.Errorf("add embedding for %s: %w", identityID, database.ErrIdentityNotFound)
		}
		return 0, fmt.Errorf("insert embedding: %w", err)
	}

	r.hnswMu.Lock()
	if r.hnswEnabled && r.hnswIndex != nil {
		if err := r.hnswIndex.Add(ref); err != nil {
			log.WithError(err).WithField("embedding_id", ref.ID).Warn("Embedding not added to HNSW index, rebuild required")
		}
	}
	r.hnswMu.Unlock()

	return ref.ID, nil
}

// SetActive enables or disables an identity for matching.
func (r *IdentityRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.pool.Exec(ctx,
		"UPDATE identities SET active = $2, updated_at = NOW() WHERE id = $1", id, active)
	if err != nil {
		return fmt.Errorf("update identity %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrIdentityNotFound
	}
	return nil
}

// allEmbeddings loads every reference embedding for index builds.
func (r *IdentityRepository) allEmbeddings(ctx context.Context) ([]database.ReferenceEmbedding, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+embeddingColumns+` FROM reference_embeddings e ORDER BY e.id`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var refs []database.ReferenceEmbedding
	for rows.Next() {
		ref, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return refs, nil
}

func (r *IdentityRepository) embeddingStats(ctx context.Context) (database.IndexState, error) {
	var state database.IndexState
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*), COALESCE(MAX(id), 0) FROM reference_embeddings").
		Scan(&state.EmbeddingCount, &state.MaxEmbeddingID)
	if err != nil {
		return state, fmt.Errorf("failed to get embedding stats: %w", err)
	}
	return state, nil
}

// tryLoadIndex loads a cached index when it matches the database state.
func (r *IdentityRepository) tryLoadIndex(indexPath string, state database.IndexState) bool {
	logger := log.WithField("path", indexPath)
	index, err := database.LoadHNSWIndex(indexPath, state)
	switch {
	case errors.Is(err, database.ErrStaleIndex):
		logger.WithError(err).Info("HNSW index is stale, rebuilding")
		return false
	case err != nil:
		logger.WithError(err).Info("HNSW index unavailable, rebuilding")
		return false
	case index.Count() == 0:
		return false
	}
	r.hnswIndex = index
	logger.WithField("count", index.Count()).Info("HNSW index loaded from disk")
	return true
}

// EnableHNSW loads or builds the in-memory HNSW index over reference embeddings. With
// an indexPath it tries the cached index first and saves a freshly built one.
func (r *IdentityRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()

	r.hnswIndexPath = indexPath

	stats, err := r.embeddingStats(ctx)
	if err != nil {
		return err
	}

	if indexPath != "" && r.tryLoadIndex(indexPath, stats) {
		r.hnswEnabled = true
		return nil
	}

	refs, err := r.allEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	index := database.NewHNSWIndex()
	if err := index.BuildFromEmbeddings(refs); err != nil {
		return fmt.Errorf("failed to build HNSW index: %w", err)
	}
	r.hnswIndex = index
	r.hnswEnabled = true

	if indexPath != "" && len(refs) > 0 {
		if err := index.Save(indexPath, stats); err != nil {
			log.WithError(err).Warn("Failed to save HNSW index to disk")
		}
	}
	return nil
}

// DisableHNSW drops the in-memory index; lookups go to PostgreSQL.
func (r *IdentityRepository) DisableHNSW() {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswEnabled = false
	r.hnswIndex = nil
}

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled.
func (r *IdentityRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// HNSWCount returns the number of embeddings in the HNSW index.
func (r *IdentityRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// RebuildHNSW rebuilds the HNSW index from PostgreSQL data.
func (r *IdentityRepository) RebuildHNSW(ctx context.Context) error {
	r.hnswMu.RLock()
	indexPath := r.hnswIndexPath
	r.hnswMu.RUnlock()
	return r.EnableHNSW(ctx, indexPath)
}

// SaveHNSWIndex writes the current index to disk when a path is configured.
func (r *IdentityRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndexPath == "" || r.hnswIndex == nil {
		return nil
	}

	stats, err := r.embeddingStats(context.Background())
	if err != nil {
		return err
	}
	if err := r.hnswIndex.Save(r.hnswIndexPath, stats); err != nil {
		return fmt.Errorf("saving HNSW index: %w", err)
	}
	log.WithFields(log.Fields{
		"path":   r.hnswIndexPath,
		"count":  stats.EmbeddingCount,
		"max_id": stats.MaxEmbeddingID,
	}).Info("HNSW index saved")
	return nil
}

type rowScanner interface{ Scan(...any) error }

func scanIdentity(scanner rowScanner) (database.EnrolledIdentity, error) {
	var identity database.EnrolledIdentity
	err := scanner.Scan(&identity.ID, &identity.Name, &identity.OrgID, &identity.BranchID,
		&identity.Active, &identity.CreatedAt, &identity.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity, err
	}
	if err != nil {
		return identity, fmt.Errorf("scan identity: %w", err)
	}
	return identity, nil
}

// scanEmbedding scans the embedding columns, preceded by leading destinations.
func scanEmbedding(scanner rowScanner, leading ...any) (database.ReferenceEmbedding, error) {
	return scanEmbeddingRow(scanner, leading, nil)
}

func scanEmbeddingWithDistance(scanner rowScanner, dist *float64) (database.ReferenceEmbedding, error) {
	return scanEmbeddingRow(scanner, nil, []any{dist})
}

func scanEmbeddingRow(scanner rowScanner, leading, trailing []any) (database.ReferenceEmbedding, error) {
	var ref database.ReferenceEmbedding
	var vec pgvector.Vector

	dest := make([]any, 0, len(leading)+6+len(trailing))
	dest = append(dest, leading...)
	dest = append(dest, &ref.ID, &ref.IdentityID, &vec, &ref.Model, &ref.Dim, &ref.CreatedAt)
	dest = append(dest, trailing...)

	if err := scanner.Scan(dest...); err != nil {
		return ref, fmt.Errorf("scan embedding: %w", err)
	}
	ref.Embedding = vec.Slice()
	return ref, nil
}
