package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/panopticon-door/panopticon/internal/database"
	"github.com/panopticon-door/panopticon/internal/identity"
)

// GetCentroid retrieves the centroid for an identity.
func (r *Repository) GetCentroid(ctx context.Context, identityID string) (*database.StoredCentroid, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT identity_id, embedding, sample_count, updated_at
		FROM centroids
		WHERE identity_id = $1
	`, identityID)

	centroid, err := scanCentroid(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query centroid: %w", err)
	}
	return centroid, nil
}

// AllCentroids returns a snapshot of every centroid, ordered by identity.
func (r *Repository) AllCentroids(ctx context.Context) ([]database.StoredCentroid, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT identity_id, embedding, sample_count, updated_at
		FROM centroids
		ORDER BY identity_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query centroids: %w", err)
	}
	defer rows.Close()

	var centroids []database.StoredCentroid
	for rows.Next() {
		centroid, err := scanCentroid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan centroid: %w", err)
		}
		centroids = append(centroids, *centroid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate centroids: %w", err)
	}
	return centroids, nil
}

// FoldCentroid folds an embedding into an identity's running mean. The
// row lock taken by SELECT ... FOR UPDATE serializes concurrent folds on
// the same identity; folds on different identities do not contend.
func (r *Repository) FoldCentroid(ctx context.Context, identityID string, embedding []float32) (*database.StoredCentroid, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT identity_id, embedding, sample_count, updated_at
		FROM centroids
		WHERE identity_id = $1
		FOR UPDATE
	`, identityID)

	centroid, err := scanCentroid(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock centroid: %w", err)
	}

	count, err := identity.FoldMean(centroid.Embedding, centroid.SampleCount, embedding)
	if err != nil {
		return nil, fmt.Errorf("fold centroid for %s: %w", identityID, err)
	}
	centroid.SampleCount = count

	err = tx.QueryRowContext(ctx, `
		UPDATE centroids
		SET embedding = $2::vector, sample_count = $3, updated_at = NOW()
		WHERE identity_id = $1
		RETURNING updated_at
	`, identityID, pgvector.NewVector(centroid.Embedding), centroid.SampleCount).Scan(&centroid.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update centroid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit fold: %w", mapConstraintErr(err))
	}
	return centroid, nil
}

func scanCentroid(row interface{ Scan(...any) error }) (*database.StoredCentroid, error) {
	var centroid database.StoredCentroid
	var vec pgvector.Vector
	if err := row.Scan(&centroid.IdentityID, &vec, &centroid.SampleCount, &centroid.UpdatedAt); err != nil {
		return nil, err
	}
	centroid.Embedding = vec.Slice()
	return &centroid, nil
}
