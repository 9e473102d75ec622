package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/panopticon-door/panopticon/internal/database"
)

// Repository provides PostgreSQL-backed storage for identities, centroids
// and the audit log. It implements database.Store.
type Repository struct {
	pool *Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(pool *Pool) *Repository {
	return &Repository{pool: pool}
}

func scanIdentity(row interface{ Scan(...any) error }) (*database.StoredIdentity, error) {
	var ident database.StoredIdentity
	var thumb sql.NullString
	if err := row.Scan(&ident.ID, &ident.GivenName, &ident.FamilyName, &thumb, &ident.CreatedAt); err != nil {
		return nil, err
	}
	ident.ThumbnailRef = thumb.String
	return &ident, nil
}

// Get retrieves an identity by id.
func (r *Repository) Get(ctx context.Context, id string) (*database.StoredIdentity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, given_name, family_name, thumbnail_ref, created_at
		FROM identities
		WHERE id = $1
	`, id)

	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query identity: %w", err)
	}
	return ident, nil
}

// List returns all identities ordered by id.
func (r *Repository) List(ctx context.Context) ([]database.StoredIdentity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, given_name, family_name, thumbnail_ref, created_at
		FROM identities
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	return collectIdentities(rows)
}

// Count returns the number of registered identities.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// FindByBase returns all identities whose id starts with the given base.
func (r *Repository) FindByBase(ctx context.Context, base string) ([]database.StoredIdentity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, given_name, family_name, thumbnail_ref, created_at
		FROM identities
		WHERE id LIKE $1 || '%'
		ORDER BY id
	`, base)
	if err != nil {
		return nil, fmt.Errorf("query identities by base: %w", err)
	}
	defer rows.Close()

	return collectIdentities(rows)
}

func collectIdentities(rows *sql.Rows) ([]database.StoredIdentity, error) {
	var idents []database.StoredIdentity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		idents = append(idents, *ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return idents, nil
}

// CreateWithCentroid inserts a new identity together with its first
// centroid in one transaction, so an identity never exists without a
// centroid. A lost race on the id surfaces as database.ErrConflict.
func (r *Repository) CreateWithCentroid(ctx context.Context, ident database.StoredIdentity, embedding []float32) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO identities (id, given_name, family_name)
		VALUES ($1, $2, $3)
	`, ident.ID, ident.GivenName, ident.FamilyName)
	if err != nil {
		return fmt.Errorf("insert identity: %w", mapConstraintErr(err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO centroids (identity_id, embedding, sample_count, updated_at)
		VALUES ($1, $2::vector, 1, NOW())
	`, ident.ID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("insert centroid: %w", mapConstraintErr(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment: %w", mapConstraintErr(err))
	}
	return nil
}

// SetThumbnail records the thumbnail reference for an identity, exactly
// once. A second call or an unknown id returns database.ErrNotFound.
func (r *Repository) SetThumbnail(ctx context.Context, id, ref string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE identities
		SET thumbnail_ref = $2
		WHERE id = $1 AND thumbnail_ref IS NULL
	`, id, ref)
	if err != nil {
		return fmt.Errorf("set thumbnail: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set thumbnail result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("identity %s missing or thumbnail already set: %w", id, database.ErrNotFound)
	}
	return nil
}
