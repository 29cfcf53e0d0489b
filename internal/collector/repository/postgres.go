package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nordeck/feedback-application/internal/collector/domain"
)

const saveFeedback = `
INSERT INTO feedbacks (rating, rating_comment, metadata, jwt, user_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (jwt) DO UPDATE SET
    rating         = EXCLUDED.rating,
    rating_comment = EXCLUDED.rating_comment,
    metadata       = EXCLUDED.metadata,
    user_id        = EXCLUDED.user_id,
    updated_at     = now()
RETURNING id, created_at, updated_at, (xmax = 0) AS inserted`

const getFeedbackByJWT = `
SELECT id, created_at, updated_at, rating, rating_comment, metadata, jwt, user_id
FROM feedbacks
WHERE jwt = $1`

// PostgresRepository stores feedback in the feedbacks table.
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a feedback repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save upserts f keyed by its credential. A nil Metadata is stored as {}.
func (r *PostgresRepository) Save(ctx context.Context, f *domain.Feedback) (bool, error) {
	metadata := []byte(f.Metadata)
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	var inserted bool
	err := r.db.QueryRowContext(ctx, saveFeedback,
		f.Rating, f.RatingComment, metadata, f.JWT, f.UserID,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt, &inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// GetByJWT returns the feedback for jwt, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByJWT(ctx context.Context, jwt string) (*domain.Feedback, error) {
	var f domain.Feedback
	var metadata []byte
	err := r.db.QueryRowContext(ctx, getFeedbackByJWT, jwt).Scan(
		&f.ID, &f.CreatedAt, &f.UpdatedAt, &f.Rating, &f.RatingComment, &metadata, &f.JWT, &f.UserID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	f.Metadata = metadata
	return &f, nil
}
