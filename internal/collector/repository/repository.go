// Package repository persists feedback in Postgres.
package repository

import (
	"context"

	"github.com/nordeck/feedback-application/internal/collector/domain"
)

// Repository defines persistence for feedback.
type Repository interface {
	// Save inserts f, or updates the row stored under f.JWT. It sets f.ID and timestamps
	// and reports whether a new row was created.
	Save(ctx context.Context, f *domain.Feedback) (created bool, err error)
	// GetByJWT returns the feedback stored under jwt, or nil if none.
	GetByJWT(ctx context.Context, jwt string) (*domain.Feedback, error)
}
