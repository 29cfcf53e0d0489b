// Package domain holds the collector's stored feedback record.
package domain

import (
	"encoding/json"
	"time"
)

// Feedback is one stored submission. A credential maps to at most one row; resubmitting
// with the same credential overwrites rating, comment, and metadata.
type Feedback struct {
	ID            int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Rating        int
	RatingComment string
	Metadata      json.RawMessage // JSONB object
	JWT           string
	UserID        string
}
