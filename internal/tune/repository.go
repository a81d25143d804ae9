// Package tune records the tunes delivered by the capture pipeline.
package tune

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/tunewatch/internal/detector"
)

// ErrNoRecords is returned by Latest when nothing has been recorded yet.
var ErrNoRecords = errors.New("tune: no records")

// Record is one delivered match.
type Record struct {
	ID         string         `json:"id"`
	Match      detector.Match `json:"match"`
	ReceivedAt time.Time      `json:"received_at"`
}

// NewRecord stamps m with a fresh id and the current time.
func NewRecord(m detector.Match) Record {
	return Record{
		ID:         uuid.NewString(),
		Match:      m,
		ReceivedAt: time.Now().UTC(),
	}
}

// Repository defines the interface for record persistence.
type Repository interface {
	// Save stores a record.
	Save(ctx context.Context, r Record) error

	// List returns up to limit records, newest first. A limit <= 0
	// returns everything kept.
	List(ctx context.Context, limit int) ([]Record, error)

	// Latest returns the newest record or ErrNoRecords.
	Latest(ctx context.Context) (Record, error)
}
