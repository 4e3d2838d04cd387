package session

import (
	"context"
	"time"

	"github.com/MrEthical07/goRefresh/refresh"
)

// Descriptor describes one active session. It carries no token material.
type Descriptor struct {
	RecordID    string        `json:"recordId"`
	CreatedAt   time.Time     `json:"createdAt"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	DeviceLabel string        `json:"deviceLabel,omitempty"`
	TTL         time.Duration `json:"ttl"`
}

// Registry is the session-index contract shared by the durable and
// in-memory backends.
type Registry interface {
	AddSession(ctx context.Context, rec *refresh.Record) error
	RemoveSession(ctx context.Context, userID, recordID string) error
	ListSessions(ctx context.Context, userID string) ([]Descriptor, error)
	RevokeAll(ctx context.Context, userID string) (int, error)
	SessionCount(ctx context.Context, userID string) (int, error)
}

// NewDescriptor projects a record onto its public view.
func NewDescriptor(rec *refresh.Record, ttl time.Duration) Descriptor {
	return Descriptor{
		RecordID:    rec.RecordID,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
		DeviceLabel: rec.DeviceLabel,
		TTL:         ttl,
	}
}

// SortNewestFirst orders descriptors by creation time, newest first, with
// the record id as a stable tie-break.
func SortNewestFirst(ds []Descriptor) {
	sortDescriptors(ds)
}
