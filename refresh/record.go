package refresh

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// recordNamespace seeds deterministic record ids.
var recordNamespace = uuid.MustParse("5d1c6a0e-3f0b-4b8e-9a51-2f8d3c7e9b40")

// Record is the persisted metadata of one refresh token. It is never mutated
// in place; rotation writes a new record and deletes the old one.
type Record struct {
	RecordID    string    `json:"recordId"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	DeviceLabel string    `json:"deviceLabel,omitempty"`

	// TokenHash is recovered from the key, not the payload.
	TokenHash string `json:"-"`
}

// Expired reports whether the record's own expiry has passed at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// HashToken returns the hex SHA-256 of a raw refresh token.
func HashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// RecordID derives the stable id of the record for (userID, tokenHash).
func RecordID(userID, tokenHash string) string {
	return uuid.NewSHA1(recordNamespace, []byte(userID+":"+tokenHash)).String()
}

func newRecord(userID, tokenHash string, now time.Time, ttl time.Duration, deviceLabel string) *Record {
	created := now.UTC().Truncate(time.Millisecond)
	return &Record{
		RecordID:    RecordID(userID, tokenHash),
		UserID:      userID,
		CreatedAt:   created,
		ExpiresAt:   created.Add(ttl),
		DeviceLabel: deviceLabel,
		TokenHash:   tokenHash,
	}
}

func encodeRecord(r *Record) ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil record")
	}
	return json.Marshal(r)
}

// DecodeRecord parses a stored payload. It never panics; any structural
// problem is an error the caller maps to [ErrNotFound].
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	switch {
	case r.RecordID == "":
		return nil, errors.New("decode record: missing recordId")
	case r.UserID == "":
		return nil, errors.New("decode record: missing userId")
	case r.CreatedAt.IsZero() || r.ExpiresAt.IsZero():
		return nil, errors.New("decode record: missing timestamps")
	case !r.ExpiresAt.After(r.CreatedAt):
		return nil, errors.New("decode record: expiresAt not after createdAt")
	}
	return &r, nil
}
