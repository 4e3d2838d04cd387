package rotation

import "errors"

// State is a position in the rotation state machine.
type State uint8

const (
	// Active means the lineage has exactly one valid record.
	Active State = iota
	// Rotating means the new record is written but the old one still exists.
	Rotating
	// Retired is terminal success: the old record is gone.
	Retired
	// RotationFailed means the new record was not kept. The old record is
	// still valid unless it was revoked concurrently.
	RotationFailed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Rotating:
		return "rotating"
	case Retired:
		return "retired"
	case RotationFailed:
		return "rotation_failed"
	default:
		return "unknown"
	}
}

var (
	// ErrRotationFailed wraps the cause of an unconfirmed new record.
	ErrRotationFailed = errors.New("refresh token rotation failed")
	// ErrSecurityInconsistency reports a retired record that is still present.
	ErrSecurityInconsistency = errors.New("retired refresh token still present")
)
