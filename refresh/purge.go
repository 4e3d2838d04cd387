package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultPurgeTries   = 4
	DefaultPurgeBackoff = 50 * time.Millisecond
)

// Pinger is implemented by stores that can bring a dropped connection back
// into service between attempts.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Purge deletes the record addressed by tokenHash, retrying with exponential
// backoff until the delete is acknowledged. When s is a [Pinger] the
// connection is pinged before every retry, so a delete that failed fast on a
// dropped connection is attempted again once the backend answers.
//
// Purge ignores cancellation of ctx. It returns the number of attempts made
// and the last error when every attempt failed.
func Purge(ctx context.Context, s TokenStore, userID, tokenHash string, tries uint, initial time.Duration) (int, error) {
	if tries == 0 {
		tries = DefaultPurgeTries
	}
	if initial <= 0 {
		initial = DefaultPurgeBackoff
	}
	ctx = context.WithoutCancel(ctx)
	pinger, _ := s.(Pinger)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if attempts > 1 && pinger != nil {
			if err := pinger.Ping(ctx); err != nil {
				return struct{}{}, err
			}
		}
		err := s.RevokeHash(ctx, userID, tokenHash)
		if errors.Is(err, ErrInvalidUser) || errors.Is(err, ErrInvalidToken) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
	)
	return attempts, err
}
