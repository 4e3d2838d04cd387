package conn

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned when the backing store cannot be reached. It is
// retryable and must never be treated as an authentication failure.
var ErrUnavailable = errors.New("store unavailable")

// ErrTimeout is returned when a command exceeds its deadline. It wraps
// ErrUnavailable so retry policies can treat both alike.
var ErrTimeout = fmt.Errorf("%w: command timeout", ErrUnavailable)

// ErrBatchMismatch is returned when a pipeline yields a different number of
// results than commands submitted. The whole batch is considered failed.
var ErrBatchMismatch = fmt.Errorf("%w: pipeline result count mismatch", ErrUnavailable)

// ErrClosed is returned after Close.
var ErrClosed = fmt.Errorf("%w: connection manager closed", ErrUnavailable)

// ErrCommand wraps a reply error from the server (WRONGTYPE, unknown command, ...).
// It is not a connectivity failure and does not change the manager state.
var ErrCommand = errors.New("store command rejected")
