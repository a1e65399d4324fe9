// Package limiter caps the number of balance operations a single user may
// have in flight at once.
package limiter

import (
	"context"
	"sync"

	"github.com/fastprodman/starledger/internal/apperr"
	"github.com/fastprodman/starledger/internal/ids"
)

// Limiter admits or rejects an operation for userID before any state is
// loaded. The returned release must be called exactly once when the
// operation ends.
type Limiter interface {
	Acquire(ctx context.Context, userID ids.UserID) (release func(), err error)
}

var _ Limiter = (*Local)(nil)

// Local is an in-process limiter for single-node deployments and tests.
type Local struct {
	max int64

	mu       sync.Mutex
	inFlight map[ids.UserID]int64
}

func NewLocal(maxConcurrent int64) *Local {
	return &Local{
		max:      maxConcurrent,
		inFlight: make(map[ids.UserID]int64),
	}
}

func (l *Local) Acquire(ctx context.Context, userID ids.UserID) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.inFlight[userID]
	if current >= l.max {
		return nil, apperr.ConcurrentOperationExceeded(current, l.max)
	}

	l.inFlight[userID] = current + 1

	var once sync.Once

	return func() {
		once.Do(func() { l.release(userID) })
	}, nil
}

func (l *Local) release(userID ids.UserID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.inFlight[userID] - 1
	if n <= 0 {
		delete(l.inFlight, userID)
		return
	}

	l.inFlight[userID] = n
}

// InFlight reports the current count for userID.
func (l *Local) InFlight(userID ids.UserID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inFlight[userID]
}
