// Package refresh serializes listing sync runs behind a store-backed lock.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"listings-hub/internal/ingestion"
	"listings-hub/internal/logging"
)

// ErrInProgress is returned when another refresh holds the lock.
var ErrInProgress = errors.New("listings refresh already in progress")

// ErrLockUnavailable wraps failures to talk to the lock store.
var ErrLockUnavailable = errors.New("refresh lock unavailable")

const releaseTimeout = 10 * time.Second

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// LockStore holds the shared refresh flag together with the holder that set it.
type LockStore interface {
	TryLockRefresh(ctx context.Context, holder string) (bool, error)
	UnlockRefresh(ctx context.Context, holder string) error
}

// Lock is a non-blocking mutual exclusion over LockStore.
type Lock struct {
	store LockStore
}

func NewLock(store LockStore) *Lock {
	return &Lock{store: store}
}

// TryAcquire reports whether holder now owns the lock. It never waits.
func (l *Lock) TryAcquire(ctx context.Context, holder string) (bool, error) {
	ok, err := l.store.TryLockRefresh(ctx, holder)
	if err != nil {
		return false, fmt.Errorf("acquire refresh lock: %w", err)
	}
	return ok, nil
}

// Release clears the lock if holder still owns it.
func (l *Lock) Release(ctx context.Context, holder string) error {
	if err := l.store.UnlockRefresh(ctx, holder); err != nil {
		return fmt.Errorf("release refresh lock: %w", err)
	}
	return nil
}

// Syncer is the work performed under the lock.
type Syncer interface {
	Sync(ctx context.Context, opts ingestion.Options) (ingestion.Result, error)
}

// Status is reported to whoever triggered a refresh.
type Status struct {
	JobID          string    `json:"jobId"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	Message        string    `json:"message"`
	RecordsWritten int       `json:"recordsWritten"`
}

// Runner runs a Syncer while holding a Lock.
type Runner struct {
	lock   *Lock
	syncer Syncer
	logger *slog.Logger
	now    func() time.Time
}

func NewRunner(lock *Lock, syncer Syncer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{lock: lock, syncer: syncer, logger: logger, now: time.Now}
}

// Run performs one refresh. It returns ErrInProgress without running anything when the
// lock is held elsewhere. On any other failure the returned Status is marked failed.
// The lock is released on every exit path, panics included.
func (r *Runner) Run(ctx context.Context, opts ingestion.Options) (status Status, err error) {
	status = Status{JobID: uuid.NewString(), StartedAt: r.now().UTC()}
	logger := r.logger.With("job_id", status.JobID)

	acquired, err := r.lock.TryAcquire(ctx, status.JobID)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrLockUnavailable, err)
		return r.fail(status, err), err
	}
	if !acquired {
		return r.fail(status, ErrInProgress), ErrInProgress
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if relErr := r.lock.Release(releaseCtx, status.JobID); relErr != nil {
			logger.Error("failed to release refresh lock", "error", relErr)
			if err == nil {
				err = relErr
				status = r.fail(status, relErr)
			}
		}
	}()

	logger.Info("listings refresh started")
	res, err := r.syncer.Sync(ctx, opts)
	if err != nil {
		return r.fail(status, err), err
	}
	status.Status = StatusSucceeded
	status.FinishedAt = r.now().UTC()
	status.RecordsWritten = res.RecordsWritten
	status.Message = fmt.Sprintf("Listings refresh complete. Records written: %d.", res.RecordsWritten)
	logger.Info("listings refresh finished", "records", res.RecordsWritten)
	return status, nil
}

func (r *Runner) fail(status Status, err error) Status {
	status.Status = StatusFailed
	status.FinishedAt = r.now().UTC()
	status.Message = err.Error()
	return status
}
