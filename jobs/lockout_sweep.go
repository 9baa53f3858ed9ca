package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/identity/internal/jobs"
)

// LockoutStore clears lockouts that already ended.
type LockoutStore interface {
	ClearExpiredLockouts(ctx context.Context, now time.Time) (int64, error)
}

// LockoutSweepJob keeps lockout_until tidy so admin listings only show
// accounts that are locked right now.
type LockoutSweepJob struct {
	Store   LockoutStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLockoutSweepJob wires dependencies for the sweep handler.
func NewLockoutSweepJob(store LockoutStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *LockoutSweepJob {
	return &LockoutSweepJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskLockoutSweep tasks.
func (j *LockoutSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("lockout sweep: handler not configured")
	}
	var payload LockoutSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskLockoutSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	cleared, err := j.Store.ClearExpiredLockouts(ctx, j.now())
	if err != nil {
		resultErr = err
		logger.Error("clear expired lockouts", slog.Any("error", err))
		return resultErr
	}
	j.Metrics.AddClearedLockouts(cleared)
	logger.Info("completed lockout sweep", slog.Int64("cleared", cleared))
	return resultErr
}

func (j *LockoutSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLockoutSweep))
	}
	return slog.Default().With(slog.String("job", TaskLockoutSweep))
}

func (j *LockoutSweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
