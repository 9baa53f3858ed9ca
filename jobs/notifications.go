package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/identity/internal/jobs"
)

// NotificationJob handles account notification tasks. Mail delivery lives
// outside this service, so the handler records the notice in the log.
type NotificationJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// HandleWelcome processes TaskWelcome tasks.
func (j *NotificationJob) HandleWelcome(ctx context.Context, t *asynq.Task) error {
	var payload WelcomePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.logger().Warn("discard malformed task", slog.String("job", TaskWelcome), slog.Any("error", err))
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskWelcome)
	j.logger().Info("welcome notice",
		slog.String("job", TaskWelcome),
		slog.String("user_id", payload.UserID.String()),
		slog.Time("registered_at", payload.RegisteredAt),
	)
	return tracker.End(nil)
}

// HandleLockoutNotice processes TaskLockoutNotice tasks.
func (j *NotificationJob) HandleLockoutNotice(ctx context.Context, t *asynq.Task) error {
	var payload LockoutNoticePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.logger().Warn("discard malformed task", slog.String("job", TaskLockoutNotice), slog.Any("error", err))
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskLockoutNotice)
	j.logger().Info("lockout notice",
		slog.String("job", TaskLockoutNotice),
		slog.String("user_id", payload.UserID.String()),
		slog.Time("locked_until", payload.LockedUntil),
		slog.Bool("still_locked", time.Now().Before(payload.LockedUntil)),
	)
	return tracker.End(nil)
}

func (j *NotificationJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
