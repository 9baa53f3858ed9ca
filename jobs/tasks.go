package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskWelcome announces a newly registered account.
	TaskWelcome = "identity:welcome"
	// TaskLockoutNotice tells an account owner that sign-in is locked.
	TaskLockoutNotice = "identity:lockout-notice"
	// TaskLockoutSweep clears lockouts that have already ended.
	TaskLockoutSweep = "identity:lockout-sweep"
)

// WelcomePayload describes a registered account.
type WelcomePayload struct {
	UserID       uuid.UUID `json:"user_id"`
	Email        string    `json:"email"`
	RegisteredAt time.Time `json:"registered_at"`
}

// LockoutNoticePayload describes a lockout that just started.
type LockoutNoticePayload struct {
	UserID      uuid.UUID `json:"user_id"`
	Email       string    `json:"email"`
	LockedUntil time.Time `json:"locked_until"`
}

// LockoutSweepPayload carries scheduling metadata.
type LockoutSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewWelcomeTask constructs an Asynq task.
func NewWelcomeTask(payload WelcomePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWelcome, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewLockoutNoticeTask constructs an Asynq task. Notices for the same lockout
// are deduplicated by task id.
func NewLockoutNoticeTask(payload LockoutNoticePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	id := TaskLockoutNotice + ":" + payload.UserID.String() + ":" + payload.LockedUntil.UTC().Format(time.RFC3339)
	return asynq.NewTask(TaskLockoutNotice, data, asynq.Queue(QueueDefault), asynq.TaskID(id), asynq.MaxRetry(5)), nil
}

// NewLockoutSweepTask constructs an Asynq task for the lockout sweep.
func NewLockoutSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LockoutSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLockoutSweep, body, asynq.Queue(QueueDefault)), nil
}
