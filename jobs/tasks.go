package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLIntegrity re-verifies journal balance and stored account balances.
	TaskGLIntegrity = "ledger:gl_integrity"
	// TaskAgingSnapshot stores the daily receivable aging.
	TaskAgingSnapshot = "ar:aging_snapshot"
	// TaskIdempotencyCleanup purges expired Idempotency-Key records.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// GLIntegrityPayload carries scheduling metadata.
type GLIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// AgingSnapshotPayload selects the snapshot date. Empty means today (UTC).
type AgingSnapshotPayload struct {
	AsOf string `json:"as_of,omitempty"`
}

// IdempotencyCleanupPayload sets how long keys are retained.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewGLIntegrityTask constructs the integrity scan task.
func NewGLIntegrityTask(at time.Time) (*asynq.Task, error) {
	return newTask(TaskGLIntegrity, GLIntegrityPayload{ScheduledFor: at})
}

// NewAgingSnapshotTask constructs the aging snapshot task.
func NewAgingSnapshotTask(asOf string) (*asynq.Task, error) {
	return newTask(TaskAgingSnapshot, AgingSnapshotPayload{AsOf: asOf})
}

// NewIdempotencyCleanupTask constructs the key cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{RetentionHours: int(retention.Hours())})
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}
