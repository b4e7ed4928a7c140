package jobs

import "github.com/hibiken/asynq"

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRevokedPrune is the task type for revocation-ledger pruning.
	TaskRevokedPrune = "auth:prune_revoked"
)

// NewRevokedPruneTask constructs the pruning task. It carries no payload.
func NewRevokedPruneTask() *asynq.Task {
	return asynq.NewTask(TaskRevokedPrune, nil)
}
