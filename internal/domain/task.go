package domain

// Task is a stateless (token_id, timeframe) unit of work. Tasks own no
// resources: they are created per scheduling cycle and discarded once
// their batch is processed.
type Task struct {
	TokenID   string
	Timeframe Timeframe
}

// TaskState tracks a task through its lifecycle.
type TaskState string

// Task lifecycle: Pending → Fetching → Validating → Computing → Persisting → Done | Failed.
const (
	TaskPending    TaskState = "PENDING"
	TaskFetching   TaskState = "FETCHING"
	TaskValidating TaskState = "VALIDATING"
	TaskComputing  TaskState = "COMPUTING"
	TaskPersisting TaskState = "PERSISTING"
	TaskDone       TaskState = "DONE"
	TaskFailed     TaskState = "FAILED"
)
