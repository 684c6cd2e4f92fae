package domain

import "time"

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskError      TaskStatus = "error"
)

// IngestJob is the task-queue payload for one background ingestion task.
type IngestJob struct {
	BatchID    string    `json:"batch_id"`
	DocumentID string    `json:"document_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// IngestTask is the per-document progress view of a batch.
type IngestTask struct {
	DocumentID string     `json:"document_id"`
	FileName   string     `json:"file_name"`
	Status     TaskStatus `json:"status"`
	ChunkCount int        `json:"chunk_count"`
	Error      string     `json:"error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func TaskStatusFor(status DocumentStatus) TaskStatus {
	switch status {
	case StatusUploaded:
		return TaskPending
	case StatusProcessing:
		return TaskProcessing
	case StatusReady:
		return TaskCompleted
	case StatusFailed:
		return TaskError
	default:
		return TaskPending
	}
}
