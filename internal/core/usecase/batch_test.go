package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/docquery/internal/core/domain"
)

func TestGetBatchMapsDocumentsToTasks(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now().UTC()
	seed := []*domain.Document{
		{ID: "doc1", BatchID: "b1", FileName: "a.txt", Status: domain.StatusReady, ChunkCount: 4, UpdatedAt: now},
		{ID: "doc2", BatchID: "b1", FileName: "b.txt", Status: domain.StatusFailed, Error: "empty extracted text", UpdatedAt: now},
		{ID: "doc3", BatchID: "other", FileName: "c.txt", Status: domain.StatusUploaded, UpdatedAt: now},
	}
	for _, doc := range seed {
		if err := repo.Create(context.Background(), doc); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	tasks, err := NewBatchUseCase(repo).GetBatch(context.Background(), "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Status != domain.TaskCompleted || tasks[0].ChunkCount != 4 {
		t.Fatalf("task 0 = %+v", tasks[0])
	}
	if tasks[1].Status != domain.TaskError || tasks[1].Error != "empty extracted text" {
		t.Fatalf("task 1 = %+v", tasks[1])
	}
}

func TestGetBatchUnknownIDReturnsNotFound(t *testing.T) {
	_, err := NewBatchUseCase(newFakeRepo()).GetBatch(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrBatchNotFound) {
		t.Fatalf("expected batch-not-found kind, got %v", err)
	}
}
