package domain

import (
	"fmt"
	"strings"
	"time"
)

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID          string         `json:"id"`
	BatchID     string         `json:"batch_id"`
	FileName    string         `json:"file_name"`
	MimeType    string         `json:"mime_type"`
	Size        int64          `json:"size"`
	StoragePath string         `json:"storage_path"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	ChunkCount  int            `json:"chunk_count"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Chunk is the atomic retrievable unit. Text carries the indexed form
// (possibly enriched), OriginalText is always the raw extracted passage.
type Chunk struct {
	ID           string         `json:"id"`
	DocumentID   string         `json:"document_id"`
	Index        int            `json:"index"`
	Text         string         `json:"text"`
	OriginalText string         `json:"original_text"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ChunkIDFor builds the persisted chunk identifier. The format is part of the
// stored contract and must not change.
func ChunkIDFor(documentID string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", documentID, index)
}

func NewChunk(documentID string, index int, text string, metadata map[string]any) (Chunk, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return Chunk{}, WrapError(ErrInvalidInput, "new chunk", fmt.Errorf("document id is required"))
	}
	if index < 0 {
		return Chunk{}, WrapError(ErrInvalidInput, "new chunk", fmt.Errorf("chunk index must be non-negative"))
	}
	if strings.TrimSpace(text) == "" {
		return Chunk{}, WrapError(ErrInvalidInput, "new chunk", fmt.Errorf("chunk text is empty"))
	}
	return Chunk{
		ID:           ChunkIDFor(documentID, index),
		DocumentID:   documentID,
		Index:        index,
		Text:         text,
		OriginalText: text,
		Metadata:     FlattenMetadata(metadata),
	}, nil
}

// FlattenMetadata reduces arbitrary metadata to the flat scalar shape the
// backing stores accept. Nested maps are flattened with dotted keys, scalar
// values pass through, anything else is dropped.
func FlattenMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	flattenInto(out, "", in)
	if len(out) == 0 {
		return nil
	}
	return out
}

func flattenInto(dst map[string]any, prefix string, in map[string]any) {
	for key, value := range in {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		switch typed := value.(type) {
		case nil, string, bool:
			dst[key] = typed
		case int, int32, int64, float32, float64:
			dst[key] = typed
		case map[string]any:
			flattenInto(dst, key, typed)
		default:
			// Slices and other composites have no flat representation.
		}
	}
}
