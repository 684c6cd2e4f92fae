package chunking

import (
	"strings"

	"github.com/kirillkom/docquery/internal/core/domain"
)

// Splitter cuts text into overlapping fixed-size rune windows. Chunk ids are
// derived from the document id and window position.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(documentID, text string, metadata map[string]any) []domain.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]domain.Chunk, 0, len(runes)/step+1)
	index := 0
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			var meta map[string]any
			if len(metadata) > 0 {
				meta = make(map[string]any, len(metadata))
				for k, v := range metadata {
					meta[k] = v
				}
			}
			out = append(out, domain.Chunk{
				ID:           domain.ChunkIDFor(documentID, index),
				DocumentID:   documentID,
				Index:        index,
				Text:         piece,
				OriginalText: piece,
				Metadata:     meta,
			})
			index++
		}
		if end == len(runes) {
			break
		}
	}
	return out
}
