package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrBatchNotFound    = errors.New("batch not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")

	// Failure classes of the retrieval pipeline. All of them except
	// ErrGeneration are recovered locally with a degraded result.
	ErrParse        = errors.New("parse failure")
	ErrEnrichment   = errors.New("enrichment failure")
	ErrIndexWrite   = errors.New("index write failure")
	ErrRerank       = errors.New("rerank failure")
	ErrSessionStore = errors.New("session store failure")
	ErrGeneration   = errors.New("generation failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
