package retrieval

import "fmt"

// DimensionMismatchError means the embedding provider returned vectors of a
// different length than the deployment stores. Nothing is stored or compared
// once this happens.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf(
		"embedding dimension mismatch: expected %d, got %d; point LLM_EMBEDDING_MODEL at a %d-dimension model or set MEMORY_EMBEDDING_DIMENSION and clear stored embeddings (DELETE /api/v1/admin/embeddings)",
		e.Expected, e.Actual, e.Expected,
	)
}
