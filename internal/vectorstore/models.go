package vectorstore

import "errors"

// Sentinel errors for vector store operations.
var (
	// ErrDataIntegrity indicates an upsert argument mismatch or a
	// refused rebuild. Existing table state is unchanged.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrValidation indicates an unsafe or unrecognized search input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// SearchResult is one row returned from a similarity query.
type SearchResult struct {
	// ID is the row identifier.
	ID string `json:"id"`

	// Document is the stored text blob.
	Document string `json:"document"`

	// Metadata contains the stored filter metadata.
	Metadata map[string]string `json:"metadata"`

	// Distance is the cosine distance to the query in [0, 2].
	// Lower means more similar.
	Distance float32 `json:"distance"`
}

// Score is a derived display transform of Distance, monotonic and in
// (0, 1]. Never stored.
func (r SearchResult) Score() float32 {
	return 1 / (1 + r.Distance)
}
