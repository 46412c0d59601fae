package domain

// Fragment is a snippet of source document text returned by retrieval.
// The source identifier is kept for traceability only; persona rules forbid
// showing it to the end user.
type Fragment struct {
	Text     string
	Score    float64
	SourceID string
}
