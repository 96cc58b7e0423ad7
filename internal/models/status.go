package models

import "fmt"

// Status is the aggregate indexing state of a Document. The stored strings
// are shared with the web frontend and must not change.
type Status string

const (
	StatusNone       Status = ""
	StatusProcessing Status = "Processing..."
	StatusIndexing   Status = "Indexing..."
	StatusIndexed    Status = "Indexed"
)

var transitions = map[Status][]Status{
	StatusNone:       {StatusProcessing},
	StatusProcessing: {StatusProcessing, StatusIndexing, StatusIndexed},
	StatusIndexing:   {StatusProcessing, StatusIndexing, StatusIndexed},
	StatusIndexed:    {StatusProcessing, StatusIndexing, StatusIndexed},
}

// CanTransition reports whether moving a document from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrIllegalTransition wrapped with both states when the move is not allowed.
func CheckTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("status %q -> %q: %w", from, to, ErrIllegalTransition)
}
