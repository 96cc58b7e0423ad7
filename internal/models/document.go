package models

import (
	"fmt"
	"strings"
	"time"
)

// DocumentKey identifies a Document record in Firestore.
// Collection is the first segment of the uploaded object path, Filename the last.
type DocumentKey struct {
	Collection string
	Filename   string
}

// ParseObjectPath derives a DocumentKey from a storage object path such as
// "manuals/pump-7.pdf" or "manuals/2024/pump-7.pdf".
func ParseObjectPath(object string) (DocumentKey, error) {
	object = strings.Trim(strings.TrimSpace(object), "/")
	segments := strings.Split(object, "/")
	if len(segments) < 2 || segments[0] == "" || segments[len(segments)-1] == "" {
		return DocumentKey{}, fmt.Errorf("object %q must look like <collection>/<filename>: %w", object, ErrInvalidInput)
	}
	return DocumentKey{Collection: segments[0], Filename: segments[len(segments)-1]}, nil
}

func (k DocumentKey) String() string {
	return k.Collection + "/" + k.Filename
}

// Document is the per-file record in Firestore. Spans live in a subcollection.
type Document struct {
	Text           string    `firestore:"text"`
	Status         Status    `firestore:"status"`
	Languages      []string  `firestore:"languages"`
	LeaseOwner     string    `firestore:"leaseOwner,omitempty"`
	LeaseExpiresAt time.Time `firestore:"leaseExpiresAt,omitempty"`
	UpdatedAt      time.Time `firestore:"updatedAt,omitempty"`
}

// OCRJob is the handle recorded when a batch OCR job is submitted.
type OCRJob struct {
	OperationName string    `firestore:"operationName"`
	InputURI      string    `firestore:"inputUri"`
	SubmittedAt   time.Time `firestore:"submittedAt"`
}
