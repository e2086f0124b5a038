package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Version is a named snapshot saved to the document's git repository.
type Version struct {
	DocumentID string    `json:"documentId"`
	Name       string    `json:"name"`
	Hash       string    `json:"hash"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
}
