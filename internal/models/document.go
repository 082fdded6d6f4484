package models

import "time"

type DocumentKind string

const (
	DocumentText  DocumentKind = "text"
	DocumentCode  DocumentKind = "code"
	DocumentSheet DocumentKind = "sheet"
)

// Document is one version of an artifact produced by the document tools.
// Versions share an ID and differ by CreatedAt.
type Document struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Kind      DocumentKind `json:"kind"`
	Content   string       `json:"content"`
	UserID    int64        `json:"userId"`
	CreatedAt time.Time    `json:"createdAt"`
}

type Suggestion struct {
	ID                string    `json:"id"`
	DocumentID        string    `json:"documentId"`
	DocumentCreatedAt time.Time `json:"documentCreatedAt"`
	OriginalText      string    `json:"originalText"`
	SuggestedText     string    `json:"suggestedText"`
	Description       string    `json:"description"`
	IsResolved        bool      `json:"isResolved"`
	UserID            int64     `json:"userId"`
	CreatedAt         time.Time `json:"createdAt"`
}
