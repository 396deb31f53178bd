package document

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Document is the editable entity. Content is empty until the first write.
// DeletedAt marks a soft-deleted record; every read path skips it.
type Document struct {
	ID        string     `json:"id" bson:"_id"`
	Title     string     `json:"title" bson:"title"`
	Content   string     `json:"content" bson:"content"`
	CreatedAt time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt" bson:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" bson:"deletedAt,omitempty"`
}

// Clone returns a copy that shares no pointers with d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Version is an archived snapshot of a document's previous content.
// Versions are never modified after they are written.
type Version struct {
	ID         string     `json:"id" bson:"_id"`
	DocumentID string     `json:"documentId" bson:"documentId"`
	Content    string     `json:"content" bson:"content"`
	CreatedAt  time.Time  `json:"createdAt" bson:"createdAt"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty" bson:"deletedAt,omitempty"`
}

// Fields is a partial update: nil fields keep their current value.
type Fields struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Validate rejects a present but blank title.
func (f Fields) Validate() error {
	if f.Title != nil && strings.TrimSpace(*f.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrValidation)
	}
	return nil
}

// Apply copies the present fields onto d.
func (f Fields) Apply(d *Document) {
	if f.Title != nil {
		d.Title = *f.Title
	}
	if f.Content != nil {
		d.Content = *f.Content
	}
}

// Actor is the authenticated user on whose behalf a write happens.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var (
	ErrNotFound   = errors.New("document not found")
	ErrValidation = errors.New("validation failed")
)

// StorageError reports a failed transaction or an unreachable store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
