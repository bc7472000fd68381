package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is a parsed upload held for the lifetime of the session.
type Document struct {
	Name      string
	Content   string
	Format    string // source extension without the dot, e.g. "pdf"
	SizeBytes int64  // size of the original upload
	CreatedAt time.Time
}
