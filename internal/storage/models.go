package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type Session struct {
	ID            string
	Title         string
	ProductsShown bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Turn struct {
	ID        string
	SessionID string
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}

type CachedSearch struct {
	Key       string
	Payload   string // JSON array of products stored as text
	CreatedAt time.Time
}
