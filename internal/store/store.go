package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/onebox/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// MessageFilter controls filtering and pagination for message queries.
// Nil fields match everything.
type MessageFilter struct {
	AccountID *string
	Folder    *string
	Category  *model.Category
	Query     *string // search subject, body and sender
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// Store defines the persistence interface for synchronized messages.
type Store interface {
	// SaveMessage inserts msg unless a message with the same dedup key is
	// already stored. It reports whether a row was written.
	SaveMessage(ctx context.Context, msg model.Message, dedupKey string) (bool, error)
	HasDedupKey(ctx context.Context, dedupKey string) (bool, error)

	GetMessageByID(ctx context.Context, id string) (*model.Message, error)
	SearchMessages(ctx context.Context, filter MessageFilter) ([]model.Message, error)
	CountMessages(ctx context.Context, filter MessageFilter) (int, error)

	UpdateCategory(ctx context.Context, id string, category model.Category) error
	CountByCategory(ctx context.Context) (map[model.Category]int, error)

	AddKnowledge(ctx context.Context, k model.Knowledge) error
	// ListKnowledge returns every knowledge entry, oldest first.
	ListKnowledge(ctx context.Context) ([]model.Knowledge, error)

	Ping(ctx context.Context) error
	Close() error
}
