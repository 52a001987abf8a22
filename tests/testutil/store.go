package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewMessage returns a normalized message for account with a fresh ID.
func NewMessage(account, subject string, date time.Time) model.Message {
	return model.Message{
		ID:        uuid.New().String(),
		AccountID: account,
		MessageID: uuid.New().String() + "@example.com",
		From:      "Sender <sender@example.com>",
		To:        []string{"me@example.com"},
		Subject:   subject,
		Body:      "body of " + subject,
		Date:      date,
		Folder:    "INBOX",
		Category:  model.CategoryUncategorized,
	}
}
