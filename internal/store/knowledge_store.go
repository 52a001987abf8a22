package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nhle/onebox/internal/model"
)

type knowledgeRow struct {
	ID        string    `db:"id"`
	Text      string    `db:"text"`
	Metadata  string    `db:"metadata"`
	Embedding string    `db:"embedding"`
	CreatedAt time.Time `db:"created_at"`
}

// AddKnowledge stores k. Metadata and embedding are kept as JSON.
func (s *SQLiteStore) AddKnowledge(ctx context.Context, k model.Knowledge) error {
	metadata := []byte("{}")
	if len(k.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(k.Metadata); err != nil {
			return fmt.Errorf("marshaling metadata for knowledge %s: %w", k.ID, err)
		}
	}
	embedding, err := json.Marshal(nonNil(k.Embedding))
	if err != nil {
		return fmt.Errorf("marshaling embedding for knowledge %s: %w", k.ID, err)
	}

	createdAt := k.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO knowledge (id, text, metadata, embedding, created_at) VALUES (?, ?, ?, ?, ?)",
		k.ID, k.Text, string(metadata), string(embedding), createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving knowledge %s: %w", k.ID, err)
	}
	return nil
}

// ListKnowledge returns every stored knowledge entry, oldest first.
func (s *SQLiteStore) ListKnowledge(ctx context.Context) ([]model.Knowledge, error) {
	var rows []knowledgeRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, text, metadata, embedding, created_at FROM knowledge ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("listing knowledge: %w", err)
	}

	items := make([]model.Knowledge, 0, len(rows))
	for _, r := range rows {
		k := model.Knowledge{ID: r.ID, Text: r.Text, CreatedAt: r.CreatedAt}
		if err := json.Unmarshal([]byte(r.Metadata), &k.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of knowledge %s: %w", r.ID, err)
		}
		if len(k.Metadata) == 0 {
			k.Metadata = nil
		}
		if err := json.Unmarshal([]byte(r.Embedding), &k.Embedding); err != nil {
			return nil, fmt.Errorf("decoding embedding of knowledge %s: %w", r.ID, err)
		}
		items = append(items, k)
	}
	return items, nil
}
