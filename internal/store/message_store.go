package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/onebox/internal/model"
)

const messageColumns = `id, account_id, message_id, uid, folder,
	from_addr, to_addrs, subject, body, body_html,
	date, category, attachments, headers`

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// SaveMessage inserts msg keyed by dedupKey. A message whose key is
// already present is left untouched and false is returned.
func (s *SQLiteStore) SaveMessage(
	ctx context.Context,
	msg model.Message,
	dedupKey string,
) (bool, error) {
	to, err := json.Marshal(nonNil(msg.To))
	if err != nil {
		return false, fmt.Errorf("marshaling recipients for message %s: %w", msg.ID, err)
	}
	attachments, err := json.Marshal(nonNil(msg.Attachments))
	if err != nil {
		return false, fmt.Errorf("marshaling attachments for message %s: %w", msg.ID, err)
	}
	headers := []byte("{}")
	if len(msg.Headers) > 0 {
		if headers, err = json.Marshal(msg.Headers); err != nil {
			return false, fmt.Errorf("marshaling headers for message %s: %w", msg.ID, err)
		}
	}

	category := msg.Category
	if category == "" {
		category = model.CategoryUncategorized
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (
			id, dedup_key, account_id, message_id, uid, folder,
			from_addr, to_addrs, subject, body, body_html,
			date, category, attachments, headers
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?
		)`,
		msg.ID, dedupKey, msg.AccountID, msg.MessageID, msg.UID, msg.Folder,
		msg.From, string(to), msg.Subject, msg.Body, msg.BodyHTML,
		msg.Date.UTC(), string(category), string(attachments), string(headers),
	)
	if err != nil {
		return false, fmt.Errorf("saving message %s: %w", msg.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("saving message %s: %w", msg.ID, err)
	}
	return n > 0, nil
}

// HasDedupKey reports whether a message with dedupKey is stored.
func (s *SQLiteStore) HasDedupKey(ctx context.Context, dedupKey string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM messages WHERE dedup_key = ?", dedupKey)
	if err != nil {
		return false, fmt.Errorf("checking dedup key: %w", err)
	}
	return count > 0, nil
}

// GetMessageByID retrieves a single message by its local ID.
func (s *SQLiteStore) GetMessageByID(
	ctx context.Context,
	id string,
) (*model.Message, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = ?", id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	return &msg, nil
}

// SearchMessages returns messages matching filter, newest first.
func (s *SQLiteStore) SearchMessages(
	ctx context.Context,
	filter MessageFilter,
) ([]model.Message, error) {
	where, args := buildMessageWhere(filter)

	query := "SELECT " + messageColumns + " FROM messages" + where +
		" ORDER BY date DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// CountMessages returns the number of messages matching filter, ignoring
// its pagination.
func (s *SQLiteStore) CountMessages(
	ctx context.Context,
	filter MessageFilter,
) (int, error) {
	where, args := buildMessageWhere(filter)

	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM messages"+where, args...); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// UpdateCategory sets the category of a stored message.
func (s *SQLiteStore) UpdateCategory(
	ctx context.Context,
	id string,
	category model.Category,
) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE messages SET category = ?, updated_at = ? WHERE id = ?",
		string(category), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating category of message %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating category of message %s: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountByCategory returns the number of stored messages per category.
// Every known category is present in the result.
func (s *SQLiteStore) CountByCategory(ctx context.Context) (map[model.Category]int, error) {
	var rows []struct {
		Category string `db:"category"`
		Count    int    `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT category, COUNT(*) AS count FROM messages GROUP BY category")
	if err != nil {
		return nil, fmt.Errorf("counting categories: %w", err)
	}

	counts := make(map[model.Category]int, len(model.AllCategories()))
	for _, c := range model.AllCategories() {
		counts[c] = 0
	}
	for _, r := range rows {
		counts[model.Category(r.Category)] += r.Count
	}
	return counts, nil
}

// likeEscaper escapes LIKE wildcards so a query matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func buildMessageWhere(filter MessageFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.AccountID != nil {
		conditions = append(conditions, "account_id = ?")
		args = append(args, *filter.AccountID)
	}
	if filter.Folder != nil {
		conditions = append(conditions, "folder = ?")
		args = append(args, *filter.Folder)
	}
	if filter.Category != nil {
		conditions = append(conditions, "category = ?")
		args = append(args, string(*filter.Category))
	}
	if filter.Query != nil && *filter.Query != "" {
		conditions = append(conditions,
			`(subject LIKE ? ESCAPE '\' OR body LIKE ? ESCAPE '\' OR from_addr LIKE ? ESCAPE '\')`)
		q := "%" + likeEscaper.Replace(*filter.Query) + "%"
		args = append(args, q, q, q)
	}
	if filter.Since != nil {
		conditions = append(conditions, "date >= ?")
		args = append(args, filter.Since.UTC())
	}
	if filter.Until != nil {
		conditions = append(conditions, "date <= ?")
		args = append(args, filter.Until.UTC())
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		msg         model.Message
		category    string
		to          string
		attachments string
		headers     string
	)

	err := row.Scan(
		&msg.ID, &msg.AccountID, &msg.MessageID, &msg.UID, &msg.Folder,
		&msg.From, &to, &msg.Subject, &msg.Body, &msg.BodyHTML,
		&msg.Date, &category, &attachments, &headers,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, err
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("scanning message row: %w", err)
	}

	msg.Category = model.Category(category)

	if err := json.Unmarshal([]byte(to), &msg.To); err != nil {
		return model.Message{}, fmt.Errorf("unmarshaling to_addrs: %w", err)
	}
	if attachments != "" && attachments != "[]" {
		if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
			return model.Message{}, fmt.Errorf("unmarshaling attachments: %w", err)
		}
	}
	if headers != "" && headers != "{}" {
		if err := json.Unmarshal([]byte(headers), &msg.Headers); err != nil {
			return model.Message{}, fmt.Errorf("unmarshaling headers: %w", err)
		}
	}

	return msg, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
