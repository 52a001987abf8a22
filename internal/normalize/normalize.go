// Package normalize converts raw protocol messages into model.Message.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/onebox/internal/model"
)

// NoSubject is substituted when a message has no subject.
const NoSubject = "(No Subject)"

const unknownFilename = "unknown"

// Normalize produces exactly one Message from raw. It never fails: fields
// that cannot be populated get their empty form. A missing Message-ID is
// replaced by a random identifier, so normalizing the same raw message twice
// yields two different MessageIDs.
func Normalize(raw *Raw, accountID, folder string) model.Message {
	if raw == nil {
		raw = &Raw{}
	}

	msg := model.Message{
		ID:        uuid.New().String(),
		AccountID: accountID,
		MessageID: raw.MessageID,
		From:      raw.From,
		To:        make([]string, 0, len(raw.To)),
		Subject:   raw.Subject,
		Body:      raw.Text,
		BodyHTML:  raw.HTML,
		Date:      raw.Date,
		Folder:    folder,
		Category:  model.CategoryUncategorized,
	}

	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	if strings.TrimSpace(msg.Subject) == "" {
		msg.Subject = NoSubject
	}
	if msg.Date.IsZero() {
		msg.Date = time.Now()
	}

	for _, to := range raw.To {
		if to != "" {
			msg.To = append(msg.To, to)
		}
	}

	for _, att := range raw.Attachments {
		if att.Filename == "" {
			att.Filename = unknownFilename
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	if len(raw.Header) > 0 {
		msg.Headers = make(map[string]string, len(raw.Header))
		for k, v := range raw.Header {
			msg.Headers[k] = strings.Join(v, ", ")
		}
	}

	return msg
}

// DedupKey derives a stable content key for m from its account, folder,
// Message-ID and timestamp. Messages whose Message-ID was generated by
// Normalize get a fresh key on every fetch.
func DedupKey(m model.Message) string {
	h := sha256.New()
	for _, part := range []string{
		m.AccountID,
		m.Folder,
		m.MessageID,
		strconv.FormatInt(m.Date.Unix(), 10),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
