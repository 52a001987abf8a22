package normalize

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/onebox/internal/model"
)

// Raw is a parsed but not yet normalized message. Zero values mean the
// field was absent or unreadable.
type Raw struct {
	MessageID   string
	From        string
	To          []string
	Subject     string
	Text        string
	HTML        string
	Date        time.Time
	Attachments []model.Attachment
	Header      map[string][]string
}

// Parse reads an RFC 5322 message using go-message and extracts the
// envelope fields, the first text/plain and text/html parts, and all
// attachments. Unknown charsets and transfer encodings are tolerated; only
// a structurally broken message is an error.
func Parse(r io.Reader) (*Raw, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !isRecoverable(err) {
		return nil, fmt.Errorf("reading message header: %w", err)
	}
	defer mr.Close()

	raw := &Raw{Header: make(map[string][]string)}
	readHeader(raw, &mr.Header)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if isRecoverable(err) {
				continue
			}
			return nil, fmt.Errorf("reading message part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain") && raw.Text == "":
				raw.Text = string(body)
			case strings.HasPrefix(contentType, "text/html") && raw.HTML == "":
				raw.HTML = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()

			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			raw.Attachments = append(raw.Attachments, model.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        int64(len(body)),
				Content:     body,
			})
		}
	}

	return raw, nil
}

func readHeader(raw *Raw, h *mail.Header) {
	raw.MessageID, _ = h.MessageID()
	raw.Subject, _ = h.Subject()
	raw.Date, _ = h.Date()

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		raw.From = formatAddress(from[0])
	} else {
		raw.From = strings.TrimSpace(h.Get("From"))
	}

	if to, err := h.AddressList("To"); err == nil {
		for _, addr := range to {
			raw.To = append(raw.To, formatAddress(addr))
		}
	}

	fields := h.Fields()
	for fields.Next() {
		key := strings.ToLower(fields.Key())
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		raw.Header[key] = append(raw.Header[key], value)
	}
}

// formatAddress renders an address the way mail clients display it:
// `Name <addr>` when a display name is present, otherwise the bare address.
func formatAddress(a *mail.Address) string {
	if a == nil {
		return ""
	}
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

func isRecoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
