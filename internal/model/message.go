package model

import "time"

// Category is the classification label assigned to a message by the
// downstream consumer.
type Category string

const (
	CategoryInterested    Category = "interested"
	CategoryMeetingBooked Category = "meeting_booked"
	CategoryNotInterested Category = "not_interested"
	CategorySpam          Category = "spam"
	CategoryOutOfOffice   Category = "out_of_office"
	CategoryUncategorized Category = "uncategorized"
)

// AllCategories returns every known category in display order.
func AllCategories() []Category {
	return []Category{
		CategoryInterested,
		CategoryMeetingBooked,
		CategoryNotInterested,
		CategorySpam,
		CategoryOutOfOffice,
		CategoryUncategorized,
	}
}

// ParseCategory maps a label to a known Category.
func ParseCategory(s string) (Category, bool) {
	for _, c := range AllCategories() {
		if string(c) == s {
			return c, true
		}
	}
	return CategoryUncategorized, false
}

// Message is the canonical normalized representation of a fetched mail.
type Message struct {
	// ID is the locally generated, globally unique identifier.
	ID string `json:"id"`

	// AccountID identifies the mailbox this message was fetched from.
	AccountID string `json:"account_id"`

	// MessageID is the protocol Message-ID. It may collide across accounts.
	MessageID string `json:"message_id"`

	// UID is the IMAP UID within Folder. Zero when unknown.
	UID uint32 `json:"uid,omitempty"`

	From     string    `json:"from"`
	To       []string  `json:"to"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	BodyHTML string    `json:"body_html,omitempty"`
	Date     time.Time `json:"date"`
	Folder   string    `json:"folder"`

	// Category is the only field mutated after emission, and only by the
	// downstream consumer.
	Category Category `json:"category"`

	Attachments []Attachment      `json:"attachments,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Attachment describes a single message attachment.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Content     []byte `json:"-"`
}
