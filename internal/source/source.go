package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/onebox/internal/model"
)

// AuthError indicates that the mailbox rejected the configured credentials.
type AuthError struct {
	AccountID string
	Message   string
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.AccountID, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// MailboxStatus describes a selected folder.
type MailboxStatus struct {
	Name        string
	UIDValidity uint32
	UIDNext     uint32
	NumMessages uint32
}

// FetchedMessage is one message as returned by the server, before parsing.
type FetchedMessage struct {
	UID          uint32
	InternalDate time.Time
	Body         []byte
}

// Session is an authenticated mailbox connection. A Session is owned by a
// single goroutine and is not safe for concurrent use.
type Session interface {
	// Select opens folder for reading.
	Select(ctx context.Context, folder string) (*MailboxStatus, error)

	// SearchSince returns the UIDs of messages received on or after since,
	// in ascending order.
	SearchSince(ctx context.Context, since time.Time) ([]uint32, error)

	// SearchAfter returns the UIDs strictly greater than uid, in ascending
	// order.
	SearchAfter(ctx context.Context, uid uint32) ([]uint32, error)

	// Fetch retrieves the given UIDs and calls visit once per message in
	// server order. A non-nil error from visit stops the fetch and is
	// returned.
	Fetch(
		ctx context.Context,
		uids []uint32,
		visit func(FetchedMessage) error,
	) error

	// Idle holds the connection open until the server signals new mail
	// (returns true), maxWait elapses (returns false), or ctx is done.
	Idle(ctx context.Context, maxWait time.Duration) (bool, error)

	// Close logs out and releases the network connection.
	Close() error
}

// Dialer opens authenticated sessions. The returned Session must be
// released with Close; it is also torn down when ctx is cancelled.
type Dialer interface {
	Dial(ctx context.Context, account model.AccountConfig) (Session, error)
}
