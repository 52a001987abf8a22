package email

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/nhle/onebox/internal/source"
)

// fetchBatchSize bounds the number of UIDs requested per FETCH command.
const fetchBatchSize = 50

// errConnectionClosed is returned when the server drops the connection
// while the session is idling.
var errConnectionClosed = errors.New("IMAP connection closed")

// Session is a single authenticated IMAP connection.
type Session struct {
	accountID string
	logger    *zap.Logger
	client    *imapclient.Client
	stopAfter func() bool

	// exists mirrors the server's message count for the selected folder.
	// It is written from the client's reader goroutine.
	exists  atomic.Uint32
	newMail chan struct{}
	closed  atomic.Bool
}

var _ source.Session = (*Session)(nil)

func newSession(accountID string, logger *zap.Logger) *Session {
	return &Session{
		accountID: accountID,
		logger:    logger,
		newMail:   make(chan struct{}, 1),
	}
}

// onMailbox receives unsolicited mailbox updates. An EXISTS count above
// the last known one means new mail arrived.
func (s *Session) onMailbox(data *imapclient.UnilateralDataMailbox) {
	if data.NumMessages == nil {
		return
	}
	n := *data.NumMessages
	prev := s.exists.Swap(n)
	if n > prev {
		s.signalNewMail()
	}
}

func (s *Session) onExpunge(_ uint32) {
	for {
		cur := s.exists.Load()
		if cur == 0 || s.exists.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

func (s *Session) signalNewMail() {
	select {
	case s.newMail <- struct{}{}:
	default:
	}
}

// Select opens folder read-only.
func (s *Session) Select(
	_ context.Context, folder string,
) (*source.MailboxStatus, error) {
	data, err := s.client.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", folder, err)
	}

	s.exists.Store(data.NumMessages)

	return &source.MailboxStatus{
		Name:        folder,
		UIDValidity: data.UIDValidity,
		UIDNext:     uint32(data.UIDNext),
		NumMessages: data.NumMessages,
	}, nil
}

// SearchSince runs UID SEARCH SINCE.
func (s *Session) SearchSince(
	_ context.Context, since time.Time,
) ([]uint32, error) {
	criteria := &imap.SearchCriteria{Since: since}
	return s.search(criteria, 0)
}

// SearchAfter runs UID SEARCH UID n+1:*. The server resolves "*" to the
// highest UID even when it is not above n, so results are filtered.
func (s *Session) SearchAfter(
	_ context.Context, uid uint32,
) ([]uint32, error) {
	var set imap.UIDSet
	set.AddRange(imap.UID(uid+1), 0)
	criteria := &imap.SearchCriteria{UID: []imap.UIDSet{set}}
	return s.search(criteria, uid)
}

func (s *Session) search(
	criteria *imap.SearchCriteria, above uint32,
) ([]uint32, error) {
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	all := data.AllUIDs()
	uids := make([]uint32, 0, len(all))
	for _, uid := range all {
		if uint32(uid) > above {
			uids = append(uids, uint32(uid))
		}
	}
	slices.Sort(uids)

	return uids, nil
}

// Fetch retrieves full message bodies without setting \Seen, in batches
// of fetchBatchSize, handing each message to visit as soon as it is read.
func (s *Session) Fetch(
	ctx context.Context,
	uids []uint32,
	visit func(source.FetchedMessage) error,
) error {
	for start := 0; start < len(uids); start += fetchBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+fetchBatchSize, len(uids))
		if err := s.fetchBatch(uids[start:end], visit); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) fetchBatch(
	uids []uint32,
	visit func(source.FetchedMessage) error,
) error {
	set := make([]imap.UID, len(uids))
	for i, uid := range uids {
		set[i] = imap.UID(uid)
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(set...), fetchOpts)
	defer fetchCmd.Close()

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			return fmt.Errorf("collecting message data: %w", err)
		}

		err = visit(source.FetchedMessage{
			UID:          uint32(buf.UID),
			InternalDate: buf.InternalDate,
			Body:         buf.FindBodySection(bodySection),
		})
		if err != nil {
			return err
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return fmt.Errorf("fetching messages: %w", err)
	}
	return nil
}

// Idle issues IDLE and waits for an EXISTS update, maxWait, cancellation
// or connection loss, then terminates the IDLE command with DONE.
func (s *Session) Idle(
	ctx context.Context, maxWait time.Duration,
) (bool, error) {
	select {
	case <-s.newMail:
		return true, nil
	default:
	}

	idleCmd, err := s.client.Idle()
	if err != nil {
		return false, fmt.Errorf("starting IDLE: %w", err)
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	var (
		newMail bool
		lost    bool
	)
	select {
	case <-s.newMail:
		newMail = true
	case <-timer.C:
	case <-ctx.Done():
	case <-s.client.Closed():
		lost = true
	}

	// Cancellation closes the connection too, so it is checked first.
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if lost {
		return false, errConnectionClosed
	}
	if err := idleCmd.Close(); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("stopping IDLE: %w", err)
	}

	return newMail, nil
}

// Close logs out, giving the server logoutTimeout to answer, and closes
// the connection. Calling Close more than once is a no-op.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.stopAfter != nil {
		s.stopAfter()
	}

	done := make(chan error, 1)
	go func() {
		done <- s.client.Logout().Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Debug("IMAP logout failed",
				zap.String("account", s.accountID),
				zap.Error(err),
			)
		}
	case <-time.After(logoutTimeout):
	}

	return s.client.Close()
}
