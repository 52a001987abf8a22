package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/source"
)

// fakeMailbox is an in-memory folder shared by every session a fakeDialer
// hands out.
type fakeMailbox struct {
	mu          gosync.Mutex
	uidValidity uint32
	nextUID     uint32
	messages    []fakeMessage
	push        chan struct{}
}

type fakeMessage struct {
	uid  uint32
	date time.Time
	body []byte
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		uidValidity: 1,
		nextUID:     1,
		push:        make(chan struct{}, 1),
	}
}

// add stores a message without notifying idle sessions.
func (m *fakeMailbox) add(date time.Time, body string) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	uid := m.nextUID
	m.nextUID++
	m.messages = append(m.messages, fakeMessage{uid: uid, date: date, body: []byte(body)})
	return uid
}

// deliver stores a message and raises the new-mail signal.
func (m *fakeMailbox) deliver(date time.Time, body string) uint32 {
	uid := m.add(date, body)
	select {
	case m.push <- struct{}{}:
	default:
	}
	return uid
}

func rfc822(messageID, subject string, date time.Time) string {
	return fmt.Sprintf("From: sender@example.com\r\n"+
		"To: me@example.com\r\n"+
		"Subject: %s\r\n"+
		"Message-ID: <%s>\r\n"+
		"Date: %s\r\n"+
		"Content-Type: text/plain\r\n"+
		"\r\n"+
		"body of %s\r\n",
		subject, messageID, date.Format(time.RFC1123Z), subject)
}

// fakeDialer fails the first len(failures) dials, then succeeds, unless
// alwaysFail is set.
type fakeDialer struct {
	mu         gosync.Mutex
	mailbox    *fakeMailbox
	failures   []error
	alwaysFail error
	idleErrs   []error
	dials      map[string]int
	open       int
	maxOpen    int

	// blockAfter makes Fetch stop after that many visits and wait for
	// cancellation. Zero disables it.
	blockAfter int
	visits     int
	blocked    chan struct{}
}

func newFakeDialer(mailbox *fakeMailbox) *fakeDialer {
	return &fakeDialer{
		mailbox: mailbox,
		dials:   make(map[string]int),
		blocked: make(chan struct{}),
	}
}

func (d *fakeDialer) Dial(
	ctx context.Context, account model.AccountConfig,
) (source.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	total := 0
	for _, n := range d.dials {
		total += n
	}
	d.dials[account.ID]++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.alwaysFail != nil {
		return nil, d.alwaysFail
	}
	if total < len(d.failures) {
		return nil, d.failures[total]
	}

	d.open++
	d.maxOpen = max(d.maxOpen, d.open)
	return &fakeSession{dialer: d, mailbox: d.mailbox}, nil
}

func (d *fakeDialer) dialCount(accountID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[accountID]
}

func (d *fakeDialer) openSessions() (open, maxOpen int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open, d.maxOpen
}

func (d *fakeDialer) visitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visits
}

// beforeVisit counts a visit and reports whether Fetch should block
// instead of making it.
func (d *fakeDialer) beforeVisit() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.blockAfter > 0 && d.visits == d.blockAfter {
		select {
		case <-d.blocked:
		default:
			close(d.blocked)
		}
		return true
	}
	d.visits++
	return false
}

func (d *fakeDialer) nextIdleErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.idleErrs) == 0 {
		return nil
	}
	err := d.idleErrs[0]
	d.idleErrs = d.idleErrs[1:]
	return err
}

type fakeSession struct {
	dialer  *fakeDialer
	mailbox *fakeMailbox
	closed  bool
}

func (s *fakeSession) Select(
	_ context.Context, folder string,
) (*source.MailboxStatus, error) {
	s.mailbox.mu.Lock()
	defer s.mailbox.mu.Unlock()

	return &source.MailboxStatus{
		Name:        folder,
		UIDValidity: s.mailbox.uidValidity,
		UIDNext:     s.mailbox.nextUID,
		NumMessages: uint32(len(s.mailbox.messages)),
	}, nil
}

func (s *fakeSession) SearchSince(
	_ context.Context, since time.Time,
) ([]uint32, error) {
	s.mailbox.mu.Lock()
	defer s.mailbox.mu.Unlock()

	var uids []uint32
	for _, m := range s.mailbox.messages {
		if !m.date.Before(since) {
			uids = append(uids, m.uid)
		}
	}
	return uids, nil
}

func (s *fakeSession) SearchAfter(
	_ context.Context, uid uint32,
) ([]uint32, error) {
	s.mailbox.mu.Lock()
	defer s.mailbox.mu.Unlock()

	var uids []uint32
	for _, m := range s.mailbox.messages {
		if m.uid > uid {
			uids = append(uids, m.uid)
		}
	}
	return uids, nil
}

func (s *fakeSession) Fetch(
	ctx context.Context,
	uids []uint32,
	visit func(source.FetchedMessage) error,
) error {
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mailbox.mu.Lock()
		var found *fakeMessage
		for i := range s.mailbox.messages {
			if s.mailbox.messages[i].uid == uid {
				m := s.mailbox.messages[i]
				found = &m
				break
			}
		}
		s.mailbox.mu.Unlock()

		if found == nil {
			continue
		}
		if s.dialer.beforeVisit() {
			<-ctx.Done()
			return ctx.Err()
		}
		err := visit(source.FetchedMessage{
			UID:          found.uid,
			InternalDate: found.date,
			Body:         found.body,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSession) Idle(
	ctx context.Context, maxWait time.Duration,
) (bool, error) {
	if err := s.dialer.nextIdleErr(); err != nil {
		return false, err
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case <-s.mailbox.push:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *fakeSession) Close() error {
	s.dialer.mu.Lock()
	defer s.dialer.mu.Unlock()

	if s.closed {
		return errors.New("session closed twice")
	}
	s.closed = true
	s.dialer.open--
	return nil
}

// testOptions uses millisecond backoff so retry scenarios finish quickly.
func testOptions() Options {
	opts := DefaultOptions()
	opts.IdleRearm = time.Hour
	opts.Backoff = Backoff{
		Base:        time.Millisecond,
		Max:         4 * time.Millisecond,
		MaxAttempts: 5,
	}
	return opts
}

func testAccount(id string) model.AccountConfig {
	return model.AccountConfig{
		ID:       id,
		Host:     "imap.example.com",
		Port:     993,
		Username: id + "@example.com",
		Password: "secret",
		UseTLS:   true,
	}
}

// receive reads exactly n messages from ch or fails the test.
func receive(t *testing.T, ch <-chan model.Message, n int) []model.Message {
	t.Helper()

	msgs := make([]model.Message, 0, n)
	deadline := time.After(5 * time.Second)
	for len(msgs) < n {
		select {
		case m, ok := <-ch:
			require.True(t, ok, "stream closed after %d messages", len(msgs))
			msgs = append(msgs, m)
		case <-deadline:
			t.Fatalf("received %d of %d messages", len(msgs), n)
		}
	}
	return msgs
}

// assertQuiet fails if anything arrives on ch within d.
func assertQuiet(t *testing.T, ch <-chan model.Message, d time.Duration) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected message %q", m.Subject)
	case <-time.After(d):
	}
}

func waitForState(t *testing.T, e *Engine, accountID string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := e.Status(accountID)
		return ok && st.State == want
	}, 5*time.Second, time.Millisecond, "account %s never reached %s", accountID, want)
}
