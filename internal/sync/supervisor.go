package sync

import (
	"bytes"
	"context"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/normalize"
	"github.com/nhle/onebox/internal/source"
)

// Options is the account-independent synchronization policy.
type Options struct {
	Folder    string
	Lookback  time.Duration
	IdleRearm time.Duration
	Backoff   Backoff

	// FailFastOnAuth sends an account straight to StatePermanentlyFailed
	// when its credentials are rejected.
	FailFastOnAuth bool

	// BufferSize is the capacity of the engine's merged message stream.
	BufferSize int
}

// DefaultOptions returns the recommended policy: INBOX, 30 day backlog,
// IDLE re-armed every 29 minutes, default backoff.
func DefaultOptions() Options {
	return Options{
		Folder:     "INBOX",
		Lookback:   30 * 24 * time.Hour,
		IdleRearm:  29 * time.Minute,
		Backoff:    DefaultBackoff(),
		BufferSize: 1024,
	}
}

// OptionsFromConfig converts the loaded configuration into Options.
func OptionsFromConfig(c model.SyncConfig) Options {
	return Options{
		Folder:    c.Folder,
		Lookback:  c.Lookback,
		IdleRearm: c.IdleRearm,
		Backoff: Backoff{
			Base:        c.BaseDelay,
			Max:         c.MaxDelay,
			MaxAttempts: c.MaxAttempts,
		},
		FailFastOnAuth: c.FailFastOnAuth,
		BufferSize:     c.BufferSize,
	}
}

// Supervisor owns one account's mailbox session: connect, backlog fetch,
// IDLE cycling and reconnect with backoff. The session is only ever
// touched by the supervisor's run goroutine.
type Supervisor struct {
	account model.AccountConfig
	dialer  source.Dialer
	opts    Options
	out     chan<- model.Message
	logger  *zap.Logger

	mu      gosync.Mutex
	status  Status
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	// Sync position, owned by the run goroutine. It survives reconnects
	// and restarts so already emitted messages are not emitted again.
	uidValidity uint32
	highWater   uint32
	synced      bool
}

func newSupervisor(
	account model.AccountConfig,
	dialer source.Dialer,
	opts Options,
	out chan<- model.Message,
	logger *zap.Logger,
) *Supervisor {
	return &Supervisor{
		account: account,
		dialer:  dialer,
		opts:    opts,
		out:     out,
		logger:  logger.With(zap.String("account", account.ID)),
		status: Status{
			AccountID: account.ID,
			State:     StateDisconnected,
		},
	}
}

// start launches the run loop unless one is already active. The attempt
// counter is reset so a permanently failed account gets a fresh budget.
func (s *Supervisor) start(parent context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.status.Running = true
	s.status.Attempts = 0

	go s.run(ctx, s.done)
	return true
}

// stop cancels the run loop, including any pending backoff timer, and
// waits for the session to be released.
func (s *Supervisor) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Status returns a snapshot of the supervisor's state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	final := s.loop(ctx)

	s.mu.Lock()
	s.status.State = final
	s.running = false
	s.status.Running = false
	s.mu.Unlock()

	close(done)
}

// loop cycles sessions until the account is stopped or gives up, and
// returns the terminal state.
func (s *Supervisor) loop(ctx context.Context) State {
	for {
		err := s.runSession(ctx)
		if ctx.Err() != nil {
			s.logger.Info("account stopped")
			return StateDisconnected
		}

		prev := s.recordFailure(err)
		attempts := prev + 1

		if s.opts.FailFastOnAuth && source.IsAuthError(err) {
			s.logger.Error("credentials rejected, not retrying", zap.Error(err))
			return StatePermanentlyFailed
		}
		if s.opts.Backoff.Exhausted(attempts) {
			s.logger.Error("max reconnection attempts reached",
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			return StatePermanentlyFailed
		}

		delay := s.opts.Backoff.Delay(prev)
		s.setState(StateReconnecting)
		s.logger.Warn("session failed, reconnecting",
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("account stopped during backoff")
			return StateDisconnected
		case <-timer.C:
		}
	}
}

// runSession holds one session from dial until it fails or ctx ends. It
// only returns on error.
func (s *Supervisor) runSession(ctx context.Context) error {
	s.setState(StateConnecting)

	sess, err := s.dialer.Dial(ctx, s.account)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			s.logger.Debug("closing session", zap.Error(err))
		}
	}()

	s.markConnected()
	s.logger.Info("IMAP connected")

	s.setState(StateSyncingBacklog)
	mbox, err := sess.Select(ctx, s.opts.Folder)
	if err != nil {
		return err
	}

	if mbox.UIDValidity != s.uidValidity {
		if s.uidValidity != 0 {
			s.logger.Warn("UIDVALIDITY changed, resyncing backlog",
				zap.Uint32("old", s.uidValidity),
				zap.Uint32("new", mbox.UIDValidity),
			)
		}
		s.uidValidity = mbox.UIDValidity
		s.highWater = 0
		s.synced = false
	}

	if !s.synced {
		if err := s.syncBacklog(ctx, sess, mbox); err != nil {
			return err
		}
		s.synced = true
	} else if err := s.syncNew(ctx, sess); err != nil {
		return err
	}
	s.markSynced()

	for {
		s.setState(StateListening)

		newMail, err := sess.Idle(ctx, s.opts.IdleRearm)
		if err != nil {
			return fmt.Errorf("idling: %w", err)
		}
		if !newMail {
			s.logger.Debug("re-arming IDLE")
			continue
		}

		s.setState(StateSyncingBacklog)
		if err := s.syncNew(ctx, sess); err != nil {
			return err
		}
		s.markSynced()
	}
}

// syncBacklog emits every message received within the lookback window and
// then moves the high-water mark to the folder's UIDNEXT baseline, so that
// older messages outside the window are never picked up as new.
func (s *Supervisor) syncBacklog(
	ctx context.Context,
	sess source.Session,
	mbox *source.MailboxStatus,
) error {
	since := time.Now().Add(-s.opts.Lookback)
	uids, err := sess.SearchSince(ctx, since)
	if err != nil {
		return err
	}

	s.logger.Info("fetching backlog",
		zap.Int("count", len(uids)),
		zap.Time("since", since),
	)
	if err := s.fetch(ctx, sess, uids); err != nil {
		return err
	}

	if mbox.UIDNext > 0 && mbox.UIDNext-1 > s.highWater {
		s.highWater = mbox.UIDNext - 1
	}
	return nil
}

// syncNew emits messages above the high-water mark.
func (s *Supervisor) syncNew(ctx context.Context, sess source.Session) error {
	uids, err := sess.SearchAfter(ctx, s.highWater)
	if err != nil {
		return err
	}
	if len(uids) > 0 {
		s.logger.Info("new mail", zap.Int("count", len(uids)))
	}
	return s.fetch(ctx, sess, uids)
}

// fetch streams the given UIDs through the normalizer onto the output
// channel. A message that cannot be parsed is logged and skipped.
func (s *Supervisor) fetch(
	ctx context.Context,
	sess source.Session,
	uids []uint32,
) error {
	pending := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid > s.highWater {
			pending = append(pending, uid)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	err := sess.Fetch(ctx, pending, func(fm source.FetchedMessage) error {
		raw, err := normalize.Parse(bytes.NewReader(fm.Body))
		if err != nil {
			s.logger.Warn("skipping unparseable message",
				zap.Uint32("uid", fm.UID),
				zap.Error(err),
			)
			s.advance(fm.UID)
			return nil
		}

		msg := normalize.Normalize(raw, s.account.ID, s.opts.Folder)
		msg.UID = fm.UID
		if raw.Date.IsZero() && !fm.InternalDate.IsZero() {
			msg.Date = fm.InternalDate
		}

		if err := s.emit(ctx, msg); err != nil {
			return err
		}
		s.advance(fm.UID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetching: %w", err)
	}
	return nil
}

func (s *Supervisor) advance(uid uint32) {
	if uid > s.highWater {
		s.highWater = uid
	}
}

func (s *Supervisor) emit(ctx context.Context, msg model.Message) error {
	select {
	case s.out <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.status.Emitted++
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
}

func (s *Supervisor) markConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Attempts = 0
	s.status.LastError = ""
}

func (s *Supervisor) markSynced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastSync = time.Now()
}

// recordFailure bumps the attempt counter and returns its previous value.
func (s *Supervisor) recordFailure(err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.status.Attempts
	s.status.Attempts++
	if err != nil {
		s.status.LastError = err.Error()
	}
	return prev
}
