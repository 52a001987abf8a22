package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/source"
)

var (
	// ErrAlreadyStarted is returned by Start when called twice.
	ErrAlreadyStarted = errors.New("sync engine already started")

	// ErrStopped is returned once StopAll has been called.
	ErrStopped = errors.New("sync engine stopped")

	// ErrUnknownAccount is returned for account IDs the engine does not
	// supervise, including accounts skipped for missing credentials.
	ErrUnknownAccount = errors.New("unknown account")
)

// Engine supervises one connection per configured account and merges their
// messages into a single stream.
type Engine struct {
	opts   Options
	logger *zap.Logger
	out    chan model.Message

	mu          gosync.Mutex
	order       []string
	supervisors map[string]*Supervisor
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
}

// NewEngine creates an engine for accounts. Accounts without a username or
// password are skipped and never connected.
func NewEngine(
	accounts []model.AccountConfig,
	dialer source.Dialer,
	opts Options,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}

	e := &Engine{
		opts:        opts,
		logger:      logger,
		out:         make(chan model.Message, opts.BufferSize),
		supervisors: make(map[string]*Supervisor, len(accounts)),
	}

	for _, acct := range accounts {
		if !acct.HasCredentials() {
			logger.Info("skipping account without credentials",
				zap.String("account", acct.ID),
			)
			continue
		}
		if _, dup := e.supervisors[acct.ID]; dup {
			logger.Warn("skipping duplicate account", zap.String("account", acct.ID))
			continue
		}
		e.order = append(e.order, acct.ID)
		e.supervisors[acct.ID] = newSupervisor(acct, dialer, opts, e.out, logger)
	}

	return e
}

// Messages returns the merged message stream. It is closed by StopAll.
// Messages from one account arrive in fetch order; there is no ordering
// across accounts.
func (e *Engine) Messages() <-chan model.Message {
	return e.out
}

// Start launches every supervisor and returns immediately. Accounts that
// cannot connect stay in their own reconnect cycle without affecting the
// others.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)

	for _, id := range e.order {
		e.supervisors[id].start(e.ctx)
	}

	e.logger.Info("sync engine started", zap.Int("accounts", len(e.order)))
	return nil
}

// StopOne stops a single account, cancelling any pending reconnect, and
// waits until its session is released.
func (e *Engine) StopOne(accountID string) error {
	e.mu.Lock()
	sup, ok := e.supervisors[accountID]
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	sup.stop()
	return nil
}

// Restart starts a stopped or permanently failed account again with a
// fresh attempt budget. It is a no-op for an account that is running.
func (e *Engine) Restart(accountID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	sup, ok := e.supervisors[accountID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	if !e.started {
		return fmt.Errorf("restarting %s: engine not started", accountID)
	}

	if sup.start(e.ctx) {
		e.logger.Info("account restarted", zap.String("account", accountID))
	}
	return nil
}

// StopAll stops every account and closes the message stream. Pending
// backoff timers are cancelled, not awaited. Safe to call more than once.
func (e *Engine) StopAll() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	sups := make([]*Supervisor, 0, len(e.order))
	for _, id := range e.order {
		sups = append(sups, e.supervisors[id])
	}
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, sup := range sups {
		sup.stop()
	}
	close(e.out)

	e.logger.Info("sync engine stopped")
}

// Statuses returns a snapshot of every supervised account in
// configuration order.
func (e *Engine) Statuses() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	statuses := make([]Status, 0, len(e.order))
	for _, id := range e.order {
		statuses = append(statuses, e.supervisors[id].Status())
	}
	return statuses
}

// Status returns the snapshot for one account.
func (e *Engine) Status(accountID string) (Status, bool) {
	e.mu.Lock()
	sup, ok := e.supervisors[accountID]
	e.mu.Unlock()

	if !ok {
		return Status{}, false
	}
	return sup.Status(), true
}
