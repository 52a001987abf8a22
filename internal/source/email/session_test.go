package email

import (
	"testing"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func pending(s *Session) bool {
	select {
	case <-s.newMail:
		return true
	default:
		return false
	}
}

func exists(n uint32) *imapclient.UnilateralDataMailbox {
	return &imapclient.UnilateralDataMailbox{NumMessages: &n}
}

func TestSession_OnMailboxSignalsGrowth(t *testing.T) {
	s := newSession("acct", zap.NewNop())
	s.exists.Store(3)

	s.onMailbox(exists(3))
	assert.False(t, pending(s), "unchanged count must not signal")

	s.onMailbox(exists(4))
	assert.True(t, pending(s))

	s.onMailbox(&imapclient.UnilateralDataMailbox{})
	assert.False(t, pending(s), "flag-only update must not signal")
}

func TestSession_SignalCoalesces(t *testing.T) {
	s := newSession("acct", zap.NewNop())

	s.onMailbox(exists(1))
	s.onMailbox(exists(2))
	s.onMailbox(exists(3))

	assert.True(t, pending(s))
	assert.False(t, pending(s))
}

func TestSession_ExpungeThenExistsSignals(t *testing.T) {
	s := newSession("acct", zap.NewNop())
	s.exists.Store(2)

	s.onExpunge(2)
	assert.Equal(t, uint32(1), s.exists.Load())

	s.onMailbox(exists(2))
	assert.True(t, pending(s))

	s.exists.Store(0)
	s.onExpunge(1)
	assert.Equal(t, uint32(0), s.exists.Load())
}
