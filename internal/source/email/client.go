package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/source"
)

const (
	dialTimeout   = 30 * time.Second
	logoutTimeout = 5 * time.Second
)

// IMAPDialer opens IMAP sessions with go-imap v2.
type IMAPDialer struct {
	logger *zap.Logger
}

// NewIMAPDialer creates a dialer that logs session events to logger.
func NewIMAPDialer(logger *zap.Logger) *IMAPDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IMAPDialer{logger: logger}
}

var _ source.Dialer = (*IMAPDialer)(nil)

// Dial connects to the account's server over implicit TLS, STARTTLS or
// plain text, and authenticates. A rejected LOGIN is returned as a
// *source.AuthError. The connection is closed as soon as ctx is
// cancelled, including while the greeting or STARTTLS reply is pending,
// and the whole handshake is bounded by dialTimeout.
func (d *IMAPDialer) Dial(
	ctx context.Context,
	account model.AccountConfig,
) (source.Session, error) {
	addr := account.Addr()
	sess := newSession(account.ID, d.logger)

	tlsConfig := &tls.Config{
		ServerName:         account.Host,
		InsecureSkipVerify: account.InsecureSkipVerify,
	}
	opts := &imapclient.Options{
		TLSConfig: tlsConfig,
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: sess.onMailbox,
			Expunge: sess.onExpunge,
		},
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if account.UseTLS {
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{},
			Config:    tlsConfig,
		}
		conn, err = dialer.DialContext(dialCtx, "tcp", addr)
	} else {
		var dialer net.Dialer
		conn, err = dialer.DialContext(dialCtx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	// Every read below, including the greeting, unblocks once ctx ends.
	sess.stopAfter = context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var client *imapclient.Client
	if !account.UseTLS && account.StartTLS {
		client, err = imapclient.NewStartTLS(conn, opts)
		if err != nil {
			sess.stopAfter()
			_ = conn.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("starting TLS with %s: %w", addr, err)
		}
	} else {
		client = imapclient.New(conn, opts)
	}
	sess.client = client

	if err := client.Login(account.Username, account.Password).Wait(); err != nil {
		_ = sess.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return nil, &source.AuthError{
				AccountID: account.ID,
				Message: fmt.Sprintf(
					"authentication failed for %s: %v",
					account.Username, err,
				),
				Err: err,
			}
		}
		return nil, fmt.Errorf("logging in to %s: %w", addr, err)
	}

	// IDLE holds the connection open far longer than the handshake bound.
	_ = conn.SetDeadline(time.Time{})

	d.logger.Debug("IMAP session established",
		zap.String("account", account.ID),
		zap.String("addr", addr),
		zap.Bool("tls", account.UseTLS),
		zap.Bool("starttls", !account.UseTLS && account.StartTLS),
	)

	return sess, nil
}
