package email

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"log"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/source"
)

const (
	testUser     = "me@example.com"
	testPassword = "secret"
)

type serverMode int

const (
	modePlain serverMode = iota
	modeStartTLS
	modeImplicitTLS
)

// testServer is an in-memory IMAP server with a single user and INBOX.
type testServer struct {
	user    *imapmemserver.User
	server  *imapserver.Server
	account model.AccountConfig
}

func newTestServer(t *testing.T, mode serverMode) *testServer {
	t.Helper()

	mem := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPassword)
	require.NoError(t, user.Create("INBOX", nil))
	mem.AddUser(user)

	cert := selfSignedCert(t)
	opts := &imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
		Logger:       log.New(io.Discard, "", 0),
	}
	if mode == modeStartTLS {
		opts.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	server := imapserver.New(opts)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	if mode == modeImplicitTLS {
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
	}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Close() })

	tcpAddr := ln.Addr().(*net.TCPAddr)
	return &testServer{
		user:   user,
		server: server,
		account: model.AccountConfig{
			ID:       "test",
			Host:     "127.0.0.1",
			Port:     tcpAddr.Port,
			Username: testUser,
			Password: testPassword,
			UseTLS:   mode == modeImplicitTLS,
			StartTLS: mode == modeStartTLS,
		},
	}
}

// add appends a message with the given internal date to INBOX.
func (s *testServer) add(t *testing.T, messageID, subject string, date time.Time) {
	t.Helper()

	body := fmt.Sprintf("From: sender@example.com\r\n"+
		"To: me@example.com\r\n"+
		"Subject: %s\r\n"+
		"Message-ID: <%s>\r\n"+
		"Date: %s\r\n"+
		"Content-Type: text/plain\r\n"+
		"\r\n"+
		"body of %s\r\n",
		subject, messageID, date.Format(time.RFC1123Z), subject)

	_, err := s.user.Append("INBOX", bytes.NewReader([]byte(body)), &imap.AppendOptions{Time: date})
	require.NoError(t, err)
}

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "onebox test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func dial(t *testing.T, account model.AccountConfig) *Session {
	t.Helper()

	sess, err := NewIMAPDialer(zap.NewNop()).Dial(context.Background(), account)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess.(*Session)
}

func TestDial_PlainText(t *testing.T) {
	srv := newTestServer(t, modePlain)

	sess := dial(t, srv.account)
	mbox, err := sess.Select(context.Background(), "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), mbox.NumMessages)
}

func TestDial_StartTLS(t *testing.T) {
	srv := newTestServer(t, modeStartTLS)

	_, err := NewIMAPDialer(zap.NewNop()).Dial(context.Background(), srv.account)
	require.Error(t, err, "self-signed certificate must be rejected by default")
	assert.False(t, source.IsAuthError(err))

	srv.account.InsecureSkipVerify = true
	dial(t, srv.account)
}

func TestDial_ImplicitTLS(t *testing.T) {
	srv := newTestServer(t, modeImplicitTLS)
	srv.account.InsecureSkipVerify = true

	sess := dial(t, srv.account)
	_, err := sess.Select(context.Background(), "INBOX")
	require.NoError(t, err)
}

func TestDial_StartTLSNotOfferedByPlainServer(t *testing.T) {
	srv := newTestServer(t, modePlain)
	srv.account.StartTLS = true

	_, err := NewIMAPDialer(zap.NewNop()).Dial(context.Background(), srv.account)
	assert.ErrorContains(t, err, "starting TLS")
}

func TestDial_RejectedPassword(t *testing.T) {
	srv := newTestServer(t, modePlain)
	srv.account.Password = "wrong"

	_, err := NewIMAPDialer(zap.NewNop()).Dial(context.Background(), srv.account)
	require.Error(t, err)
	assert.True(t, source.IsAuthError(err))
}

func TestDial_CancelWhileServerSilent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	// Accept connections and never send a greeting. Accepted conns are
	// kept referenced so they stay open until the listener goroutine exits.
	go func() {
		var conns []net.Conn
		defer func() {
			for _, c := range conns {
				_ = c.Close()
			}
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()

	for _, starttls := range []bool{false, true} {
		t.Run(fmt.Sprintf("starttls=%v", starttls), func(t *testing.T) {
			account := model.AccountConfig{
				ID:       "silent",
				Host:     "127.0.0.1",
				Port:     ln.Addr().(*net.TCPAddr).Port,
				Username: testUser,
				Password: testPassword,
				StartTLS: starttls,
			}

			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(50*time.Millisecond, cancel)

			done := make(chan error, 1)
			go func() {
				_, err := NewIMAPDialer(zap.NewNop()).Dial(ctx, account)
				done <- err
			}()

			select {
			case err := <-done:
				assert.ErrorIs(t, err, context.Canceled)
			case <-time.After(3 * time.Second):
				t.Fatal("Dial ignored cancellation while waiting for the greeting")
			}
		})
	}
}

func TestSession_SearchAndFetch(t *testing.T) {
	srv := newTestServer(t, modePlain)

	now := time.Now()
	srv.add(t, "old@x", "old", now.Add(-60*24*time.Hour))
	total := fetchBatchSize + 10
	for i := 2; i <= total; i++ {
		srv.add(t, fmt.Sprintf("m%d@x", i), fmt.Sprintf("message %d", i), now.Add(-time.Hour))
	}

	sess := dial(t, srv.account)
	ctx := context.Background()

	mbox, err := sess.Select(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(total), mbox.NumMessages)
	assert.Equal(t, uint32(total+1), mbox.UIDNext)
	assert.NotZero(t, mbox.UIDValidity)

	uids, err := sess.SearchSince(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, uids, total-1)
	assert.Equal(t, uint32(2), uids[0])

	after, err := sess.SearchAfter(ctx, uint32(total-1))
	require.NoError(t, err)
	assert.Equal(t, []uint32{uint32(total)}, after)

	after, err = sess.SearchAfter(ctx, uint32(total))
	require.NoError(t, err)
	assert.Empty(t, after, "UID n+1:* must not return the highest UID again")

	var fetched []source.FetchedMessage
	err = sess.Fetch(ctx, uids, func(fm source.FetchedMessage) error {
		fetched = append(fetched, fm)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, fetched, total-1, "every batch is fetched")
	assert.Equal(t, uint32(2), fetched[0].UID)
	assert.Equal(t, uint32(total), fetched[len(fetched)-1].UID)
	assert.Contains(t, string(fetched[0].Body), "Subject: message 2")
	assert.False(t, fetched[0].InternalDate.IsZero())
}

func TestSession_FetchStopsOnVisitError(t *testing.T) {
	srv := newTestServer(t, modePlain)
	for i := 1; i <= 3; i++ {
		srv.add(t, fmt.Sprintf("m%d@x", i), "hello", time.Now())
	}

	sess := dial(t, srv.account)
	ctx := context.Background()
	_, err := sess.Select(ctx, "INBOX")
	require.NoError(t, err)

	errStop := fmt.Errorf("consumer gone")
	visits := 0
	err = sess.Fetch(ctx, []uint32{1, 2, 3}, func(source.FetchedMessage) error {
		visits++
		return errStop
	})
	assert.ErrorIs(t, err, errStop)
	assert.Equal(t, 1, visits)
}

func TestSession_IdleSignalsNewMail(t *testing.T) {
	srv := newTestServer(t, modePlain)
	sess := dial(t, srv.account)

	_, err := sess.Select(context.Background(), "INBOX")
	require.NoError(t, err)

	time.AfterFunc(100*time.Millisecond, func() {
		srv.add(t, "new@x", "new", time.Now())
	})

	newMail, err := sess.Idle(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.True(t, newMail)

	uids, err := sess.SearchAfter(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, uids)
}

func TestSession_IdleRearmTimeout(t *testing.T) {
	srv := newTestServer(t, modePlain)
	sess := dial(t, srv.account)

	_, err := sess.Select(context.Background(), "INBOX")
	require.NoError(t, err)

	newMail, err := sess.Idle(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, newMail)

	_, err = sess.SearchAfter(context.Background(), 0)
	assert.NoError(t, err, "session is usable after IDLE is ended")
}

func TestSession_IdleConnectionLost(t *testing.T) {
	srv := newTestServer(t, modePlain)
	sess := dial(t, srv.account)

	_, err := sess.Select(context.Background(), "INBOX")
	require.NoError(t, err)

	time.AfterFunc(100*time.Millisecond, func() { _ = srv.server.Close() })

	_, err = sess.Idle(context.Background(), 5*time.Second)
	assert.Error(t, err)
}

func TestSession_IdleCancelled(t *testing.T) {
	srv := newTestServer(t, modePlain)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := NewIMAPDialer(zap.NewNop()).Dial(ctx, srv.account)
	require.NoError(t, err)
	sess := s.(*Session)
	defer sess.Close()

	_, err = sess.Select(ctx, "INBOX")
	require.NoError(t, err)

	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = sess.Idle(ctx, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_CloseTwice(t *testing.T) {
	srv := newTestServer(t, modePlain)

	s, err := NewIMAPDialer(zap.NewNop()).Dial(context.Background(), srv.account)
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
