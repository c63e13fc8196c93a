package xferimap_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luhaoyun888/go-imap-xfer"
	"github.com/luhaoyun888/go-imap-xfer/xferimap"
	"github.com/luhaoyun888/go-imap-xfer/xfertest"
)

const (
	testUsername = "test-user"
	testPassword = "test-password"
)

var testMessageIDs = []string{"m1@example.org", "m2@example.org", "m10@example.org"}

// newTestServer starts an in-memory IMAP server whose INBOX holds the test
// messages and whose Archive is empty. It returns the server address.
func newTestServer(t *testing.T) string {
	memServer := imapmemserver.New()

	user := imapmemserver.NewUser(testUsername, testPassword)
	for _, name := range []string{"INBOX", "Archive"} {
		if err := user.Create(name, nil); err != nil {
			t.Fatalf("Create(%q) = %v", name, err)
		}
	}
	for _, id := range testMessageIDs {
		raw := xfertest.Raw(id, "Message "+id)
		if _, err := user.Append("INBOX", bytes.NewReader(raw), &imap.AppendOptions{}); err != nil {
			t.Fatalf("Append() = %v", err)
		}
	}
	memServer.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(conn *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memServer.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
	})

	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("net.Listen() = %v", err)
	}
	go server.Serve(ln)
	t.Cleanup(func() { server.Close() })

	return ln.Addr().String()
}

func newSessionManager(t *testing.T, addr string) *xferimap.SessionManager {
	logger, _ := test.NewNullLogger()
	sessions := xferimap.NewSessionManager(&xferimap.Options{
		Address:  addr,
		Security: xferimap.SecurityNone,
		Username: testUsername,
		Password: testPassword,
		Logger:   logger,
	})
	t.Cleanup(func() { sessions.Close() })
	return sessions
}

type mailboxMessage struct {
	UID       imap.UID
	MessageID string
	Deleted   bool
}

// listMailbox reads a mailbox over a fresh connection.
func listMailbox(t *testing.T, addr, name string) []mailboxMessage {
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	client := imapclient.New(conn, nil)
	defer client.Close()

	require.NoError(t, client.Login(testUsername, testPassword).Wait())
	data, err := client.Select(name, nil).Wait()
	require.NoError(t, err)
	if data.NumMessages == 0 {
		return nil
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(1, data.NumMessages)
	bufs, err := client.Fetch(seqSet, &imap.FetchOptions{UID: true, Flags: true, Envelope: true}).Collect()
	require.NoError(t, err)

	var l []mailboxMessage
	for _, buf := range bufs {
		msg := mailboxMessage{UID: buf.UID, MessageID: buf.Envelope.MessageID}
		for _, flag := range buf.Flags {
			if strings.EqualFold(string(flag), string(imap.FlagDeleted)) {
				msg.Deleted = true
			}
		}
		l = append(l, msg)
	}
	return l
}

func resultIDs(res *xfer.Result) []string {
	var l []string
	for _, msg := range res.Messages {
		l = append(l, msg.MessageID)
	}
	return l
}

func execute(t *testing.T, sessions xfer.FolderSessionManager, capability xfer.Capability, build func(b *xfer.RequestBuilder)) (*xfer.Result, error) {
	logger, _ := test.NewNullLogger()
	connector := xfer.NewConnector(sessions, &xfer.ConnectorOptions{
		Capability: capability,
		Defaults:   xfer.Defaults{PollFolder: "INBOX", DestinationFolder: "Archive"},
		Logger:     logger,
	})
	b := connector.NewRequest()
	build(b)
	return connector.Execute(context.Background(), b.Build())
}

func TestUIDCopyByMessageID(t *testing.T) {
	addr := newTestServer(t)
	sessions := newSessionManager(t, addr)

	res, err := execute(t, sessions, xfer.CapabilityUIDCopy, func(b *xfer.RequestBuilder) {
		b.MessageIDs("m2@example.org", "m1@example.org")
	})
	require.NoError(t, err)
	// Server order
	assert.Equal(t, []string{"m1@example.org", "m2@example.org"}, resultIDs(res))
	for _, msg := range res.Messages {
		assert.Equal(t, "Archive", msg.Folder)
	}

	archive := listMailbox(t, addr, "Archive")
	require.Len(t, archive, 2)
	assert.Equal(t, res.Messages[0].UID, archive[0].UID)
	assert.Equal(t, res.Messages[1].UID, archive[1].UID)
	assert.Len(t, listMailbox(t, addr, "INBOX"), 3)
}

func TestUIDCopyMoveByNumber(t *testing.T) {
	addr := newTestServer(t)
	sessions := newSessionManager(t, addr)

	res, err := execute(t, sessions, xfer.CapabilityUIDCopy, func(b *xfer.RequestBuilder) {
		b.Mode("move").MessageNumbers(3, 1)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m10@example.org", "m1@example.org"}, resultIDs(res))

	inbox := listMailbox(t, addr, "INBOX")
	require.Len(t, inbox, 3)
	assert.True(t, inbox[0].Deleted)
	assert.False(t, inbox[1].Deleted)
	assert.True(t, inbox[2].Deleted)
}

func TestUIDMove(t *testing.T) {
	addr := newTestServer(t)
	sessions := newSessionManager(t, addr)

	res, err := execute(t, sessions, xfer.CapabilityUIDMove, func(b *xfer.RequestBuilder) {
		b.Mode("move").MessageIDs("m10@example.org")
	})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "m10@example.org", res.Messages[0].MessageID)

	inbox := listMailbox(t, addr, "INBOX")
	require.Len(t, inbox, 2)
	assert.Equal(t, "m1@example.org", inbox[0].MessageID)
	assert.Equal(t, "m2@example.org", inbox[1].MessageID)
	assert.Len(t, listMailbox(t, addr, "Archive"), 1)
}

func TestGenericMove(t *testing.T) {
	addr := newTestServer(t)
	sessions := newSessionManager(t, addr)

	res, err := execute(t, sessions, xfer.CapabilityGeneric, func(b *xfer.RequestBuilder) {
		b.Mode("move").MessageNumbers(2)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)
	assert.Empty(t, res.Messages)

	inbox := listMailbox(t, addr, "INBOX")
	require.Len(t, inbox, 3)
	assert.True(t, inbox[1].Deleted)
	assert.Len(t, listMailbox(t, addr, "Archive"), 1)
}

func TestGenericCopy(t *testing.T) {
	addr := newTestServer(t)
	sessions := newSessionManager(t, addr)

	res, err := execute(t, sessions, xfer.CapabilityGeneric, func(b *xfer.RequestBuilder) {
		b.MessageIDs("m1@example.org")
	})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "INBOX", res.Messages[0].Folder)
	assert.Len(t, listMailbox(t, addr, "Archive"), 1)
}

func TestMessageNumberOutOfRange(t *testing.T) {
	addr := newTestServer(t)
	sessions := newSessionManager(t, addr)

	_, err := execute(t, sessions, xfer.CapabilityUIDCopy, func(b *xfer.RequestBuilder) {
		b.MessageNumbers(4)
	})
	var resolutionErr *xfer.ResolutionError
	require.True(t, errors.As(err, &resolutionErr), "Execute() = %v", err)
	assert.Empty(t, listMailbox(t, addr, "Archive"))
}

func TestFolderUnavailable(t *testing.T) {
	addr := newTestServer(t)
	sessions := newSessionManager(t, addr)

	_, err := sessions.EnsureOpenFolder(context.Background(), "Missing")
	assert.ErrorIs(t, err, xfer.ErrFolderUnavailable)
	var folderErr *xfer.FolderError
	require.True(t, errors.As(err, &folderErr))
	assert.Equal(t, "Missing", folderErr.Name)
}

func TestBadCredentials(t *testing.T) {
	addr := newTestServer(t)
	sessions := xferimap.NewSessionManager(&xferimap.Options{
		Address:  addr,
		Security: xferimap.SecurityNone,
		Username: testUsername,
		Password: "wrong",
		Logger:   logrus.New(),
	})
	defer sessions.Close()

	_, err := sessions.EnsureOpenFolder(context.Background(), "INBOX")
	assert.ErrorIs(t, err, xfer.ErrFolderUnavailable)
}

func TestEnsureOpenFolderReuse(t *testing.T) {
	addr := newTestServer(t)
	sessions := newSessionManager(t, addr)

	f1, err := sessions.EnsureOpenFolder(context.Background(), "INBOX")
	require.NoError(t, err)
	f2, err := sessions.EnsureOpenFolder(context.Background(), "INBOX")
	require.NoError(t, err)
	assert.Same(t, f1, f2)

	f3, err := sessions.EnsureOpenFolder(context.Background(), "Archive")
	require.NoError(t, err)
	assert.NotSame(t, f1.(*xferimap.Folder).Client(), f3.(*xferimap.Folder).Client())
}

func TestPlainAuthentication(t *testing.T) {
	addr := newTestServer(t)
	logger, _ := test.NewNullLogger()
	sessions := xferimap.NewSessionManager(&xferimap.Options{
		Address:   addr,
		Security:  xferimap.SecurityNone,
		Username:  testUsername,
		Password:  testPassword,
		Mechanism: xferimap.MechanismPlain,
		Logger:    logger,
	})
	defer sessions.Close()

	folder, err := sessions.EnsureOpenFolder(context.Background(), "INBOX")
	require.NoError(t, err)
	n, err := folder.NumMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
}

func TestExpungeOnClose(t *testing.T) {
	addr := newTestServer(t)
	logger, _ := test.NewNullLogger()
	sessions := xferimap.NewSessionManager(&xferimap.Options{
		Address:        addr,
		Security:       xferimap.SecurityNone,
		Username:       testUsername,
		Password:       testPassword,
		ExpungeOnClose: true,
		Logger:         logger,
	})

	_, err := execute(t, sessions, xfer.CapabilityUIDCopy, func(b *xfer.RequestBuilder) {
		b.Mode("move").MessageNumbers(1)
	})
	require.NoError(t, err)
	require.NoError(t, sessions.Close())

	inbox := listMailbox(t, addr, "INBOX")
	require.Len(t, inbox, 2)
	assert.Equal(t, "m2@example.org", inbox[0].MessageID)

	_, err = sessions.EnsureOpenFolder(context.Background(), "INBOX")
	assert.ErrorIs(t, err, xfer.ErrFolderUnavailable)
}

func TestParseSecurity(t *testing.T) {
	tests := map[string]xferimap.Security{
		"":         xferimap.SecurityTLS,
		"TLS":      xferimap.SecurityTLS,
		"starttls": xferimap.SecurityStartTLS,
		"none":     xferimap.SecurityNone,
	}
	for s, want := range tests {
		got, err := xferimap.ParseSecurity(s)
		require.NoError(t, err)
		assert.Equal(t, want, got, "ParseSecurity(%q)", s)
	}

	_, err := xferimap.ParseSecurity("smoke-signals")
	assert.Error(t, err)
}
