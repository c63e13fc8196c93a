package xfer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luhaoyun888/go-imap-xfer"
	"github.com/luhaoyun888/go-imap-xfer/xfertest"
)

// newTestStore creates a store whose INBOX holds m1@example.org,
// m2@example.org and m10@example.org, and an empty Archive.
func newTestStore(t *testing.T) *xfertest.Store {
	store := xfertest.NewStore("INBOX", "Archive")
	for _, id := range []string{"m1@example.org", "m2@example.org", "m10@example.org"} {
		if _, err := store.AppendMessage("INBOX", id); err != nil {
			t.Fatalf("AppendMessage(%q) = %v", id, err)
		}
	}
	return store
}

func openFolder(t *testing.T, store *xfertest.Store, name string) xfer.Folder {
	folder, err := store.EnsureOpenFolder(context.Background(), name)
	require.NoError(t, err)
	return folder
}

func messageIDs(msgs []*xfer.Message) []string {
	l := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		l = append(l, msg.MessageID)
	}
	return l
}

func TestResolveMessageIDs(t *testing.T) {
	store := newTestStore(t)
	inbox := openFolder(t, store, "INBOX")

	msgs, err := xfer.Resolve(context.Background(), inbox, xfer.ByMessageID("m1@example.org", "<m2@example.org>"))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1@example.org", "m2@example.org"}, messageIDs(msgs))

	var searches int
	for _, op := range store.Ops() {
		if op.Kind == xfertest.OpSearch {
			searches++
		}
	}
	assert.Equal(t, 1, searches, "ids must be resolved with a single search")
}

// looseFolder answers every search with all messages, like a server whose
// header search is a loose substring match.
type looseFolder struct {
	xfer.Folder
}

func (f looseFolder) Search(ctx context.Context, criteria *imap.SearchCriteria) ([]*xfer.Message, error) {
	return f.Folder.Search(ctx, &imap.SearchCriteria{})
}

func TestResolveMessageIDExactMatch(t *testing.T) {
	store := newTestStore(t)
	inbox := looseFolder{openFolder(t, store, "INBOX")}

	msgs, err := xfer.Resolve(context.Background(), inbox, xfer.ByMessageID("m1@example.org"))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1@example.org"}, messageIDs(msgs))

	msgs, err = xfer.Resolve(context.Background(), inbox, xfer.ByMessageID("m1"))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestResolveMessageIDsUnknown(t *testing.T) {
	store := newTestStore(t)
	inbox := openFolder(t, store, "INBOX")

	msgs, err := xfer.Resolve(context.Background(), inbox, xfer.ByMessageID("nope@example.org"))
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestResolveMailRecords(t *testing.T) {
	store := newTestStore(t)
	inbox := openFolder(t, store, "INBOX")

	criterion := xfer.ByMailRecord(record(""), record("<m2@example.org>"), record("m10@example.org"))
	msgs, err := xfer.Resolve(context.Background(), inbox, criterion)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2@example.org", "m10@example.org"}, messageIDs(msgs))
}

func TestResolveEmptyIDs(t *testing.T) {
	store := newTestStore(t)
	inbox := openFolder(t, store, "INBOX")

	msgs, err := xfer.Resolve(context.Background(), inbox, xfer.ByMailRecord(record(""), record("  ")))
	require.NoError(t, err)
	assert.Empty(t, msgs)

	for _, op := range store.Ops() {
		assert.NotEqual(t, xfertest.OpSearch, op.Kind)
	}
}

func TestResolveMessageNumbers(t *testing.T) {
	store := newTestStore(t)
	inbox := openFolder(t, store, "INBOX")

	msgs, err := xfer.Resolve(context.Background(), inbox, xfer.ByMessageNumber(3, 1))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint32(3), msgs[0].SeqNum)
	assert.Equal(t, "m10@example.org", msgs[0].MessageID)
	assert.Equal(t, uint32(1), msgs[1].SeqNum)
	assert.Equal(t, "m1@example.org", msgs[1].MessageID)
}

func TestResolveMessageNumberOutOfRange(t *testing.T) {
	for _, num := range []uint32{0, 4} {
		store := newTestStore(t)
		inbox := openFolder(t, store, "INBOX")

		_, err := xfer.Resolve(context.Background(), inbox, xfer.ByMessageNumber(1, num))
		var resolutionErr *xfer.ResolutionError
		require.True(t, errors.As(err, &resolutionErr), "Resolve(%v) = %v", num, err)
		assert.ErrorIs(t, err, xfer.ErrNoSuchMessage)
		assert.Equal(t, xfer.StageResolution, xfer.StageOf(err))

		for _, op := range store.Ops() {
			assert.NotEqual(t, xfertest.OpFetch, op.Kind)
		}
	}
}

func TestResolveSearchFailure(t *testing.T) {
	store := newTestStore(t)
	inbox := openFolder(t, store, "INBOX")
	errSearch := errors.New("connection reset")
	store.FailOn(xfertest.OpSearch, errSearch)

	_, err := xfer.Resolve(context.Background(), inbox, xfer.ByMessageID("m1@example.org"))
	var storeErr *xfer.StoreError
	require.True(t, errors.As(err, &storeErr), "Resolve() = %v", err)
	assert.Equal(t, xfer.StageResolution, storeErr.Stage)
	assert.ErrorIs(t, err, errSearch)
}

func TestMessageIDCriteria(t *testing.T) {
	criteria := xfer.MessageIDCriteria([]string{"a"})
	require.Len(t, criteria.Header, 1)
	assert.Equal(t, "<a>", criteria.Header[0].Value)
	assert.Empty(t, criteria.Or)

	criteria = xfer.MessageIDCriteria([]string{"a", "b", "c"})
	require.Len(t, criteria.Or, 1)
	assert.Equal(t, "<a>", criteria.Or[0][0].Header[0].Value)
	right := criteria.Or[0][1]
	require.Len(t, right.Or, 1)
	assert.Equal(t, "<b>", right.Or[0][0].Header[0].Value)
	assert.Equal(t, "<c>", right.Or[0][1].Header[0].Value)
}
