// Package xfertest 为基于 xfer 包的代码测试提供内存邮件存储。
//
// 存储实现了 xfer.FolderSessionManager 接口。它记录每个存储操作，
// 可以让指定操作失败，也可以隐藏 UID 原语以模拟不支持 UIDPLUS 或 MOVE 的存储。
package xfertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/emersion/go-imap/v2"

	"github.com/luhaoyun888/go-imap-xfer"
)

var errNoSuchMailbox = errors.New("xfertest: no such mailbox")

// OpKind 标识一种存储操作。
type OpKind string

const (
	OpOpen       OpKind = "open"
	OpStatus     OpKind = "status"
	OpSearch     OpKind = "search"
	OpFetch      OpKind = "fetch"
	OpFetchUID   OpKind = "fetch-uid"
	OpCopy       OpKind = "copy"
	OpCopyUID    OpKind = "copy-uid"
	OpMoveUID    OpKind = "move-uid"
	OpSetDeleted OpKind = "set-deleted"
)

// Mutates 报告该操作是否修改存储。
func (kind OpKind) Mutates() bool {
	switch kind {
	case OpCopy, OpCopyUID, OpMoveUID, OpSetDeleted:
		return true
	default:
		return false
	}
}

// Op 是一条记录的存储操作。
type Op struct {
	Kind        OpKind     // 操作类型
	Folder      string     // 操作的文件夹
	Destination string     // 复制或移动的目标文件夹
	UIDs        []imap.UID // 涉及的邮件 UID
}

// StoredMessage 是存储中邮件的快照。
type StoredMessage struct {
	UID       imap.UID
	MessageID string
	Flags     []imap.Flag
	Raw       []byte
}

// Deleted 报告邮件是否带有 \Deleted 标志。
func (msg *StoredMessage) Deleted() bool {
	for _, flag := range msg.Flags {
		if canonicalFlag(flag) == canonicalFlag(imap.FlagDeleted) {
			return true
		}
	}
	return false
}

type mailbox struct {
	name    string
	l       []*message
	uidNext imap.UID
}

// Store 是内存邮件存储。零值不可用，请使用 NewStore。
type Store struct {
	mutex     sync.Mutex
	mailboxes map[string]*mailbox
	generic   bool
	failures  map[OpKind]error
	ops       []Op
}

var _ xfer.FolderSessionManager = (*Store)(nil)

// NewStore 创建包含给定邮箱的存储。
func NewStore(mailboxes ...string) *Store {
	s := &Store{
		mailboxes: make(map[string]*mailbox),
		failures:  make(map[OpKind]error),
	}
	for _, name := range mailboxes {
		s.CreateMailbox(name)
	}
	return s
}

// CreateMailbox 添加一个空邮箱，已存在的邮箱保持不变。
func (s *Store) CreateMailbox(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.mailboxes[name]; !ok {
		s.mailboxes[name] = &mailbox{name: name, uidNext: 1}
	}
}

// SetGeneric 隐藏 UID 原语：之后返回的文件夹既不实现 xfer.UIDCopier
// 也不实现 xfer.UIDMover。
func (s *Store) SetGeneric(generic bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.generic = generic
}

// FailOn 使之后所有给定类型的操作以 err 失败。err 为 nil 时清除失败设置。
func (s *Store) FailOn(kind OpKind, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err == nil {
		delete(s.failures, kind)
	} else {
		s.failures[kind] = err
	}
}

// Append 向邮箱添加原始邮件并返回其 UID。
func (s *Store) Append(name string, raw []byte, flags ...imap.Flag) (imap.UID, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	mbox, ok := s.mailboxes[name]
	if !ok {
		return 0, fmt.Errorf("xfertest: no such mailbox %q", name)
	}
	msg := &message{buf: raw, flags: make(map[imap.Flag]struct{})}
	for _, flag := range flags {
		msg.flags[canonicalFlag(flag)] = struct{}{}
	}
	return mbox.appendLocked(msg), nil
}

// AppendMessage 添加带有给定 Message-Id 的生成邮件。
func (s *Store) AppendMessage(name, messageID string) (imap.UID, error) {
	return s.Append(name, Raw(messageID, "Message "+messageID))
}

// Messages 按序列顺序返回邮箱的快照。
func (s *Store) Messages(name string) []StoredMessage {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	mbox, ok := s.mailboxes[name]
	if !ok {
		return nil
	}
	l := make([]StoredMessage, 0, len(mbox.l))
	for _, msg := range mbox.l {
		l = append(l, StoredMessage{
			UID:       msg.uid,
			MessageID: msg.messageID(),
			Flags:     msg.flagList(),
			Raw:       msg.buf,
		})
	}
	return l
}

// Ops 按顺序返回记录的操作。
func (s *Store) Ops() []Op {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]Op(nil), s.ops...)
}

// Mutations 返回修改过存储的操作记录。
func (s *Store) Mutations() []Op {
	var l []Op
	for _, op := range s.Ops() {
		if op.Kind.Mutates() {
			l = append(l, op)
		}
	}
	return l
}

// OpenCount 返回文件夹被打开的次数。
func (s *Store) OpenCount(name string) int {
	n := 0
	for _, op := range s.Ops() {
		if op.Kind == OpOpen && op.Folder == name {
			n++
		}
	}
	return n
}

// EnsureOpenFolder 实现 xfer.FolderSessionManager 接口。
// 未知邮箱返回 *xfer.FolderError。
func (s *Store) EnsureOpenFolder(ctx context.Context, name string) (xfer.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, &xfer.FolderError{Name: name, Err: err}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.ops = append(s.ops, Op{Kind: OpOpen, Folder: name})
	if err := s.failures[OpOpen]; err != nil {
		return nil, &xfer.FolderError{Name: name, Err: err}
	}
	if _, ok := s.mailboxes[name]; !ok {
		return nil, &xfer.FolderError{Name: name, Err: errNoSuchMailbox}
	}

	f := &Folder{store: s, name: name}
	if s.generic {
		return &genericFolder{f}, nil
	}
	return f, nil
}

// recordLocked 记录操作并返回注入的失败（如果有）。调用者必须持有互斥锁。
func (s *Store) recordLocked(op Op) error {
	s.ops = append(s.ops, op)
	return s.failures[op.Kind]
}

func (s *Store) mailboxLocked(name string) (*mailbox, error) {
	mbox, ok := s.mailboxes[name]
	if !ok {
		return nil, fmt.Errorf("xfertest: mailbox %q deleted", name)
	}
	return mbox, nil
}

func (mbox *mailbox) appendLocked(msg *message) imap.UID {
	msg.uid = mbox.uidNext
	mbox.uidNext++
	mbox.l = append(mbox.l, msg)
	return msg.uid
}

func (mbox *mailbox) byUID(uid imap.UID) (uint32, *message) {
	for i, msg := range mbox.l {
		if msg.uid == uid {
			return uint32(i) + 1, msg
		}
	}
	return 0, nil
}

func (mbox *mailbox) expungeLocked(uids map[imap.UID]struct{}) {
	l := mbox.l[:0]
	for _, msg := range mbox.l {
		if _, ok := uids[msg.uid]; !ok {
			l = append(l, msg)
		}
	}
	mbox.l = l
}
