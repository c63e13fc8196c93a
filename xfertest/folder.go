package xfertest

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/luhaoyun888/go-imap-xfer"
)

// Folder 是 Store 中已打开的文件夹，实现了 xfer.UIDCopier 和 xfer.UIDMover 接口。
type Folder struct {
	store *Store
	name  string
}

var (
	_ xfer.Folder    = (*Folder)(nil)
	_ xfer.UIDCopier = (*Folder)(nil)
	_ xfer.UIDMover  = (*Folder)(nil)
)

// Name 实现 xfer.Folder 接口。
func (f *Folder) Name() string {
	return f.name
}

// NumMessages 实现 xfer.Folder 接口。
func (f *Folder) NumMessages(ctx context.Context) (uint32, error) {
	s := f.store
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.recordLocked(Op{Kind: OpStatus, Folder: f.name}); err != nil {
		return 0, err
	}
	mbox, err := s.mailboxLocked(f.name)
	if err != nil {
		return 0, err
	}
	return uint32(len(mbox.l)), nil
}

// Search 实现 xfer.Folder 接口。
func (f *Folder) Search(ctx context.Context, criteria *imap.SearchCriteria) ([]*xfer.Message, error) {
	s := f.store
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.recordLocked(Op{Kind: OpSearch, Folder: f.name}); err != nil {
		return nil, err
	}
	mbox, err := s.mailboxLocked(f.name)
	if err != nil {
		return nil, err
	}

	var l []*xfer.Message
	for i, msg := range mbox.l {
		seqNum := uint32(i) + 1
		if msg.search(seqNum, criteria) {
			l = append(l, f.handle(seqNum, msg))
		}
	}
	return l, nil
}

// Fetch 实现 xfer.Folder 接口。
func (f *Folder) Fetch(ctx context.Context, nums []uint32) ([]*xfer.Message, error) {
	s := f.store
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.recordLocked(Op{Kind: OpFetch, Folder: f.name}); err != nil {
		return nil, err
	}
	mbox, err := s.mailboxLocked(f.name)
	if err != nil {
		return nil, err
	}

	l := make([]*xfer.Message, 0, len(nums))
	for _, seqNum := range nums {
		if seqNum == 0 || int(seqNum) > len(mbox.l) {
			return nil, fmt.Errorf("%w: sequence number %v", xfer.ErrNoSuchMessage, seqNum)
		}
		l = append(l, f.handle(seqNum, mbox.l[seqNum-1]))
	}
	return l, nil
}

// FetchUID 实现 xfer.Folder 接口。
func (f *Folder) FetchUID(ctx context.Context, uids []imap.UID) ([]*xfer.Message, error) {
	s := f.store
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.recordLocked(Op{Kind: OpFetchUID, Folder: f.name, UIDs: uids}); err != nil {
		return nil, err
	}
	mbox, err := s.mailboxLocked(f.name)
	if err != nil {
		return nil, err
	}

	l := make([]*xfer.Message, 0, len(uids))
	for _, uid := range uids {
		seqNum, msg := mbox.byUID(uid)
		if msg == nil {
			return nil, fmt.Errorf("%w: UID %v", xfer.ErrNoSuchMessage, uid)
		}
		l = append(l, f.handle(seqNum, msg))
	}
	return l, nil
}

// Copy 实现 xfer.Folder 接口。
func (f *Folder) Copy(ctx context.Context, msgs []*xfer.Message, dest xfer.Folder) error {
	_, err := f.copy(OpCopy, msgs, dest)
	return err
}

// CopyUID 实现 xfer.UIDCopier 接口。
func (f *Folder) CopyUID(ctx context.Context, msgs []*xfer.Message, dest xfer.Folder) ([]imap.UID, error) {
	return f.copy(OpCopyUID, msgs, dest)
}

// MoveUID 实现 xfer.UIDMover 接口。
func (f *Folder) MoveUID(ctx context.Context, msgs []*xfer.Message, dest xfer.Folder) ([]imap.UID, error) {
	s := f.store
	uids, err := f.copy(OpMoveUID, msgs, dest)
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	mbox, err := s.mailboxLocked(f.name)
	if err != nil {
		return nil, err
	}
	moved := make(map[imap.UID]struct{}, len(msgs))
	for _, msg := range msgs {
		moved[msg.UID] = struct{}{}
	}
	mbox.expungeLocked(moved)
	return uids, nil
}

// SetDeleted 实现 xfer.Folder 接口。
func (f *Folder) SetDeleted(ctx context.Context, msgs []*xfer.Message) error {
	s := f.store
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.recordLocked(Op{Kind: OpSetDeleted, Folder: f.name, UIDs: uidList(msgs)}); err != nil {
		return err
	}
	mbox, err := s.mailboxLocked(f.name)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		_, msg := mbox.byUID(m.UID)
		if msg == nil {
			return fmt.Errorf("%w: UID %v", xfer.ErrNoSuchMessage, m.UID)
		}
		msg.flags[canonicalFlag(imap.FlagDeleted)] = struct{}{}
	}
	return nil
}

// copy 将 msgs 的副本追加到 dest，并按 msgs 的顺序返回新 UID。
func (f *Folder) copy(kind OpKind, msgs []*xfer.Message, dest xfer.Folder) ([]imap.UID, error) {
	s := f.store
	s.mutex.Lock()
	defer s.mutex.Unlock()

	op := Op{Kind: kind, Folder: f.name, Destination: dest.Name(), UIDs: uidList(msgs)}
	if err := s.recordLocked(op); err != nil {
		return nil, err
	}
	src, err := s.mailboxLocked(f.name)
	if err != nil {
		return nil, err
	}
	dst, err := s.mailboxLocked(dest.Name())
	if err != nil {
		return nil, err
	}

	// 先检查所有邮件，复制失败时 dest 保持不变
	originals := make([]*message, 0, len(msgs))
	for _, m := range msgs {
		_, msg := src.byUID(m.UID)
		if msg == nil {
			return nil, fmt.Errorf("%w: UID %v", xfer.ErrNoSuchMessage, m.UID)
		}
		originals = append(originals, msg)
	}

	uids := make([]imap.UID, 0, len(originals))
	for _, msg := range originals {
		clone := &message{buf: msg.buf, flags: make(map[imap.Flag]struct{}, len(msg.flags))}
		for flag := range msg.flags {
			clone.flags[flag] = struct{}{}
		}
		uids = append(uids, dst.appendLocked(clone))
	}
	return uids, nil
}

func (f *Folder) handle(seqNum uint32, msg *message) *xfer.Message {
	return &xfer.Message{
		Folder:    f.name,
		SeqNum:    seqNum,
		UID:       msg.uid,
		MessageID: msg.messageID(),
		Flags:     msg.flagList(),
	}
}

func uidList(msgs []*xfer.Message) []imap.UID {
	uids := make([]imap.UID, 0, len(msgs))
	for _, msg := range msgs {
		uids = append(uids, msg.UID)
	}
	return uids
}

// genericFolder 暴露不带 UID 原语的 Folder。
type genericFolder struct {
	f *Folder
}

var _ xfer.Folder = (*genericFolder)(nil)

func (g *genericFolder) Name() string {
	return g.f.Name()
}

func (g *genericFolder) NumMessages(ctx context.Context) (uint32, error) {
	return g.f.NumMessages(ctx)
}

func (g *genericFolder) Search(ctx context.Context, criteria *imap.SearchCriteria) ([]*xfer.Message, error) {
	return g.f.Search(ctx, criteria)
}

func (g *genericFolder) Fetch(ctx context.Context, nums []uint32) ([]*xfer.Message, error) {
	return g.f.Fetch(ctx, nums)
}

func (g *genericFolder) FetchUID(ctx context.Context, uids []imap.UID) ([]*xfer.Message, error) {
	return g.f.FetchUID(ctx, uids)
}

func (g *genericFolder) Copy(ctx context.Context, msgs []*xfer.Message, dest xfer.Folder) error {
	return g.f.Copy(ctx, msgs, dest)
}

func (g *genericFolder) SetDeleted(ctx context.Context, msgs []*xfer.Message) error {
	return g.f.SetDeleted(ctx, msgs)
}
