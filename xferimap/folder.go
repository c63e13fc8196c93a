package xferimap

import (
	"context"
	"fmt"
	"strings"

	"github.com/bradenaw/juniper/xslices"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/sirupsen/logrus"

	"github.com/luhaoyun888/go-imap-xfer"
)

var fetchOptions = &imap.FetchOptions{
	UID:      true,
	Flags:    true,
	Envelope: true,
}

// Folder 是在独立 IMAP 连接上选中的邮箱。
//
// Folder 实现了 xfer.UIDCopier 和 xfer.UIDMover 接口。服务器是否真正返回
// 目标 UID（UIDPLUS 或 IMAP4rev2）只有在命令完成时才能知道；如果没有返回，
// CopyUID 和 MoveUID 以 xfer.ErrUnsupported 失败。
type Folder struct {
	name   string             // 邮箱名称
	client *imapclient.Client // 已选中该邮箱的客户端
	logger logrus.FieldLogger
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

// Client 返回底层的 IMAP 客户端。
func (f *Folder) Client() *imapclient.Client {
	return f.client
}

// NumMessages 实现 xfer.Folder 接口。先发送 NOOP，使计数包含选中文件夹后
// 新投递的邮件。
func (f *Folder) NumMessages(ctx context.Context) (uint32, error) {
	if err := f.refresh(ctx); err != nil {
		return 0, err
	}
	mbox := f.client.Mailbox()
	if mbox == nil {
		return 0, fmt.Errorf("xferimap: folder %q is not selected", f.name)
	}
	return mbox.NumMessages, nil
}

// Search 实现 xfer.Folder 接口。
func (f *Folder) Search(ctx context.Context, criteria *imap.SearchCriteria) ([]*xfer.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := f.client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("SEARCH: %w", err)
	}

	seqNums := data.AllSeqNums()
	f.logger.WithField("matches", len(seqNums)).Debug("Searched folder")
	if len(seqNums) == 0 {
		return nil, nil
	}

	msgs, err := f.fetch(ctx, imap.SeqSetNum(seqNums...))
	if err != nil {
		return nil, err
	}
	bySeqNum := make(map[uint32]*xfer.Message, len(msgs))
	for _, msg := range msgs {
		bySeqNum[msg.SeqNum] = msg
	}

	l := make([]*xfer.Message, 0, len(seqNums))
	for _, seqNum := range seqNums {
		// 跳过 SEARCH 和 FETCH 之间被删除的邮件
		if msg, ok := bySeqNum[seqNum]; ok {
			l = append(l, msg)
		}
	}
	return l, nil
}

// Fetch 实现 xfer.Folder 接口。
func (f *Folder) Fetch(ctx context.Context, nums []uint32) ([]*xfer.Message, error) {
	if len(nums) == 0 {
		return nil, nil
	}
	msgs, err := f.fetch(ctx, imap.SeqSetNum(nums...))
	if err != nil {
		return nil, err
	}

	bySeqNum := make(map[uint32]*xfer.Message, len(msgs))
	for _, msg := range msgs {
		bySeqNum[msg.SeqNum] = msg
	}
	l := make([]*xfer.Message, 0, len(nums))
	for _, num := range nums {
		msg, ok := bySeqNum[num]
		if !ok {
			return nil, fmt.Errorf("%w: sequence number %v in %q", xfer.ErrNoSuchMessage, num, f.name)
		}
		l = append(l, msg)
	}
	return l, nil
}

// FetchUID 实现 xfer.Folder 接口。先发送 NOOP，使会话知道其他连接
// 复制到该文件夹的邮件。
func (f *Folder) FetchUID(ctx context.Context, uids []imap.UID) ([]*xfer.Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	if err := f.refresh(ctx); err != nil {
		return nil, err
	}
	msgs, err := f.fetch(ctx, imap.UIDSetNum(uids...))
	if err != nil {
		return nil, err
	}

	byUID := make(map[imap.UID]*xfer.Message, len(msgs))
	for _, msg := range msgs {
		byUID[msg.UID] = msg
	}
	l := make([]*xfer.Message, 0, len(uids))
	for _, uid := range uids {
		msg, ok := byUID[uid]
		if !ok {
			return nil, fmt.Errorf("%w: UID %v in %q", xfer.ErrNoSuchMessage, uid, f.name)
		}
		l = append(l, msg)
	}
	return l, nil
}

// Copy 实现 xfer.Folder 接口。
func (f *Folder) Copy(ctx context.Context, msgs []*xfer.Message, dest xfer.Folder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := f.client.Copy(uidSet(msgs), dest.Name()).Wait(); err != nil {
		return fmt.Errorf("UID COPY: %w", err)
	}
	return nil
}

// CopyUID 实现 xfer.UIDCopier 接口。
func (f *Folder) CopyUID(ctx context.Context, msgs []*xfer.Message, dest xfer.Folder) ([]imap.UID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := f.client.Copy(uidSet(msgs), dest.Name()).Wait()
	if err != nil {
		return nil, fmt.Errorf("UID COPY: %w", err)
	}
	if len(data.DestUIDs) == 0 {
		return nil, fmt.Errorf("%w: server did not return COPYUID", xfer.ErrUnsupported)
	}
	return alignUIDs(msgs, data.SourceUIDs, data.DestUIDs)
}

// MoveUID 实现 xfer.UIDMover 接口。不支持 MOVE 的服务器改用
// COPY、STORE 和 EXPUNGE 序列。
func (f *Folder) MoveUID(ctx context.Context, msgs []*xfer.Message, dest xfer.Folder) ([]imap.UID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := f.client.Move(uidSet(msgs), dest.Name()).Wait()
	if err != nil {
		return nil, fmt.Errorf("UID MOVE: %w", err)
	}
	srcUIDs, srcOK := data.SourceUIDs.(imap.UIDSet)
	destUIDs, destOK := data.DestUIDs.(imap.UIDSet)
	if !srcOK || !destOK || len(destUIDs) == 0 {
		return nil, fmt.Errorf("%w: server did not return COPYUID", xfer.ErrUnsupported)
	}
	return alignUIDs(msgs, srcUIDs, destUIDs)
}

// SetDeleted 实现 xfer.Folder 接口。
func (f *Folder) SetDeleted(ctx context.Context, msgs []*xfer.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	storeFlags := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}
	if err := f.client.Store(uidSet(msgs), storeFlags, nil).Close(); err != nil {
		return fmt.Errorf("UID STORE: %w", err)
	}
	return nil
}

func (f *Folder) refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.client.Noop().Wait(); err != nil {
		return fmt.Errorf("NOOP: %w", err)
	}
	return nil
}

func (f *Folder) fetch(ctx context.Context, numSet imap.NumSet) ([]*xfer.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bufs, err := f.client.Fetch(numSet, fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("FETCH: %w", err)
	}
	return xslices.Map(bufs, f.message), nil
}

func (f *Folder) message(buf *imapclient.FetchMessageBuffer) *xfer.Message {
	msg := &xfer.Message{
		Folder: f.name,
		SeqNum: buf.SeqNum,
		UID:    buf.UID,
		Flags:  buf.Flags,
	}
	if buf.Envelope != nil {
		msg.MessageID = strings.Trim(strings.TrimSpace(buf.Envelope.MessageID), "<>")
	}
	return msg
}

func uidSet(msgs []*xfer.Message) imap.UIDSet {
	var set imap.UIDSet
	for _, msg := range msgs {
		set.AddNum(msg.UID)
	}
	return set
}

// alignUIDs 将 COPYUID 的源和目标 UID 集合映射回 msgs 的顺序。
// 两个集合按相同顺序列出 UID，第 n 个源 UID 被复制为第 n 个目标 UID。
func alignUIDs(msgs []*xfer.Message, srcSet, destSet imap.UIDSet) ([]imap.UID, error) {
	srcUIDs, srcOK := srcSet.Nums()
	destUIDs, destOK := destSet.Nums()
	if !srcOK || !destOK || len(srcUIDs) != len(destUIDs) {
		return nil, fmt.Errorf("xferimap: malformed COPYUID %v %v", srcSet, destSet)
	}

	mapping := make(map[imap.UID]imap.UID, len(srcUIDs))
	for i, uid := range srcUIDs {
		mapping[uid] = destUIDs[i]
	}

	l := make([]imap.UID, 0, len(msgs))
	for _, msg := range msgs {
		uid, ok := mapping[msg.UID]
		if !ok {
			return nil, fmt.Errorf("xferimap: COPYUID lacks source UID %v", msg.UID)
		}
		l = append(l, uid)
	}
	return l, nil
}
