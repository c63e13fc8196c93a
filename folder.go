package xfer

import (
	"context"

	"github.com/emersion/go-imap/v2"
)

// Folder 是邮件存储中一个已打开的文件夹。
//
// 实现负责把文件夹绑定到存储所需的会话上，引擎自身从不打开或关闭文件夹。
type Folder interface {
	// Name 返回文件夹名称。
	Name() string
	// NumMessages 返回当前的邮件数量。
	NumMessages(ctx context.Context) (uint32, error)
	// Search 按服务器顺序返回匹配条件的邮件。
	Search(ctx context.Context, criteria *imap.SearchCriteria) ([]*Message, error)
	// Fetch 按 nums 的顺序返回给定序列号的邮件。
	// 缺失的邮件返回包装了 ErrNoSuchMessage 的错误。
	Fetch(ctx context.Context, nums []uint32) ([]*Message, error)
	// FetchUID 按 uids 的顺序返回给定 UID 的邮件。
	// 缺失的邮件返回包装了 ErrNoSuchMessage 的错误。
	FetchUID(ctx context.Context, uids []imap.UID) ([]*Message, error)
	// Copy 将邮件复制到 dest，不返回目标 UID。
	Copy(ctx context.Context, msgs []*Message, dest Folder) error
	// SetDeleted 给邮件添加 \Deleted 标志。
	SetDeleted(ctx context.Context, msgs []*Message) error
}

// UIDCopier 由能返回复制后邮件 UID 的文件夹实现。
type UIDCopier interface {
	// CopyUID 将邮件复制到 dest，返回与 msgs 一一对应的目标 UID。
	CopyUID(ctx context.Context, msgs []*Message, dest Folder) ([]imap.UID, error)
}

// UIDMover 由支持原子移动并返回目标 UID 的文件夹实现。
type UIDMover interface {
	// MoveUID 将邮件移动到 dest，返回与 msgs 一一对应的目标 UID。
	MoveUID(ctx context.Context, msgs []*Message, dest Folder) ([]imap.UID, error)
}

// FolderSessionManager 按需打开文件夹。
//
// EnsureOpenFolder 返回给定名称的已打开文件夹，尽可能复用已有会话。
// 失败时应包装 ErrFolderUnavailable，例如返回 *FolderError。
type FolderSessionManager interface {
	EnsureOpenFolder(ctx context.Context, name string) (Folder, error)
}
