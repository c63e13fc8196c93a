package xfer

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
)

// Execute 将 msgs 从 src 传输到 dest，并返回目标端的邮件句柄。
//
// 传输策略取决于能力：
//
//   - CapabilityUIDCopy 使用 CopyUID 复制，并按 UID 从 dest 获取新邮件。
//     移动模式随后给源邮件添加 \Deleted 标志。
//   - CapabilityUIDMove 使用 MoveUID 原子移动，并按 UID 从 dest 获取新邮件。
//   - CapabilityGeneric 使用 Copy 复制。复制模式原样返回 msgs；移动模式
//     给源邮件添加 \Deleted 标志并返回空切片。
//
// CapabilityUIDMove 下的复制模式有意使用 CapabilityUIDCopy 策略，即 CopyUID
// 原语，而不是 MoveUID：复制绝不能移除源文件夹中的邮件。
//
// msgs 为空时不执行任何存储操作。失败以携带 StageTransfer 或 StageFlagging
// 的 *StoreError 返回。标记失败时已复制的邮件保留在目标文件夹中。
func Execute(ctx context.Context, msgs []*Message, src, dest Folder, mode Mode, capability Capability) ([]*Message, error) {
	if len(msgs) == 0 {
		return []*Message{}, nil
	}

	switch capability {
	case CapabilityUIDCopy:
		return executeUIDCopy(ctx, msgs, src, dest, mode)
	case CapabilityUIDMove:
		// 复制不能删除源邮件
		if mode == ModeCopy {
			return executeUIDCopy(ctx, msgs, src, dest, mode)
		}
		return executeUIDMove(ctx, msgs, src, dest)
	case CapabilityGeneric:
		return executeGeneric(ctx, msgs, src, dest, mode)
	default:
		return nil, fmt.Errorf("xfer: unknown capability %v", int(capability))
	}
}

func executeUIDCopy(ctx context.Context, msgs []*Message, src, dest Folder, mode Mode) ([]*Message, error) {
	copier, ok := src.(UIDCopier)
	if !ok {
		return nil, &StoreError{Stage: StageTransfer, Op: "uid copy", Folder: src.Name(), Err: ErrUnsupported}
	}
	if err := ctx.Err(); err != nil {
		return nil, &StoreError{Stage: StageTransfer, Op: "uid copy", Folder: src.Name(), Err: err}
	}

	uids, err := copier.CopyUID(ctx, msgs, dest)
	if err != nil {
		return nil, &StoreError{Stage: StageTransfer, Op: "uid copy", Folder: src.Name(), Err: err}
	}
	copied, err := fetchCopies(ctx, dest, msgs, uids)
	if err != nil {
		return nil, err
	}

	if mode == ModeMove {
		if err := flagDeleted(ctx, src, msgs); err != nil {
			return nil, err
		}
	}
	return copied, nil
}

func executeUIDMove(ctx context.Context, msgs []*Message, src, dest Folder) ([]*Message, error) {
	mover, ok := src.(UIDMover)
	if !ok {
		return nil, &StoreError{Stage: StageTransfer, Op: "uid move", Folder: src.Name(), Err: ErrUnsupported}
	}
	if err := ctx.Err(); err != nil {
		return nil, &StoreError{Stage: StageTransfer, Op: "uid move", Folder: src.Name(), Err: err}
	}

	uids, err := mover.MoveUID(ctx, msgs, dest)
	if err != nil {
		return nil, &StoreError{Stage: StageTransfer, Op: "uid move", Folder: src.Name(), Err: err}
	}
	return fetchCopies(ctx, dest, msgs, uids)
}

func executeGeneric(ctx context.Context, msgs []*Message, src, dest Folder, mode Mode) ([]*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StoreError{Stage: StageTransfer, Op: "copy", Folder: src.Name(), Err: err}
	}
	if err := src.Copy(ctx, msgs, dest); err != nil {
		return nil, &StoreError{Stage: StageTransfer, Op: "copy", Folder: src.Name(), Err: err}
	}

	if mode == ModeCopy {
		return append([]*Message(nil), msgs...), nil
	}
	if err := flagDeleted(ctx, src, msgs); err != nil {
		return nil, err
	}
	return []*Message{}, nil
}

// fetchCopies 加载已复制邮件的目标句柄。uids 必须与 msgs 一一对应。
func fetchCopies(ctx context.Context, dest Folder, msgs []*Message, uids []imap.UID) ([]*Message, error) {
	if len(uids) != len(msgs) {
		err := fmt.Errorf("store reported %v destination UIDs for %v messages", len(uids), len(msgs))
		return nil, &StoreError{Stage: StageTransfer, Op: "fetch copies", Folder: dest.Name(), Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &StoreError{Stage: StageTransfer, Op: "fetch copies", Folder: dest.Name(), Err: err}
	}

	copied, err := dest.FetchUID(ctx, uids)
	if err != nil {
		return nil, &StoreError{Stage: StageTransfer, Op: "fetch copies", Folder: dest.Name(), Err: err}
	}
	return copied, nil
}

func flagDeleted(ctx context.Context, src Folder, msgs []*Message) error {
	if err := ctx.Err(); err != nil {
		return &StoreError{Stage: StageFlagging, Op: "store flags", Folder: src.Name(), Err: err}
	}
	if err := src.SetDeleted(ctx, msgs); err != nil {
		return &StoreError{Stage: StageFlagging, Op: "store flags", Folder: src.Name(), Err: err}
	}
	return nil
}
