package xfer

import (
	"context"
	"errors"
	"strconv"

	"github.com/bradenaw/juniper/xslices"
	"github.com/emersion/go-imap/v2"
)

// messageIDHeader 是按 Message-Id 解析时搜索的头部。
const messageIDHeader = "Message-Id"

// Resolve 返回文件夹中由条件指定的邮件。
//
// Message-Id 条件只执行一次搜索，每个 ID 对应一个 HEADER 键并用 OR 组合。
// IMAP 头部搜索按子串匹配，因此只保留 Message-Id 与请求 ID 完全相等的邮件。
// 邮件编号在获取前先与文件夹大小比较，超出范围时返回 *ResolutionError。
func Resolve(ctx context.Context, folder Folder, criterion Criterion) ([]*Message, error) {
	switch criterion.Kind() {
	case CriterionMailRecords, CriterionMessageIDs:
		return resolveMessageIDs(ctx, folder, criterion.MessageIDs())
	case CriterionMessageNumbers:
		return resolveMessageNumbers(ctx, folder, criterion.MessageNumbers())
	default:
		return nil, &ValidationError{Problems: []string{"no criterion given"}}
	}
}

func resolveMessageIDs(ctx context.Context, folder Folder, ids []string) ([]*Message, error) {
	if len(ids) == 0 {
		return []*Message{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, &StoreError{Stage: StageResolution, Op: "search", Folder: folder.Name(), Err: err}
	}

	found, err := folder.Search(ctx, MessageIDCriteria(ids))
	if err != nil {
		return nil, &StoreError{Stage: StageResolution, Op: "search", Folder: folder.Name(), Err: err}
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	return xslices.Filter(found, func(msg *Message) bool {
		_, ok := wanted[normalizeMessageID(msg.MessageID)]
		return ok
	}), nil
}

func resolveMessageNumbers(ctx context.Context, folder Folder, nums []uint32) ([]*Message, error) {
	if len(nums) == 0 {
		return []*Message{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, &StoreError{Stage: StageResolution, Op: "status", Folder: folder.Name(), Err: err}
	}

	total, err := folder.NumMessages(ctx)
	if err != nil {
		return nil, &StoreError{Stage: StageResolution, Op: "status", Folder: folder.Name(), Err: err}
	}
	for _, num := range nums {
		if num == 0 || num > total {
			return nil, &ResolutionError{
				Folder: folder.Name(),
				Value:  strconv.FormatUint(uint64(num), 10),
				Err:    ErrNoSuchMessage,
			}
		}
	}

	msgs, err := folder.Fetch(ctx, nums)
	if errors.Is(err, ErrNoSuchMessage) {
		// 检查大小和获取之间文件夹变小了
		return nil, &ResolutionError{Folder: folder.Name(), Value: formatNums(nums), Err: err}
	} else if err != nil {
		return nil, &StoreError{Stage: StageResolution, Op: "fetch", Folder: folder.Name(), Err: err}
	}
	return msgs, nil
}

// MessageIDCriteria 构建匹配任一 Message-Id 的搜索条件。
// 多个值组合成平衡的 OR 键树。
func MessageIDCriteria(ids []string) *imap.SearchCriteria {
	terms := xslices.Map(ids, func(id string) imap.SearchCriteria {
		return imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{
				Key:   messageIDHeader,
				Value: "<" + normalizeMessageID(id) + ">",
			}},
		}
	})
	criteria := orCriteria(terms)
	return &criteria
}

func orCriteria(terms []imap.SearchCriteria) imap.SearchCriteria {
	switch len(terms) {
	case 0:
		return imap.SearchCriteria{}
	case 1:
		return terms[0]
	}
	mid := len(terms) / 2
	return imap.SearchCriteria{
		Or: [][2]imap.SearchCriteria{{orCriteria(terms[:mid]), orCriteria(terms[mid:])}},
	}
}

func formatNums(nums []uint32) string {
	var set imap.SeqSet
	set.AddNum(nums...)
	return set.String()
}
