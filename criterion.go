package xfer

import (
	"github.com/bradenaw/juniper/xslices"
)

// MailRecord 是之前获取到的邮件，例如轮询源文件夹得到的邮件。
// 解析时只使用它的 Message-Id。
type MailRecord interface {
	MessageID() string
}

// CriterionKind 标识 Criterion 当前生效的变体。
type CriterionKind int

const (
	CriterionNone CriterionKind = iota
	CriterionMailRecords
	CriterionMessageIDs
	CriterionMessageNumbers
)

// String 实现 fmt.Stringer 接口。
func (kind CriterionKind) String() string {
	switch kind {
	case CriterionMailRecords:
		return "mail records"
	case CriterionMessageIDs:
		return "message ids"
	case CriterionMessageNumbers:
		return "message numbers"
	default:
		return "none"
	}
}

// Criterion 标识一次传输的邮件。只有一个变体生效，
// 使用 ByMailRecord、ByMessageID 或 ByMessageNumber 构建。
type Criterion struct {
	kind    CriterionKind
	records []MailRecord
	ids     []string
	numbers []uint32
}

// ByMailRecord 选择 Message-Id 与某条记录匹配的邮件。
// 没有 Message-Id 的记录会被忽略。
func ByMailRecord(records ...MailRecord) Criterion {
	return Criterion{kind: CriterionMailRecords, records: append([]MailRecord(nil), records...)}
}

// ByMessageID 选择 Message-Id 头部等于 ids 之一的邮件，尖括号可省略。
func ByMessageID(ids ...string) Criterion {
	return Criterion{kind: CriterionMessageIDs, ids: append([]string(nil), ids...)}
}

// ByMessageNumber 按源文件夹中从 1 开始的序列号选择邮件。
func ByMessageNumber(nums ...uint32) Criterion {
	return Criterion{kind: CriterionMessageNumbers, numbers: append([]uint32(nil), nums...)}
}

// CriterionFromFields 从三个可选列表构建 Criterion。
// 按记录、ID、编号的顺序，第一个非空列表生效。
func CriterionFromFields(records []MailRecord, ids []string, numbers []uint32) Criterion {
	switch {
	case len(records) > 0:
		return ByMailRecord(records...)
	case len(ids) > 0:
		return ByMessageID(ids...)
	case len(numbers) > 0:
		return ByMessageNumber(numbers...)
	default:
		return Criterion{}
	}
}

// Kind 返回生效的变体。
func (c Criterion) Kind() CriterionKind {
	return c.kind
}

// Len 返回生效变体中的标识符数量。
func (c Criterion) Len() int {
	switch c.kind {
	case CriterionMailRecords:
		return len(c.records)
	case CriterionMessageIDs:
		return len(c.ids)
	case CriterionMessageNumbers:
		return len(c.numbers)
	default:
		return 0
	}
}

// MailRecords 返回 ByMailRecord 条件的记录。
func (c Criterion) MailRecords() []MailRecord {
	return append([]MailRecord(nil), c.records...)
}

// MessageNumbers 返回 ByMessageNumber 条件的编号。
func (c Criterion) MessageNumbers() []uint32 {
	return append([]uint32(nil), c.numbers...)
}

// MessageIDs 按顺序返回条件指定的规范化、非空的 Message-Id。
// 邮件记录只取其 Message-Id。
func (c Criterion) MessageIDs() []string {
	var ids []string
	switch c.kind {
	case CriterionMailRecords:
		records := xslices.Filter(c.MailRecords(), func(r MailRecord) bool { return r != nil })
		ids = xslices.Map(records, func(r MailRecord) string { return r.MessageID() })
	case CriterionMessageIDs:
		ids = c.ids
	default:
		return nil
	}
	ids = xslices.Map(ids, normalizeMessageID)
	return xslices.Filter(ids, func(id string) bool { return id != "" })
}
