package xfer

import (
	"fmt"
	"strings"
)

const defaultModeName = "copy"

// Defaults 保存 RequestBuilder.Build 使用的配置默认值。
type Defaults struct {
	Mode              string
	SourceFolder      string
	PollFolder        string
	DestinationFolder string
}

// Request 描述一次传输。请求由 RequestBuilder 创建，创建后不可修改。
type Request struct {
	mode        string
	source      string
	destination string
	criterion   Criterion
	// conflicts 保存构建器上除最终条件之外设置过的条件类型
	conflicts []CriterionKind
}

// ModeName 返回请求中的小写模式名称。
func (req *Request) ModeName() string {
	return req.mode
}

// Mode 返回解析后的模式。未知的模式名称返回 ModeCopy，
// 需要用 Validate 拒绝。
func (req *Request) Mode() Mode {
	mode, _ := ParseMode(req.mode)
	return mode
}

// Source 返回源文件夹名称。
func (req *Request) Source() string {
	return req.source
}

// Destination 返回目标文件夹名称。
func (req *Request) Destination() string {
	return req.destination
}

// Criterion 返回标识条件。
func (req *Request) Criterion() Criterion {
	return req.criterion
}

// RequestBuilder 用于构建 Request。
type RequestBuilder struct {
	defaults    Defaults
	mode        string
	source      string
	destination string
	criterion   Criterion
	conflicts   []CriterionKind
}

// NewRequestBuilder 使用给定的默认值创建构建器。
func NewRequestBuilder(defaults Defaults) *RequestBuilder {
	return &RequestBuilder{defaults: defaults}
}

// Mode 设置传输模式，"copy" 或 "move"。
func (b *RequestBuilder) Mode(mode string) *RequestBuilder {
	b.mode = mode
	return b
}

// Source 设置源文件夹。
func (b *RequestBuilder) Source(name string) *RequestBuilder {
	b.source = name
	return b
}

// Destination 设置目标文件夹。
func (b *RequestBuilder) Destination(name string) *RequestBuilder {
	b.destination = name
	return b
}

// MailRecords 通过邮件记录标识邮件。
func (b *RequestBuilder) MailRecords(records ...MailRecord) *RequestBuilder {
	return b.Criterion(ByMailRecord(records...))
}

// MessageIDs 通过 Message-Id 标识邮件。
func (b *RequestBuilder) MessageIDs(ids ...string) *RequestBuilder {
	return b.Criterion(ByMessageID(ids...))
}

// MessageNumbers 通过序列号标识邮件。
func (b *RequestBuilder) MessageNumbers(nums ...uint32) *RequestBuilder {
	return b.Criterion(ByMessageNumber(nums...))
}

// Criterion 设置标识条件。设置与之前类型不同的条件会使请求无效，
// 不会按优先级静默忽略其中一个。
func (b *RequestBuilder) Criterion(c Criterion) *RequestBuilder {
	if b.criterion.kind != CriterionNone && b.criterion.kind != c.kind {
		b.conflicts = append(b.conflicts, b.criterion.kind)
	}
	b.criterion = c
	return b
}

// Build 应用默认值并返回请求。
//
// 模式依次回退到 Defaults.Mode 和 "copy"。源文件夹依次回退到
// Defaults.SourceFolder 和 Defaults.PollFolder。目标文件夹回退到
// Defaults.DestinationFolder。
func (b *RequestBuilder) Build() *Request {
	return &Request{
		mode:        strings.ToLower(firstNonEmpty(b.mode, b.defaults.Mode, defaultModeName)),
		source:      firstNonEmpty(b.source, b.defaults.SourceFolder, b.defaults.PollFolder),
		destination: firstNonEmpty(b.destination, b.defaults.DestinationFolder),
		criterion:   b.criterion,
		conflicts:   append([]CriterionKind(nil), b.conflicts...),
	}
}

// Validate 检查请求，返回列出所有问题的 *ValidationError。没有副作用。
func Validate(req *Request) error {
	if req == nil {
		return &ValidationError{Problems: []string{"request is missing"}}
	}

	var problems []string
	if _, err := ParseMode(req.mode); err != nil {
		problems = append(problems, fmt.Sprintf("mode must be copy or move, got %q", req.mode))
	}
	if strings.TrimSpace(req.source) == "" {
		problems = append(problems, "source folder is missing")
	}
	if strings.TrimSpace(req.destination) == "" {
		problems = append(problems, "destination folder is missing")
	}
	if req.criterion.Len() == 0 {
		problems = append(problems, "no mail records, message ids or message numbers given")
	}
	for _, kind := range req.conflicts {
		problems = append(problems, fmt.Sprintf("criterion %v conflicts with %v", kind, req.criterion.kind))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// IsValid 报告 Validate 是否接受该请求。
func IsValid(req *Request) bool {
	return Validate(req) == nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
