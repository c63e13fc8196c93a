// Package mailrecord 提供可用作 xfer.ByMailRecord 条件的邮件记录。
package mailrecord

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bradenaw/juniper/xslices"
	"github.com/emersion/go-imap/v2"
	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/luhaoyun888/go-imap-xfer"
)

// Record 是之前获取到的邮件，例如轮询文件夹或读取导出的 .eml 文件得到的邮件。
type Record struct {
	messageID string          // 不带尖括号的 Message-Id
	Subject   string          // 邮件主题
	From      []*mail.Address // 发件人
	Date      time.Time       // 邮件日期
}

var _ xfer.MailRecord = (*Record)(nil)

// MessageID 实现 xfer.MailRecord 接口。返回不带尖括号的 Message-Id，
// 邮件没有 Message-Id 时返回空字符串。
func (r *Record) MessageID() string {
	if r == nil {
		return ""
	}
	return r.messageID
}

// Parse 读取 RFC 5322 邮件的头部，不读取正文。
func Parse(r io.Reader) (*Record, error) {
	rawHeader, err := textproto.ReadHeader(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("mailrecord: failed to read header: %w", err)
	}
	h := mail.Header{Header: gomessage.Header{Header: rawHeader}}

	record := &Record{}
	// 格式错误的 Message-Id 视为没有
	if id, err := h.MessageID(); err == nil {
		record.messageID = id
	}
	if subject, err := h.Subject(); err == nil {
		record.Subject = subject
	} else {
		record.Subject = h.Get("Subject")
	}
	if from, err := h.AddressList("From"); err == nil {
		record.From = from
	}
	if date, err := h.Date(); err == nil {
		record.Date = date
	}
	return record, nil
}

// ParseFile 解析存储在 path 的邮件。
func ParseFile(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mailrecord: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// FromEnvelope 从 IMAP 信封构建记录。
func FromEnvelope(env *imap.Envelope) *Record {
	if env == nil {
		return &Record{}
	}
	return &Record{
		messageID: env.MessageID,
		Subject:   env.Subject,
		From: xslices.Map(env.From, func(addr imap.Address) *mail.Address {
			return &mail.Address{Name: addr.Name, Address: addr.Addr()}
		}),
		Date: env.Date,
	}
}

// FromIDs 构建只包含 Message-Id 的记录。
func FromIDs(ids ...string) []*Record {
	return xslices.Map(ids, func(id string) *Record {
		return &Record{messageID: id}
	})
}

// Records 将记录转换为 xfer.ByMailRecord 所需的类型。
func Records(records ...*Record) []xfer.MailRecord {
	return xslices.Map(records, func(r *Record) xfer.MailRecord { return r })
}
