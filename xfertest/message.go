package xfertest

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"
	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// message 是存储在邮箱中的邮件。UID 和内容不可变，标志受 Store.mutex 保护。
type message struct {
	uid   imap.UID               // 邮件的唯一标识符
	buf   []byte                 // 原始 RFC 5322 内容
	flags map[imap.Flag]struct{} // 邮件标志
}

// Raw 构建带有给定 Message-Id 的最小 RFC 5322 邮件。
func Raw(messageID, subject string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: sender@example.org\r\n")
	fmt.Fprintf(&sb, "To: recipient@example.org\r\n")
	fmt.Fprintf(&sb, "Subject: %v\r\n", subject)
	if messageID != "" {
		fmt.Fprintf(&sb, "Message-Id: <%v>\r\n", strings.Trim(messageID, "<>"))
	}
	fmt.Fprintf(&sb, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&sb, "\r\n")
	fmt.Fprintf(&sb, "%v\r\n", subject)
	return []byte(sb.String())
}

func (msg *message) header() mail.Header {
	br := bufio.NewReader(bytes.NewReader(msg.buf))
	rawHeader, _ := textproto.ReadHeader(br)
	return mail.Header{Header: gomessage.Header{Header: rawHeader}}
}

func (msg *message) messageID() string {
	h := msg.header()
	id, err := h.MessageID()
	if err != nil {
		return ""
	}
	return id
}

func (msg *message) flagList() []imap.Flag {
	var flags []imap.Flag
	for flag := range msg.flags {
		flags = append(flags, flag)
	}
	return flags
}

// search 计算解析邮件时用到的搜索条件子集：序列号、UID、标志、头部字段、
// NOT 和 OR。与 IMAP 服务器一样，头部值按不区分大小写的子串匹配。
func (msg *message) search(seqNum uint32, criteria *imap.SearchCriteria) bool {
	for _, seqSet := range criteria.SeqNum {
		if seqNum == 0 || !seqSet.Contains(seqNum) {
			return false
		}
	}
	for _, uidSet := range criteria.UID {
		if !uidSet.Contains(msg.uid) {
			return false
		}
	}

	for _, flag := range criteria.Flag {
		if _, ok := msg.flags[canonicalFlag(flag)]; !ok {
			return false
		}
	}
	for _, flag := range criteria.NotFlag {
		if _, ok := msg.flags[canonicalFlag(flag)]; ok {
			return false
		}
	}

	if len(criteria.Header) > 0 {
		header := msg.header()
		for _, field := range criteria.Header {
			if !header.Has(field.Key) {
				return false
			}
			if field.Value == "" {
				continue
			}
			found := false
			for _, v := range header.Values(field.Key) {
				if strings.Contains(strings.ToLower(v), strings.ToLower(field.Value)) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}

	for _, not := range criteria.Not {
		if msg.search(seqNum, &not) {
			return false
		}
	}
	for _, or := range criteria.Or {
		if !msg.search(seqNum, &or[0]) && !msg.search(seqNum, &or[1]) {
			return false
		}
	}

	return true
}

func canonicalFlag(flag imap.Flag) imap.Flag {
	return imap.Flag(strings.ToLower(string(flag)))
}
