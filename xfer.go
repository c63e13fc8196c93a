// Package xfer 在 IMAP 存储的两个文件夹之间传输邮件。
//
// 邮件可以通过邮件记录、Message-Id 头部值或序列号来标识，先在源文件夹中解析，
// 然后复制或移动到目标文件夹。根据存储的能力，传输使用原子的 UID 原语
// （RFC 4315 UIDPLUS、RFC 6851 MOVE），或者退回到普通复制加 \Deleted 标记。
//
// 基于真实 IMAP 连接的 Folder 实现见 xferimap 包。
package xfer

import (
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"
)

// Mode 选择传输的复制或移动语义。
type Mode int

const (
	ModeCopy Mode = iota // 源邮件保持不变
	ModeMove             // 源邮件被移动或标记为 \Deleted
)

// String 实现 fmt.Stringer 接口。
func (mode Mode) String() string {
	switch mode {
	case ModeCopy:
		return "copy"
	case ModeMove:
		return "move"
	default:
		panic(fmt.Errorf("xfer: unknown mode %v", int(mode)))
	}
}

// ParseMode 解析模式名称，不区分大小写。
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "copy":
		return ModeCopy, nil
	case "move":
		return ModeMove, nil
	default:
		return 0, fmt.Errorf("xfer: unknown mode %q", s)
	}
}

// Message 是已打开文件夹中一封邮件的句柄。
type Message struct {
	Folder string
	SeqNum uint32
	UID    imap.UID
	// MessageID 是不带尖括号的 Message-Id 头部值
	MessageID string
	Flags     []imap.Flag
}

// HasFlag 检查邮件是否带有给定的标志。
func (msg *Message) HasFlag(flag imap.Flag) bool {
	for _, f := range msg.Flags {
		if strings.EqualFold(string(f), string(flag)) {
			return true
		}
	}
	return false
}

// Result 是一次传输的结果。
type Result struct {
	Source      string
	Destination string
	Mode        Mode
	Capability  Capability
	// Resolved 是条件匹配到的源邮件数量
	Resolved int
	// Messages 按输入顺序保存目标端句柄，通用移动时为空
	Messages []*Message
}

// normalizeMessageID 去掉两端的空白和尖括号。
func normalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}
