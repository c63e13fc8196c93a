package xfer

import (
	"fmt"
	"strings"
)

// Capability 描述存储提供的传输原语。
type Capability int

const (
	// CapabilityGeneric 使用普通复制，移动时随后标记 \Deleted。
	// 不返回目标端句柄。
	CapabilityGeneric Capability = iota
	// CapabilityUIDCopy 使用返回目标 UID 的复制（COPYUID，RFC 4315）。
	CapabilityUIDCopy
	// CapabilityUIDMove 使用返回目标 UID 的原子移动（RFC 6851）。
	CapabilityUIDMove
)

// String 实现 fmt.Stringer 接口。
func (c Capability) String() string {
	switch c {
	case CapabilityGeneric:
		return "generic"
	case CapabilityUIDCopy:
		return "uid-copy"
	case CapabilityUIDMove:
		return "uid-move"
	default:
		panic(fmt.Errorf("xfer: unknown capability %v", int(c)))
	}
}

// ClassifyCapability 将提供方的 support-uid 标志映射为 Capability。
//
// "copy" 对应 CapabilityUIDCopy，"move" 对应 CapabilityUIDMove。
// 其他任何值（包括空字符串）都对应 CapabilityGeneric。
func ClassifyCapability(flag string) Capability {
	switch strings.ToLower(strings.TrimSpace(flag)) {
	case "copy":
		return CapabilityUIDCopy
	case "move":
		return CapabilityUIDMove
	default:
		return CapabilityGeneric
	}
}
