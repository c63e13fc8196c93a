package xfer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFolderUnavailable 在文件夹无法打开时由 FolderSessionManager 的实现包装返回。
	ErrFolderUnavailable = errors.New("xfer: folder unavailable")
	// ErrNoSuchMessage 在请求的邮件不存在时返回。
	ErrNoSuchMessage = errors.New("xfer: no such message")
	// ErrUnsupported 在文件夹缺少所配置能力需要的原语时返回。
	ErrUnsupported = errors.New("xfer: operation not supported by folder")
)

// Stage 标识执行失败的步骤。
type Stage int

const (
	StageNone Stage = iota
	StageValidation
	StageResolution
	StageTransfer
	StageFlagging
)

// String 实现 fmt.Stringer 接口。
func (stage Stage) String() string {
	switch stage {
	case StageNone:
		return "none"
	case StageValidation:
		return "validation"
	case StageResolution:
		return "resolution"
	case StageTransfer:
		return "transfer"
	case StageFlagging:
		return "flagging"
	default:
		panic(fmt.Errorf("xfer: unknown stage %v", int(stage)))
	}
}

// ValidationError 在 Request 格式错误时返回。
type ValidationError struct {
	Problems []string
}

// Error 实现 error 接口。
func (err *ValidationError) Error() string {
	return "xfer: invalid request: " + strings.Join(err.Problems, "; ")
}

// ResolutionError 在标识符没有对应源文件夹中的邮件时返回。
type ResolutionError struct {
	Folder string
	// Value 是出错的标识符，例如邮件编号 "7"
	Value string
	Err   error
}

// Error 实现 error 接口。
func (err *ResolutionError) Error() string {
	return fmt.Sprintf("xfer: cannot resolve %v in folder %q: %v", err.Value, err.Folder, err.Err)
}

// Unwrap 返回底层错误。
func (err *ResolutionError) Unwrap() error {
	return err.Err
}

// StoreError 在调用邮件存储失败时返回。
type StoreError struct {
	Stage  Stage
	Op     string
	Folder string
	Err    error
}

// Error 实现 error 接口。
func (err *StoreError) Error() string {
	return fmt.Sprintf("xfer: %v failed during %v in folder %q: %v", err.Op, err.Stage, err.Folder, err.Err)
}

// Unwrap 返回底层错误。
func (err *StoreError) Unwrap() error {
	return err.Err
}

// FolderError 在文件夹无法打开时由会话管理器返回。
type FolderError struct {
	Name string
	Err  error
}

// Error 实现 error 接口。
func (err *FolderError) Error() string {
	return fmt.Sprintf("xfer: folder %q unavailable: %v", err.Name, err.Err)
}

// Unwrap 同时返回 ErrFolderUnavailable 和底层错误。
func (err *FolderError) Unwrap() []error {
	return []error{ErrFolderUnavailable, err.Err}
}

// StageOf 返回错误产生时所处的执行阶段。
func StageOf(err error) Stage {
	var (
		validationErr *ValidationError
		resolutionErr *ResolutionError
		storeErr      *StoreError
	)
	switch {
	case err == nil:
		return StageNone
	case errors.As(err, &validationErr):
		return StageValidation
	case errors.As(err, &resolutionErr):
		return StageResolution
	case errors.As(err, &storeErr):
		return storeErr.Stage
	default:
		return StageNone
	}
}
