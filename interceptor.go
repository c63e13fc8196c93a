package xfer

import (
	"context"
)

// Invocation 在拦截器链中传递一次执行的状态。拦截器不得修改它。
type Invocation struct {
	Request     *Request
	Capability  Capability
	Messages    []*Message
	Source      Folder
	Destination Folder
}

// Handler 执行一次调用。
type Handler func(ctx context.Context, inv *Invocation) (*Result, error)

// Interceptor 包装 Handler，在传输前后添加行为。
// 除非调用失败，拦截器必须恰好调用一次 next。
type Interceptor func(next Handler) Handler

// Chain 将多个拦截器组合为一个。列表中第一个拦截器位于最外层：
// 进入时最先执行，返回时最后执行。
func Chain(interceptors ...Interceptor) Interceptor {
	return func(next Handler) Handler {
		for i := len(interceptors) - 1; i >= 0; i-- {
			next = interceptors[i](next)
		}
		return next
	}
}

// Invoke 是核心 Handler，不经过任何拦截器直接执行 Execute。
func Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	req := inv.Request
	res := &Result{
		Source:      req.Source(),
		Destination: req.Destination(),
		Mode:        req.Mode(),
		Capability:  inv.Capability,
		Resolved:    len(inv.Messages),
	}

	msgs, err := Execute(ctx, inv.Messages, inv.Source, inv.Destination, res.Mode, inv.Capability)
	if err != nil {
		return nil, err
	}
	res.Messages = msgs
	return res, nil
}
