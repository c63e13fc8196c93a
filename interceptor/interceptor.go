// Package interceptor 提供现成的 xfer.Interceptor 实现。
//
// 拦截器通过 xfer.Chain 组合，或传给 xfer.ConnectorOptions.Interceptors，
// 第一个位于最外层。
package interceptor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/luhaoyun888/go-imap-xfer"
)

func invocationFields(inv *xfer.Invocation) logrus.Fields {
	return logrus.Fields{
		"source":      inv.Request.Source(),
		"destination": inv.Request.Destination(),
		"mode":        inv.Request.ModeName(),
		"capability":  inv.Capability.String(),
		"messages":    len(inv.Messages),
	}
}

// Logging 记录每次传输的开始和结果。
func Logging(logger logrus.FieldLogger) xfer.Interceptor {
	return func(next xfer.Handler) xfer.Handler {
		return func(ctx context.Context, inv *xfer.Invocation) (*xfer.Result, error) {
			start := time.Now()
			entry := logger.WithFields(invocationFields(inv))
			entry.Debug("Transfer started")

			res, err := next(ctx, inv)
			entry = entry.WithField("duration", time.Since(start))
			if err != nil {
				entry.WithError(err).WithField("stage", xfer.StageOf(err).String()).Warn("Transfer failed")
			} else {
				entry.WithField("transferred", len(res.Messages)).Info("Transfer done")
			}
			return res, err
		}
	}
}

// Recovery 将链中后续位置引发的 panic 转换为错误。
func Recovery(logger logrus.FieldLogger) xfer.Interceptor {
	return func(next xfer.Handler) xfer.Handler {
		return func(ctx context.Context, inv *xfer.Invocation) (res *xfer.Result, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.WithFields(invocationFields(inv)).WithFields(logrus.Fields{
						"panic": fmt.Sprintf("%v", r),
						"stack": string(debug.Stack()),
					}).Error("Panic during transfer")
					res, err = nil, fmt.Errorf("interceptor: panic during transfer: %v", r)
				}
			}()

			return next(ctx, inv)
		}
	}
}

// Timeout 限制传输的时长。截止时间在存储操作之间检查。
func Timeout(d time.Duration) xfer.Interceptor {
	return func(next xfer.Handler) xfer.Handler {
		return func(ctx context.Context, inv *xfer.Invocation) (*xfer.Result, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, inv)
		}
	}
}

// RateLimit 在每次传输前等待限流器，等待时间受上下文限制。
func RateLimit(limiter *rate.Limiter) xfer.Interceptor {
	return func(next xfer.Handler) xfer.Handler {
		return func(ctx context.Context, inv *xfer.Invocation) (*xfer.Result, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("interceptor: rate limit: %w", err)
			}
			return next(ctx, inv)
		}
	}
}
