package xfer

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// ConnectorID 是连接器注册时使用的标识符。
const ConnectorID = "mail-copy"

// ConnectorOptions 包含 NewConnector 的选项。
type ConnectorOptions struct {
	// 传输策略，通常由 ClassifyCapability 根据提供商的 support-uid 标志得到
	Capability Capability
	// NewRequest 返回的构建器使用的默认值
	Defaults Defaults
	// 包装每次传输的拦截器，最外层在前
	Interceptors []Interceptor
	// 日志记录器，默认为 logrus.StandardLogger()
	Logger logrus.FieldLogger
}

// Connector 对邮件存储执行传输请求。
type Connector struct {
	sessions   FolderSessionManager
	capability Capability
	defaults   Defaults
	handler    Handler
	logger     logrus.FieldLogger
}

// NewConnector 创建通过 sessions 打开文件夹的连接器。
//
// options 为 nil 时等同于零值 ConnectorOptions。
func NewConnector(sessions FolderSessionManager, options *ConnectorOptions) *Connector {
	if options == nil {
		options = &ConnectorOptions{}
	}

	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Connector{
		sessions:   sessions,
		capability: options.Capability,
		defaults:   options.Defaults,
		handler:    Chain(options.Interceptors...)(Invoke),
		logger:     logger.WithField("connector", ConnectorID),
	}
}

// Capability 返回配置的能力。
func (c *Connector) Capability() Capability {
	return c.capability
}

// NewRequest 返回使用连接器默认值的请求构建器。
func (c *Connector) NewRequest() *RequestBuilder {
	return NewRequestBuilder(c.defaults)
}

// Execute 校验 req，在源文件夹中解析邮件并将其传输到目标文件夹。
//
// 无效请求在打开任何文件夹之前以 *ValidationError 失败。
// 会话管理器的错误原样返回。
func (c *Connector) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := Validate(req); err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			for _, problem := range validationErr.Problems {
				c.logger.Warnf("The request is invalid: %v", problem)
			}
		}
		return nil, err
	}

	logger := c.logger.WithFields(logrus.Fields{
		"source":      req.Source(),
		"destination": req.Destination(),
		"mode":        req.ModeName(),
		"criterion":   req.Criterion().Kind().String(),
	})

	if criterion := req.Criterion(); criterion.Kind() == CriterionMailRecords {
		if skipped := criterion.Len() - len(criterion.MessageIDs()); skipped > 0 {
			logger.WithField("skipped", skipped).Debug("Ignoring mail records without Message-Id")
		}
	}

	src, err := c.sessions.EnsureOpenFolder(ctx, req.Source())
	if err != nil {
		return nil, err
	}

	msgs, err := Resolve(ctx, src, req.Criterion())
	if err != nil {
		return nil, err
	}
	logger.WithField("messages", len(msgs)).Debug("Resolved messages")

	dest := src
	if req.Destination() != req.Source() {
		dest, err = c.sessions.EnsureOpenFolder(ctx, req.Destination())
		if err != nil {
			return nil, err
		}
	}

	return c.handler(ctx, &Invocation{
		Request:     req,
		Capability:  c.capability,
		Messages:    msgs,
		Source:      src,
		Destination: dest,
	})
}
