// Package xferimap 为 xfer 包打开 IMAP 服务器上的文件夹。
//
// IMAP 每个连接只能选中一个邮箱，因此 SessionManager 为每个打开的文件夹
// 保持一个已认证的连接。
package xferimap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"

	"github.com/luhaoyun888/go-imap-xfer"
)

// Security 选择连接的保护方式。
type Security int

const (
	SecurityTLS      Security = iota // 隐式 TLS，通常为 993 端口
	SecurityStartTLS                 // STARTTLS 升级，通常为 143 端口
	SecurityNone                     // 明文，用于测试和本地服务器
)

// ParseSecurity 解析 "tls"、"starttls" 或 "none"。
func ParseSecurity(s string) (Security, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tls", "ssl", "imaps":
		return SecurityTLS, nil
	case "starttls":
		return SecurityStartTLS, nil
	case "none", "insecure", "plain":
		return SecurityNone, nil
	default:
		return 0, fmt.Errorf("xferimap: unknown security %q", s)
	}
}

// 认证机制。
const (
	MechanismLogin       = "login"
	MechanismPlain       = "plain"
	MechanismOAuthBearer = "oauthbearer"
)

// Options 包含 NewSessionManager 的选项。
type Options struct {
	// 服务器地址，"host:port"
	Address  string
	Security Security
	// SecurityTLS 和 SecurityStartTLS 使用的 TLS 配置，为 nil 时使用默认配置
	TLSConfig   *tls.Config
	DialTimeout time.Duration

	Username string
	Password string
	// 认证机制：MechanismLogin（LOGIN 命令，默认）、MechanismPlain 或
	// MechanismOAuthBearer
	Mechanism string
	// MechanismOAuthBearer 使用的 OAuth 2.0 令牌
	Token string

	// 关闭管理器时从每个打开的文件夹永久删除带 \Deleted 标志的邮件
	ExpungeOnClose bool

	Logger logrus.FieldLogger
	// 原始协议流量写入 DebugWriter（如果设置），其中可能包含凭据
	DebugWriter io.Writer
}

// SessionManager 通过 IMAP 打开文件夹。它实现了 xfer.FolderSessionManager
// 接口，可以安全地并发使用。
type SessionManager struct {
	options Options
	logger  logrus.FieldLogger

	mutex   sync.Mutex
	folders map[string]*Folder
	closed  bool
}

var _ xfer.FolderSessionManager = (*SessionManager)(nil)

// NewSessionManager 创建会话管理器。打开文件夹之前不会建立连接。
func NewSessionManager(options *Options) *SessionManager {
	opts := *options
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SessionManager{
		options: opts,
		logger:  logger.WithField("address", opts.Address),
		folders: make(map[string]*Folder),
	}
}

// EnsureOpenFolder 实现 xfer.FolderSessionManager 接口。
//
// 连接仍可用的已打开文件夹会被复用。否则拨号新连接、认证并选中文件夹。
// 错误以 *xfer.FolderError 返回。
func (m *SessionManager) EnsureOpenFolder(ctx context.Context, name string) (xfer.Folder, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil, &xfer.FolderError{Name: name, Err: errors.New("session manager closed")}
	}

	if f, ok := m.folders[name]; ok {
		if f.client.State() == imap.ConnStateSelected {
			return f, nil
		}
		m.logger.WithField("folder", name).Info("Connection lost, reopening folder")
		f.client.Close()
		delete(m.folders, name)
	}

	f, err := m.open(ctx, name)
	if err != nil {
		return nil, &xfer.FolderError{Name: name, Err: err}
	}
	m.folders[name] = f
	return f, nil
}

func (m *SessionManager) open(ctx context.Context, name string) (*Folder, error) {
	logger := m.logger.WithField("folder", name)

	client, err := m.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	if err := m.authenticate(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	data, err := client.Select(name, nil).Wait()
	if err != nil {
		client.Logout().Wait()
		client.Close()
		return nil, fmt.Errorf("select: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"messages":    data.NumMessages,
		"uidValidity": data.UIDValidity,
	}).Debug("Opened folder")

	return &Folder{name: name, client: client, logger: logger}, nil
}

func (m *SessionManager) dial(ctx context.Context) (*imapclient.Client, error) {
	if m.options.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.options.DialTimeout)
		defer cancel()
	}

	clientOptions := &imapclient.Options{
		TLSConfig:   m.tlsConfig(),
		DebugWriter: m.options.DebugWriter,
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}

	dialer := &net.Dialer{}
	switch m.options.Security {
	case SecurityTLS:
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: clientOptions.TLSConfig}
		conn, err := tlsDialer.DialContext(ctx, "tcp", m.options.Address)
		if err != nil {
			return nil, err
		}
		return imapclient.New(conn, clientOptions), nil
	case SecurityStartTLS:
		conn, err := dialer.DialContext(ctx, "tcp", m.options.Address)
		if err != nil {
			return nil, err
		}
		return imapclient.NewStartTLS(conn, clientOptions)
	case SecurityNone:
		conn, err := dialer.DialContext(ctx, "tcp", m.options.Address)
		if err != nil {
			return nil, err
		}
		return imapclient.New(conn, clientOptions), nil
	default:
		return nil, fmt.Errorf("unknown security %v", m.options.Security)
	}
}

func (m *SessionManager) tlsConfig() *tls.Config {
	if m.options.TLSConfig != nil {
		return m.options.TLSConfig.Clone()
	}
	host, _, err := net.SplitHostPort(m.options.Address)
	if err != nil {
		host = m.options.Address
	}
	return &tls.Config{ServerName: host}
}

func (m *SessionManager) authenticate(client *imapclient.Client) error {
	switch strings.ToLower(m.options.Mechanism) {
	case "", MechanismLogin:
		return client.Login(m.options.Username, m.options.Password).Wait()
	case MechanismPlain:
		return client.Authenticate(sasl.NewPlainClient("", m.options.Username, m.options.Password))
	case MechanismOAuthBearer:
		return client.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: m.options.Username,
			Token:    m.options.Token,
		}))
	default:
		return fmt.Errorf("unsupported mechanism %q", m.options.Mechanism)
	}
}

// Close 关闭所有打开的文件夹。设置了 ExpungeOnClose 时先删除带 \Deleted
// 标志的邮件。
func (m *SessionManager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for name, f := range m.folders {
		if m.options.ExpungeOnClose {
			if err := f.client.Expunge().Close(); err != nil {
				errs = append(errs, fmt.Errorf("xferimap: expunge %q: %w", name, err))
			}
		}
		if err := f.client.Logout().Wait(); err != nil {
			m.logger.WithError(err).WithField("folder", name).Debug("Logout failed")
		}
		// 服务器在 LOGOUT 后断开连接，这里的错误是预期的
		f.client.Close()
		delete(m.folders, name)
	}
	return errors.Join(errs...)
}
