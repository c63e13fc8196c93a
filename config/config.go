// Package config 从 .env 文件和进程环境变量读取邮件传输配置。
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/luhaoyun888/go-imap-xfer"
	"github.com/luhaoyun888/go-imap-xfer/xferimap"
)

// DefaultEnvFile 是未指定文件时 Load 读取的文件，可以不存在。
const DefaultEnvFile = ".env"

const defaultPort = 993

// IMAPConfig 保存连接设置。
type IMAPConfig struct {
	Host               string            // MAIL_IMAP_HOST
	Port               int               // MAIL_IMAP_PORT，默认 993
	Security           xferimap.Security // MAIL_IMAP_SECURITY
	InsecureSkipVerify bool              // 跳过证书校验

	User      string
	Password  string
	Mechanism string // login、plain 或 oauthbearer
	Token     string // OAuth 2.0 令牌

	ExpungeOnClose bool
}

// CopyConfig 保存传输默认值。
type CopyConfig struct {
	PollFolder string
	Mode       string
	Source     string
	Dest       string
	// 提供商的能力标志，参见 xfer.ClassifyCapability
	SupportUID string
}

// AuditConfig 选择审计数据库。Driver 为空时禁用审计。
type AuditConfig struct {
	Driver string
	DSN    string
}

// RateConfig 限制传输次数。Limit 为零时禁用。
type RateConfig struct {
	Limit float64
	Burst int
}

type Config struct {
	IMAP     IMAPConfig
	Copy     CopyConfig
	Audit    AuditConfig
	Rate     RateConfig
	LogLevel logrus.Level
}

// Load 读取给定的 .env 文件（未指定时读取 DefaultEnvFile）并构建配置。
// 进程环境变量优先于文件，且不会修改进程环境。
//
// 缺失的 DefaultEnvFile 会被忽略，显式指定的文件必须存在。
func Load(files ...string) (*Config, error) {
	values := make(map[string]string)

	explicit := len(files) > 0
	if !explicit {
		files = []string{DefaultEnvFile}
	}
	for _, file := range files {
		m, err := godotenv.Read(file)
		if err != nil {
			if !explicit && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config: failed to read %v: %w", file, err)
		}
		// 与 godotenv.Load 一样，第一个定义某个键的文件生效
		for k, v := range m {
			if _, ok := values[k]; !ok {
				values[k] = v
			}
		}
	}

	return FromLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	})
}

// FromEnv 只从进程环境变量构建配置。
func FromEnv() (*Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup 通过查找函数构建配置。
func FromLookup(lookup func(key string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}

	cfg := &Config{
		IMAP: IMAPConfig{
			Host:               r.get("MAIL_IMAP_HOST", ""),
			Port:               r.getInt("MAIL_IMAP_PORT", defaultPort),
			InsecureSkipVerify: r.getBool("MAIL_IMAP_INSECURE_SKIP_VERIFY"),
			User:               r.get("MAIL_USER", ""),
			Password:           r.get("MAIL_PASSWORD", ""),
			Mechanism:          strings.ToLower(r.get("MAIL_AUTH_MECHANISM", xferimap.MechanismLogin)),
			Token:              r.get("MAIL_OAUTH_TOKEN", ""),
			ExpungeOnClose:     r.getBool("MAIL_EXPUNGE_ON_CLOSE"),
		},
		Copy: CopyConfig{
			PollFolder: r.get("MAIL_POLL_FOLDER", ""),
			Mode:       r.get("MAIL_COPY_MODE", ""),
			Source:     r.get("MAIL_COPY_SRC_FOLDER", ""),
			Dest:       r.get("MAIL_COPY_DEST_FOLDER", ""),
			SupportUID: r.get("MAIL_SUPPORT_UID", ""),
		},
		Audit: AuditConfig{
			Driver: r.get("MAIL_AUDIT_DRIVER", ""),
			DSN:    r.get("MAIL_AUDIT_DSN", ""),
		},
		Rate: RateConfig{
			Limit: r.getFloat("MAIL_RATE_LIMIT", 0),
			Burst: r.getInt("MAIL_RATE_BURST", 1),
		},
		LogLevel: logrus.InfoLevel,
	}

	if s := r.get("MAIL_IMAP_SECURITY", ""); s != "" {
		security, err := xferimap.ParseSecurity(s)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("MAIL_IMAP_SECURITY: %w", err))
		}
		cfg.IMAP.Security = security
	}
	if s := r.get("MAIL_LOG_LEVEL", ""); s != "" {
		level, err := logrus.ParseLevel(s)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("MAIL_LOG_LEVEL: %w", err))
		}
		cfg.LogLevel = level
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults 返回请求默认值。
func (cfg *Config) Defaults() xfer.Defaults {
	return xfer.Defaults{
		Mode:              cfg.Copy.Mode,
		SourceFolder:      cfg.Copy.Source,
		PollFolder:        cfg.Copy.PollFolder,
		DestinationFolder: cfg.Copy.Dest,
	}
}

// Capability 对提供商的能力标志进行分类。
func (cfg *Config) Capability() xfer.Capability {
	return xfer.ClassifyCapability(cfg.Copy.SupportUID)
}

// Address 返回 IMAP 服务器的 "host:port" 地址。
func (cfg *Config) Address() string {
	return net.JoinHostPort(cfg.IMAP.Host, strconv.Itoa(cfg.IMAP.Port))
}

// SessionOptions 返回 xferimap.SessionManager 的选项。
func (cfg *Config) SessionOptions(logger logrus.FieldLogger) *xferimap.Options {
	options := &xferimap.Options{
		Address:        cfg.Address(),
		Security:       cfg.IMAP.Security,
		Username:       cfg.IMAP.User,
		Password:       cfg.IMAP.Password,
		Mechanism:      cfg.IMAP.Mechanism,
		Token:          cfg.IMAP.Token,
		ExpungeOnClose: cfg.IMAP.ExpungeOnClose,
		Logger:         logger,
	}
	if cfg.IMAP.InsecureSkipVerify {
		options.TLSConfig = &tls.Config{
			ServerName:         cfg.IMAP.Host,
			InsecureSkipVerify: true,
		}
	}
	return options
}

type reader struct {
	lookup func(key string) (string, bool)
	errs   []error
}

func (r *reader) get(key, fallback string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (r *reader) getInt(key string, fallback int) int {
	s := r.get(key, "")
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%v: %w", key, err))
		return fallback
	}
	return v
}

func (r *reader) getFloat(key string, fallback float64) float64 {
	s := r.get(key, "")
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%v: %w", key, err))
		return fallback
	}
	return v
}

func (r *reader) getBool(key string) bool {
	s := r.get(key, "")
	if s == "" {
		return false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%v: %w", key, err))
		return false
	}
	return v
}
