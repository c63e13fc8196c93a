package main

import (
	"fmt"
	"io"

	"github.com/bradenaw/juniper/xslices"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"

	"github.com/luhaoyun888/go-imap-xfer"
	"github.com/luhaoyun888/go-imap-xfer/config"
	"github.com/luhaoyun888/go-imap-xfer/interceptor"
	"github.com/luhaoyun888/go-imap-xfer/mailrecord"
	"github.com/luhaoyun888/go-imap-xfer/xferimap"
)

func run(c *cli.Context) (err error) {
	// 同一时间只能运行一个 profile
	if c.Bool("profile-cpu") {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(c.String("profile-path"))).Stop()
	} else if c.Bool("profile-mem") {
		defer profile.Start(profile.MemProfile, profile.MemProfileAllocs, profile.ProfilePath(c.String("profile-path"))).Stop()
	}

	cfg, err := config.Load(c.StringSlice("env-file")...)
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetOutput(c.App.ErrWriter)
	logger.SetLevel(cfg.LogLevel)
	if s := c.String("log-level"); s != "" {
		level, err := logrus.ParseLevel(s)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	}

	interceptors, cleanup, err := newInterceptors(cfg, logger, c.String("metrics-file"))
	if err != nil {
		return err
	}
	defer func() {
		if cleanupErr := cleanup(); err == nil {
			err = cleanupErr
		}
	}()

	sessions := xferimap.NewSessionManager(cfg.SessionOptions(logger))
	defer func() {
		if closeErr := sessions.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("Failed to close IMAP sessions")
		}
	}()

	connector := xfer.NewConnector(sessions, &xfer.ConnectorOptions{
		Capability:   cfg.Capability(),
		Defaults:     cfg.Defaults(),
		Interceptors: interceptors,
		Logger:       logger,
	})

	req, err := buildRequest(c, connector.NewRequest())
	if err != nil {
		return err
	}

	res, err := connector.Execute(c.Context, req)
	if err != nil {
		return err
	}
	printResult(c.App.Writer, res)
	return nil
}

// buildRequest 设置命令行中给出的所有条件。
//
// --eml、--message-id 和 --message-number 互斥：同时给出多种（例如 --eml
// 和 --message-id）时请求无效，Execute 以 *xfer.ValidationError 拒绝，
// 而不是按优先级选择其中一种。
func buildRequest(c *cli.Context, b *xfer.RequestBuilder) (*xfer.Request, error) {
	if s := c.String("src"); s != "" {
		b.Source(s)
	}
	if s := c.String("dest"); s != "" {
		b.Destination(s)
	}
	if s := c.String("mode"); s != "" {
		b.Mode(s)
	}

	if paths := c.StringSlice("eml"); len(paths) > 0 {
		records := make([]*mailrecord.Record, 0, len(paths))
		for _, path := range paths {
			record, err := mailrecord.ParseFile(path)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
		b.MailRecords(mailrecord.Records(records...)...)
	}
	if ids := c.StringSlice("message-id"); len(ids) > 0 {
		b.MessageIDs(ids...)
	}
	if nums := c.UintSlice("message-number"); len(nums) > 0 {
		b.MessageNumbers(xslices.Map(nums, func(n uint) uint32 { return uint32(n) })...)
	}
	return b.Build(), nil
}

// newInterceptors 构建 Recovery、Logging、Metrics、RateLimit 和 Audit 拦截器链，
// 后两个只在配置后添加。
func newInterceptors(cfg *config.Config, logger logrus.FieldLogger, metricsFile string) ([]xfer.Interceptor, func() error, error) {
	reg := prometheus.NewRegistry()
	metrics, err := interceptor.NewMetrics(reg)
	if err != nil {
		return nil, nil, err
	}

	interceptors := []xfer.Interceptor{
		interceptor.Recovery(logger),
		interceptor.Logging(logger),
		metrics.Interceptor(),
	}
	if cfg.Rate.Limit > 0 {
		interceptors = append(interceptors, interceptor.RateLimit(rate.NewLimiter(rate.Limit(cfg.Rate.Limit), cfg.Rate.Burst)))
	}

	var auditLog *interceptor.AuditLog
	if cfg.Audit.Driver != "" {
		auditLog, err = interceptor.OpenAuditLog(cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			return nil, nil, err
		}
		interceptors = append(interceptors, interceptor.Audit(auditLog, logger))
	}

	cleanup := func() error {
		if auditLog != nil {
			if err := auditLog.Close(); err != nil {
				return err
			}
		}
		if metricsFile != "" {
			return prometheus.WriteToTextfile(metricsFile, reg)
		}
		return nil
	}
	return interceptors, cleanup, nil
}

func printResult(w io.Writer, res *xfer.Result) {
	for _, msg := range res.Messages {
		fmt.Fprintf(w, "%v\t%v\t%v\n", msg.Folder, msg.UID, msg.MessageID)
	}
	fmt.Fprintf(w, "%v %v message(s) from %v to %v (%v)\n", res.Mode, res.Resolved, res.Source, res.Destination, res.Capability)
}
