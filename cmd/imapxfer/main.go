// Command imapxfer 在 IMAP 服务器的文件夹之间复制或移动邮件。
//
// 连接和传输默认值从 .env 文件和环境变量读取，参见 config 包。
// 邮件可以按 Message-Id、邮件编号或 .eml 文件的 Message-Id 选择：
//
//	imapxfer --dest Archive --mode move --message-id 191101702316132@example.com
//	imapxfer --src INBOX --dest Archive --message-number 1 --message-number 2
//	imapxfer --dest Archive --eml exported.eml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "imapxfer"
	app.Usage = "Copy or move messages between IMAP folders"
	app.Flags = []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "env-file",
			Usage: "`.env` file to read the configuration from (default: .env if present)",
		},
		&cli.StringFlag{
			Name:  "src",
			Usage: "Source folder (default: MAIL_COPY_SRC_FOLDER, then MAIL_POLL_FOLDER)",
		},
		&cli.StringFlag{
			Name:  "dest",
			Usage: "Destination folder (default: MAIL_COPY_DEST_FOLDER)",
		},
		&cli.StringFlag{
			Name:  "mode",
			Usage: "copy or move (default: MAIL_COPY_MODE, then copy)",
		},
		&cli.StringSliceFlag{
			Name:  "message-id",
			Usage: "Message-Id of a message to transfer, may be repeated",
		},
		&cli.UintSliceFlag{
			Name:  "message-number",
			Usage: "Sequence number of a message to transfer, may be repeated",
		},
		&cli.StringSliceFlag{
			Name:  "eml",
			Usage: "RFC 5322 `file` whose Message-Id selects a message, may be repeated",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level (default: MAIL_LOG_LEVEL, then info)",
		},
		&cli.StringFlag{
			Name:  "metrics-file",
			Usage: "Write Prometheus metrics to `file` in the text exposition format",
		},
		&cli.BoolFlag{
			Name:  "profile-cpu",
			Usage: "Enable CPU profiling",
		},
		&cli.BoolFlag{
			Name:  "profile-mem",
			Usage: "Enable memory profiling",
		},
		&cli.StringFlag{
			Name:  "profile-path",
			Usage: "Path where to write profile data",
		},
	}
	app.Action = run
	return app
}
