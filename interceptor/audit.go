package interceptor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/luhaoyun888/go-imap-xfer"
)

// 支持的审计数据库驱动。
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var auditSchema = map[string]string{
	DriverPostgres: `CREATE TABLE IF NOT EXISTS xfer_audit (
	id BIGSERIAL PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	source TEXT NOT NULL,
	destination TEXT NOT NULL,
	mode TEXT NOT NULL,
	capability TEXT NOT NULL,
	resolved INTEGER NOT NULL,
	transferred INTEGER NOT NULL,
	stage TEXT NOT NULL,
	error TEXT NOT NULL
)`,
	DriverSQLite: `CREATE TABLE IF NOT EXISTS xfer_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TIMESTAMP NOT NULL,
	source TEXT NOT NULL,
	destination TEXT NOT NULL,
	mode TEXT NOT NULL,
	capability TEXT NOT NULL,
	resolved INTEGER NOT NULL,
	transferred INTEGER NOT NULL,
	stage TEXT NOT NULL,
	error TEXT NOT NULL
)`,
}

// AuditEntry 是审计日志中的一行。
type AuditEntry struct {
	ID          int64
	CreatedAt   time.Time
	Source      string
	Destination string
	Mode        string
	Capability  string
	Resolved    int
	Transferred int
	// 传输成功时 Stage 为空
	Stage string
	Error string
}

// AuditLog 在 SQL 数据库中为每次传输保存一条记录。
type AuditLog struct {
	db *sql.DB
}

// OpenAuditLog 打开数据库，必要时创建审计表。
func OpenAuditLog(driver, dsn string) (*AuditLog, error) {
	if _, ok := auditSchema[driver]; !ok {
		return nil, fmt.Errorf("interceptor: unsupported audit driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("interceptor: failed to open audit database: %w", err)
	}
	if driver == DriverSQLite {
		// 每个到 ":memory:" 的连接都是独立的数据库
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("interceptor: failed to connect to audit database: %w", err)
	}

	log, err := NewAuditLog(db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return log, nil
}

// NewAuditLog 使用已有的数据库句柄，必要时创建审计表。
func NewAuditLog(db *sql.DB, driver string) (*AuditLog, error) {
	schema, ok := auditSchema[driver]
	if !ok {
		return nil, fmt.Errorf("interceptor: unsupported audit driver %q", driver)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("interceptor: failed to create audit table: %w", err)
	}
	return &AuditLog{db: db}, nil
}

// Record 追加一条记录，并填充 ID 和 CreatedAt。
func (l *AuditLog) Record(ctx context.Context, entry *AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	row := l.db.QueryRowContext(ctx, `INSERT INTO xfer_audit
	(created_at, source, destination, mode, capability, resolved, transferred, stage, error)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		entry.CreatedAt, entry.Source, entry.Destination, entry.Mode, entry.Capability,
		entry.Resolved, entry.Transferred, entry.Stage, entry.Error)
	if err := row.Scan(&entry.ID); err != nil {
		return fmt.Errorf("interceptor: failed to write audit entry: %w", err)
	}
	return nil
}

// Entries 返回所有记录，最早的在前。
func (l *AuditLog) Entries(ctx context.Context) ([]AuditEntry, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT
	id, created_at, source, destination, mode, capability, resolved, transferred, stage, error
	FROM xfer_audit ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("interceptor: failed to read audit log: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Source, &e.Destination, &e.Mode, &e.Capability,
			&e.Resolved, &e.Transferred, &e.Stage, &e.Error); err != nil {
			return nil, fmt.Errorf("interceptor: failed to read audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close 关闭数据库。
func (l *AuditLog) Close() error {
	return l.db.Close()
}

// Audit 将每次传输（包括失败的传输）记录到 log 中。写入失败只报告给
// logger，不改变传输结果。logger 可以为 nil。
func Audit(log *AuditLog, logger logrus.FieldLogger) xfer.Interceptor {
	return func(next xfer.Handler) xfer.Handler {
		return func(ctx context.Context, inv *xfer.Invocation) (*xfer.Result, error) {
			res, err := next(ctx, inv)

			entry := &AuditEntry{
				Source:      inv.Request.Source(),
				Destination: inv.Request.Destination(),
				Mode:        inv.Request.ModeName(),
				Capability:  inv.Capability.String(),
				Resolved:    len(inv.Messages),
			}
			if err != nil {
				entry.Stage = xfer.StageOf(err).String()
				entry.Error = err.Error()
			} else {
				entry.Transferred = len(res.Messages)
			}

			// 即使传输被取消也写入记录
			if recordErr := log.Record(context.WithoutCancel(ctx), entry); recordErr != nil && logger != nil {
				logger.WithError(recordErr).Error("Failed to write audit entry")
			}
			return res, err
		}
	}
}
