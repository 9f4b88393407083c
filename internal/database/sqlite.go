package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/sshcollectorpro/ciscofetch/internal/config"
	"github.com/sshcollectorpro/ciscofetch/internal/model"
	"github.com/sshcollectorpro/ciscofetch/pkg/logger"
)

// ErrRunNotFound 指定运行不存在
var ErrRunNotFound = errors.New("run not found")

// DB 运行历史存储
type DB struct {
	db *gorm.DB
}

// OpenSQLite 打开（必要时创建）SQLite 数据库并迁移表结构
func OpenSQLite(cfg config.SQLiteConfig) (*DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path not configured")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: gormLogger.New(
			logger.GetLogger(),
			gormLogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormLogger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
		// SQLite 默认对每次写操作开启事务，容易放大锁争用
		SkipDefaultTransaction: true,
	}

	// 使用 modernc.org/sqlite 纯 Go 驱动
	dsn := cfg.Path + "?_pragma=busy_timeout(15000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
	}, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// 单连接，确保 PRAGMA 生效并避免锁争用
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&model.RunRecord{}, &model.DeviceRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	logger.WithField("path", cfg.Path).Debug("SQLite database initialized")
	return &DB{db: db}, nil
}

// SaveRun 在一个事务中写入运行记录与设备记录
func (d *DB) SaveRun(run *model.RunRecord) error {
	return d.withRetry(func(tx *gorm.DB) error {
		return tx.Transaction(func(tx *gorm.DB) error {
			return tx.Create(run).Error
		})
	}, 5, 50*time.Millisecond)
}

// ListRuns 按开始时间倒序返回最近的运行，不含设备明细
func (d *DB) ListRuns(limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []model.RunRecord
	if err := d.db.Order("start_time desc").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun 返回一次运行及其设备明细
func (d *DB) GetRun(id string) (*model.RunRecord, error) {
	var run model.RunRecord
	err := d.db.Preload("DeviceRecords", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("id asc")
	}).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// DeviceHistory 返回某台设备最近的记录
func (d *DB) DeviceHistory(host string, limit int) ([]model.DeviceRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []model.DeviceRecord
	if err := d.db.Where("host = ?", host).Order("id desc").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to query device history: %w", err)
	}
	return recs, nil
}

// IsBusyError 判断是否为 SQLite 并发锁相关错误
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "cannot start a transaction within a transaction")
}

// withRetry 检测到并发锁错误时短暂退避重试
func (d *DB) withRetry(fn func(*gorm.DB) error, attempts int, sleep time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn(d.db)
		if err == nil || !IsBusyError(err) {
			return err
		}
		time.Sleep(sleep)
		if sleep < 500*time.Millisecond {
			sleep *= 2
		}
	}
	return err
}

// Health 检查数据库连接
func (d *DB) Health() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
