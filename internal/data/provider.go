package data

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/wire"
	"github.com/gowvp/smartcut/internal/conf"
	"github.com/gowvp/smartcut/internal/core/smartcut"
	"github.com/gowvp/smartcut/internal/core/smartcut/store/smartcutdb"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/system"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ProviderSet 数据库连接与工程存储
var ProviderSet = wire.NewSet(SetupDB, NewSmartcutStore)

// dialect 按 dsn 前缀区分的数据库类型
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
	dialectMySQL
)

// parseDSN postgres:// 与 postgresql:// 原样交给 pgx
// mysql:// 去掉前缀后是 go-sql-driver 的 dsn，其余视为 sqlite 文件
func parseDSN(dsn string) (dialect, string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return dialectPostgres, dsn
	case strings.HasPrefix(dsn, "mysql://"):
		return dialectMySQL, strings.TrimPrefix(dsn, "mysql://")
	}
	if filepath.IsAbs(dsn) {
		return dialectSQLite, dsn
	}
	return dialectSQLite, filepath.Join(system.Getwd(), dsn)
}

func dialector(kind dialect, dsn string) gorm.Dialector {
	switch kind {
	case dialectPostgres:
		return postgres.New(postgres.Config{DriverName: "pgx", DSN: dsn})
	case dialectMySQL:
		return mysql.Open(dsn)
	default:
		return sqlite.Open(dsn)
	}
}

// SetupDB 打开工程库
// sqlite 单连接，避免并发写入 database is locked
func SetupDB(c *conf.Bootstrap) (*gorm.DB, error) {
	cfg := c.Data.Database
	kind, dsn := parseDSN(cfg.Dsn)
	if kind == dialectSQLite {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		cfg.MaxIdleConns, cfg.MaxOpenConns = 1, 1
	}
	return orm.New(dialector(kind, dsn), orm.Config{
		MaxIdleConns:    int(cfg.MaxIdleConns),
		MaxOpenConns:    int(cfg.MaxOpenConns),
		ConnMaxLifetime: cfg.ConnMaxLifetime.Duration(),
		SlowThreshold:   cfg.SlowThreshold.Duration(),
	})
}

// NewSmartcutStore 工程与合成记录表，按环境变量决定是否自动迁移
func NewSmartcutStore(db *gorm.DB) smartcut.Storer {
	return smartcutdb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate())
}
