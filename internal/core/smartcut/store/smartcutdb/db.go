// Package smartcutdb 剪辑工程的 gorm 存储实现
package smartcutdb

import (
	"github.com/gowvp/smartcut/internal/core/smartcut"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

var _ smartcut.Storer = DB{}

// DB Related business namespaces
type DB struct {
	db *gorm.DB
}

// NewDB instance object
func NewDB(db *gorm.DB) DB {
	return DB{db: db}
}

// Project Get business instance
func (d DB) Project() smartcut.ProjectStorer {
	return Project(d)
}

// Output Get business instance
func (d DB) Output() smartcut.OutputStorer {
	return Output(d)
}

// AutoMigrate sync database
func (d DB) AutoMigrate(ok bool) DB {
	if !ok {
		return d
	}
	if err := d.db.AutoMigrate(
		new(smartcut.Project),
		new(smartcut.Output),
	); err != nil {
		panic(err)
	}
	return d
}

// apply 依次应用查询条件
func apply(db *gorm.DB, opts []orm.QueryOption) *gorm.DB {
	for _, opt := range opts {
		db = opt(db)
	}
	return db
}
