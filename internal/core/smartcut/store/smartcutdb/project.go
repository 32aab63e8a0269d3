package smartcutdb

import (
	"context"
	"fmt"

	"github.com/gowvp/smartcut/internal/core/smartcut"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

var _ smartcut.ProjectStorer = Project{}

// Project Related business namespaces
type Project DB

// NewProject instance object
func NewProject(db *gorm.DB) Project {
	return Project{db: db}
}

// Find implements smartcut.ProjectStorer.
func (d Project) Find(ctx context.Context, bs *[]*smartcut.Project, page orm.Pager, opts ...orm.QueryOption) (int64, error) {
	db := apply(d.db.WithContext(ctx).Model(new(smartcut.Project)), opts).Session(&gorm.Session{})
	var total int64
	if err := db.Count(&total).Error; err != nil || total <= 0 {
		return total, err
	}
	return total, db.Limit(page.Limit()).Offset(page.Offset()).Find(bs).Error
}

// Get implements smartcut.ProjectStorer.
func (d Project) Get(ctx context.Context, model *smartcut.Project, opts ...orm.QueryOption) error {
	return apply(d.db.WithContext(ctx), opts).First(model).Error
}

// Add implements smartcut.ProjectStorer.
func (d Project) Add(ctx context.Context, model *smartcut.Project) error {
	return d.db.WithContext(ctx).Create(model).Error
}

// Edit 在事务中加锁读取后修改，避免并发编辑时丢失更新
func (d Project) Edit(ctx context.Context, model *smartcut.Project, changeFn func(*smartcut.Project), opts ...orm.QueryOption) error {
	if len(opts) == 0 {
		return fmt.Errorf("edit project without condition")
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := apply(tx, opts).First(model).Error; err != nil {
			return err
		}
		changeFn(model)
		return tx.Save(model).Error
	})
}

// Del implements smartcut.ProjectStorer.
func (d Project) Del(ctx context.Context, model *smartcut.Project, opts ...orm.QueryOption) error {
	if len(opts) == 0 {
		return fmt.Errorf("delete project without condition")
	}
	return apply(d.db.WithContext(ctx), opts).Delete(model).Error
}

// Session 在同一个事务中执行
func (d Project) Session(ctx context.Context, changeFns ...func(*gorm.DB) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, fn := range changeFns {
			if err := fn(tx); err != nil {
				return err
			}
		}
		return nil
	})
}
