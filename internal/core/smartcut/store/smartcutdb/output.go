package smartcutdb

import (
	"context"
	"fmt"

	"github.com/gowvp/smartcut/internal/core/smartcut"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

var _ smartcut.OutputStorer = Output{}

// Output Related business namespaces
type Output DB

// NewOutput instance object
func NewOutput(db *gorm.DB) Output {
	return Output{db: db}
}

// Find implements smartcut.OutputStorer.
func (d Output) Find(ctx context.Context, bs *[]*smartcut.Output, page orm.Pager, opts ...orm.QueryOption) (int64, error) {
	db := apply(d.db.WithContext(ctx).Model(new(smartcut.Output)), opts).Session(&gorm.Session{})
	var total int64
	if err := db.Count(&total).Error; err != nil || total <= 0 {
		return total, err
	}
	return total, db.Limit(page.Limit()).Offset(page.Offset()).Find(bs).Error
}

// Get implements smartcut.OutputStorer.
func (d Output) Get(ctx context.Context, model *smartcut.Output, opts ...orm.QueryOption) error {
	return apply(d.db.WithContext(ctx), opts).First(model).Error
}

// Add implements smartcut.OutputStorer.
func (d Output) Add(ctx context.Context, model *smartcut.Output) error {
	return d.db.WithContext(ctx).Create(model).Error
}

// Del implements smartcut.OutputStorer.
func (d Output) Del(ctx context.Context, model *smartcut.Output, opts ...orm.QueryOption) error {
	if len(opts) == 0 {
		return fmt.Errorf("delete output without condition")
	}
	return apply(d.db.WithContext(ctx), opts).Delete(model).Error
}
