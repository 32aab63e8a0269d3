package smartcut

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ixugo/goddd/pkg/conc"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/shirou/gopsutil/v4/disk"
	"gorm.io/gorm"
)

// tempFileTTL 转码临时文件超过该时长视为遗留文件
const tempFileTTL = 6 * time.Hour

// StartCleanupWorker 启动定时清理协程
// 启动时执行一次，随后每 60 分钟执行一次，ctx 结束后退出
func (c Core) StartCleanupWorker(ctx context.Context) {
	slog.Info("smartcut cleanup worker started",
		"retain_days", c.conf.RetainDays,
		"disk_threshold", c.conf.DiskUsageThreshold,
		"output_dir", c.OutputDir(),
	)
	conc.Timer(ctx, time.Second, 60*time.Minute, func() {
		c.runCleanup(ctx)
	})
}

func (c Core) runCleanup(ctx context.Context) {
	c.cleanupExpiredOutputs(ctx)
	c.cleanupByDiskUsage(ctx)
	c.cleanupTempFiles(time.Now())
}

// cleanupExpiredOutputs 清理超过保留天数的合成文件
func (c Core) cleanupExpiredOutputs(ctx context.Context) {
	if c.conf.RetainDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -c.conf.RetainDays)
	deleted, failed, freed := c.batchDeleteOutputs(ctx, 0,
		orm.Where("created_at < ?", orm.Time{Time: cutoff}),
	)
	if deleted > 0 || failed > 0 {
		slog.Info("expired output cleanup completed",
			"retain_days", c.conf.RetainDays,
			"cutoff_time", cutoff.Format(time.DateTime),
			"outputs_deleted", deleted,
			"failed_files", failed,
			"freed_bytes", freed,
		)
	}
}

// cleanupByDiskUsage 磁盘使用率超过阈值时，按时间从旧到新删除合成文件
func (c Core) cleanupByDiskUsage(ctx context.Context) {
	if c.conf.DiskUsageThreshold <= 0 || c.conf.DiskUsageThreshold >= 100 {
		return
	}
	dir := c.OutputDir()
	if _, err := os.Stat(dir); err != nil {
		return
	}

	var deleted, failed int
	var freed int64
	for {
		usage, err := disk.UsageWithContext(ctx, dir)
		if err != nil {
			slog.Warn("failed to get disk usage", "err", err)
			return
		}
		if usage.UsedPercent < c.conf.DiskUsageThreshold {
			break
		}
		d, f, b := c.batchDeleteOutputs(ctx, 20, orm.OrderBy("created_at ASC"))
		if d == 0 {
			break
		}
		deleted += d
		failed += f
		freed += b
	}
	if deleted > 0 || failed > 0 {
		slog.Info("disk usage cleanup completed",
			"threshold", c.conf.DiskUsageThreshold,
			"outputs_deleted", deleted,
			"failed_files", failed,
			"freed_bytes", freed,
		)
	}
}

// batchDeleteOutputs 删除合成文件与记录，limit 为 0 时删除全部满足条件的记录
func (c Core) batchDeleteOutputs(ctx context.Context, limit int, conditions ...orm.QueryOption) (deleted, failed int, freed int64) {
	const batchSize = 100
	for {
		size := batchSize
		if limit > 0 {
			size = min(batchSize, limit-deleted)
			if size <= 0 {
				return
			}
		}
		var outputs []*Output
		if _, err := c.store.Output().Find(ctx, &outputs, &defaultPager{limit: size}, conditions...); err != nil || len(outputs) == 0 {
			return
		}

		ids := make([]int64, 0, len(outputs))
		for _, o := range outputs {
			if err := os.Remove(o.Path); err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					failed++
				}
			} else {
				freed += o.Size
			}
			ids = append(ids, o.ID)
		}
		err := c.store.Project().Session(ctx, func(tx *gorm.DB) error {
			return tx.Where("id IN ?", ids).Delete(&Output{}).Error
		})
		if err != nil {
			slog.Warn("删除合成记录失败", "err", err)
			return
		}
		deleted += len(ids)
	}
}

// cleanupTempFiles 删除转码遗留的临时文件
func (c Core) cleanupTempFiles(now time.Time) int {
	dir := c.TempDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var removed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) < tempFileTTL {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		slog.Info("temp file cleanup completed", "dir", dir, "removed", removed)
	}
	return removed
}

// checkFreeSpace 合成前检查输出目录所在磁盘的剩余空间
func (c Core) checkFreeSpace(dir string) error {
	if c.conf.MinFreeMB == 0 {
		return nil
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		slog.Warn("failed to get disk usage", "dir", dir, "err", err)
		return nil
	}
	if free := usage.Free / 1024 / 1024; free < c.conf.MinFreeMB {
		return fmt.Errorf("磁盘剩余空间不足 %dMB，当前 %dMB", c.conf.MinFreeMB, free)
	}
	return nil
}
