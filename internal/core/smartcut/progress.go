package smartcut

import (
	"sync"
	"sync/atomic"
	"time"
)

// ProgressReporter 合成时每写一个包都会更新进度，按固定间隔回调以免刷屏
type ProgressReporter struct {
	Total      atomic.Int64
	Current    atomic.Int64
	OnProgress func(current, total int64)
	interval   time.Duration
	quit       chan struct{}
	once       sync.Once
	done       chan struct{}
}

// NewProgressReporter onProgress 为 nil 时不启动回调协程
func NewProgressReporter(interval time.Duration, onProgress func(current, total int64)) *ProgressReporter {
	p := ProgressReporter{
		OnProgress: onProgress,
		interval:   interval,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if onProgress != nil {
		go p.start()
	} else {
		close(p.done)
	}
	return &p
}

// Update 供 ComposeOptions.OnProgress 使用
func (p *ProgressReporter) Update(current, total int64) {
	p.Current.Store(current)
	p.Total.Store(total)
}

// Close 停止回调，并保证最后一次进度已回调
func (p *ProgressReporter) Close() {
	p.once.Do(func() { close(p.quit) })
	<-p.done
}

func (p *ProgressReporter) start() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.OnProgress(p.Current.Load(), p.Total.Load())
		case <-p.quit:
			p.OnProgress(p.Current.Load(), p.Total.Load())
			return
		}
	}
}
