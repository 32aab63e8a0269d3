package smartcut

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gowvp/smartcut/internal/core/media"
	"github.com/ixugo/goddd/pkg/conc"
)

var (
	// ErrTooManySources 超出单个工程的源文件数量上限
	ErrTooManySources = errors.New("too many sources")
	// ErrTooManyCuts 超出单个工程的剪辑段数上限
	ErrTooManyCuts = errors.New("too many cuts")
	// ErrSourceNotFound 剪辑引用了未打开的源文件
	ErrSourceNotFound = errors.New("source not found")
	// ErrComposing 同一工程同时只能有一个合成任务
	ErrComposing = errors.New("project is composing")
)

// Session 编辑会话，持有已打开的源文件与时间线
// 时间线的插入顺序即输出顺序，同一源文件可以出现在多段中
type Session struct {
	ProjectID string

	maxSources int
	maxCuts    int

	sources conc.Map[string, *media.Source]
	count   atomic.Int32

	mu   sync.RWMutex
	cuts []Cut

	composing atomic.Bool
}

// NewSession 创建会话，上限为 0 表示不限制
func NewSession(projectID string, maxSources, maxCuts int) *Session {
	return &Session{ProjectID: projectID, maxSources: maxSources, maxCuts: maxCuts}
}

// AddSource 加入已打开的源文件
// 相同 id 只保留先存入的一个，后到的被关闭
func (s *Session) AddSource(src *media.Source) error {
	if actual, ok := s.sources.Load(src.ID); ok {
		s.dropDuplicate(actual, src)
		return nil
	}
	if n := s.count.Add(1); s.maxSources > 0 && int(n) > s.maxSources {
		s.count.Add(-1)
		return fmt.Errorf("%w: limit %d", ErrTooManySources, s.maxSources)
	}
	if actual, loaded := s.sources.LoadOrStore(src.ID, src); loaded {
		s.count.Add(-1)
		s.dropDuplicate(actual, src)
	}
	return nil
}

func (s *Session) dropDuplicate(kept, src *media.Source) {
	if kept != src {
		_ = src.Close()
	}
}

// Source 按 id 查找源文件
func (s *Session) Source(id string) (*media.Source, bool) {
	return s.sources.Load(id)
}

// Sources 已打开的源文件
func (s *Session) Sources() []*media.Source {
	out := make([]*media.Source, 0, s.count.Load())
	s.sources.Range(func(_ string, src *media.Source) bool {
		out = append(out, src)
		return true
	})
	slices.SortFunc(out, func(a, b *media.Source) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return out
}

// SetCuts 整体替换时间线，用于从存储恢复
func (s *Session) SetCuts(cuts []Cut) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cuts = slices.Clone(cuts)
}

// Cuts 时间线快照
func (s *Session) Cuts() []Cut {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.cuts)
}

// AddCut 在时间线末尾追加一段
func (s *Session) AddCut(cut Cut) error {
	src, ok := s.Source(cut.SourceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, cut.SourceID)
	}
	if err := (Segment{Source: src, In: cut.In, Out: cut.Out}).Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxCuts > 0 && len(s.cuts) >= s.maxCuts {
		return fmt.Errorf("%w: limit %d", ErrTooManyCuts, s.maxCuts)
	}
	s.cuts = append(s.cuts, cut)
	return nil
}

// DelCut 删除时间线上第 pos 段
func (s *Session) DelCut(pos int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos < 0 || pos >= len(s.cuts) {
		return fmt.Errorf("%w: position %d of %d", ErrInvalidCut, pos, len(s.cuts))
	}
	s.cuts = slices.Delete(s.cuts, pos, pos+1)
	return nil
}

// Segments 将时间线解析为引用已打开源文件的片段
func (s *Session) Segments() ([]Segment, error) {
	cuts := s.Cuts()
	if len(cuts) == 0 {
		return nil, ErrEmptyTimeline
	}
	out := make([]Segment, 0, len(cuts))
	for i, c := range cuts {
		src, ok := s.Source(c.SourceID)
		if !ok {
			return nil, fmt.Errorf("cut %d: %w: %s", i, ErrSourceNotFound, c.SourceID)
		}
		out = append(out, Segment{Source: src, In: c.In, Out: c.Out})
	}
	return out, nil
}

// TryCompose 标记开始合成，已在合成时返回 false
func (s *Session) TryCompose() bool {
	return s.composing.CompareAndSwap(false, true)
}

// DoneCompose 合成结束
func (s *Session) DoneCompose() {
	s.composing.Store(false)
}

// Close 关闭所有源文件
func (s *Session) Close() {
	s.sources.Range(func(id string, src *media.Source) bool {
		if err := src.Close(); err != nil {
			slog.Warn("close source", "project", s.ProjectID, "source", id, "err", err)
		}
		s.sources.Delete(id)
		return true
	})
	s.count.Store(0)
}
