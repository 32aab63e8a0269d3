package smartcut

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/internal/core/media"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/jinzhu/copier"
	"gorm.io/gorm"
)

// ProjectStorer Instantiation interface
type ProjectStorer interface {
	Find(context.Context, *[]*Project, orm.Pager, ...orm.QueryOption) (int64, error)
	Get(context.Context, *Project, ...orm.QueryOption) error
	Add(context.Context, *Project) error
	Edit(context.Context, *Project, func(*Project), ...orm.QueryOption) error
	Del(context.Context, *Project, ...orm.QueryOption) error

	Session(context.Context, ...func(*gorm.DB) error) error
}

// OutputStorer Instantiation interface
type OutputStorer interface {
	Find(context.Context, *[]*Output, orm.Pager, ...orm.QueryOption) (int64, error)
	Get(context.Context, *Output, ...orm.QueryOption) error
	Add(context.Context, *Output) error
	Del(context.Context, *Output, ...orm.QueryOption) error
}

// FindProjects 分页查询工程
func (c Core) FindProjects(ctx context.Context, in *FindProjectInput) ([]*Project, int64, error) {
	query := orm.NewQuery(2).OrderBy("created_at DESC")
	if in.Name != "" {
		query.Where("name LIKE ?", "%"+in.Name+"%")
	}
	if in.Status != "" {
		query.Where("status = ?", in.Status)
	}
	items := make([]*Project, 0, in.Limit())
	total, err := c.store.Project().Find(ctx, &items, in, query.Encode()...)
	if err != nil {
		return nil, 0, reason.ErrDB.Withf(`Find in[%+v] err[%s]`, in, err.Error())
	}
	return items, total, nil
}

// GetProject Query a single object
func (c Core) GetProject(ctx context.Context, id string) (*Project, error) {
	var out Project
	if err := c.store.Project().Get(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Get id[%v] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Get id[%v] err[%s]`, id, err.Error())
	}
	return &out, nil
}

// AddProject 新建工程
func (c Core) AddProject(ctx context.Context, in *AddProjectInput) (*Project, error) {
	var out Project
	if err := copier.Copy(&out, in); err != nil {
		slog.ErrorContext(ctx, "Copy", "err", err)
	}
	out.ID = uuid.NewString()
	out.Status = StatusEditing
	out.Sources = []SourceRef{}
	out.Cuts = []Cut{}
	out.CreatedAt = orm.Now()
	out.UpdatedAt = orm.Now()
	if err := c.store.Project().Add(ctx, &out); err != nil {
		return nil, reason.ErrDB.Withf(`Add err[%s]`, err.Error())
	}
	return &out, nil
}

// DelProject 删除工程与合成记录，合成文件一并删除
func (c Core) DelProject(ctx context.Context, id string) (*Project, error) {
	if s, ok := c.sessions.Load(id); ok {
		if !s.TryCompose() {
			return nil, reason.ErrBadRequest.SetMsg("工程正在合成中")
		}
		s.Close()
		c.sessions.Delete(id)
	}

	var outputs []*Output
	if _, err := c.store.Output().Find(ctx, &outputs, &defaultPager{limit: 10000}, orm.Where("project_id=?", id)); err != nil {
		return nil, reason.ErrDB.Withf(`Find outputs project[%v] err[%s]`, id, err.Error())
	}
	for _, o := range outputs {
		if err := os.Remove(o.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.WarnContext(ctx, "删除合成文件失败", "path", o.Path, "err", err)
		}
	}

	var out Project
	err := c.store.Project().Session(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("project_id=?", id).Delete(&Output{}).Error; err != nil {
			return err
		}
		return tx.Where("id=?", id).Delete(&out).Error
	})
	if err != nil {
		return nil, reason.ErrDB.Withf(`Del id[%v] err[%s]`, id, err.Error())
	}
	out.ID = id
	return &out, nil
}

// session 返回工程的编辑会话，首次访问时重新打开工程保存的源文件
func (c Core) session(ctx context.Context, id string) (*Session, error) {
	if s, ok := c.sessions.Load(id); ok {
		return s, nil
	}
	p, err := c.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	s := NewSession(id, c.conf.MaxSources, c.conf.MaxCuts)
	for _, ref := range p.Sources {
		src, err := media.Open(ctx, c.engine, ref.ID, ref.Path)
		if err != nil {
			slog.WarnContext(ctx, "重新打开源文件失败", "project", id, "source", ref.ID, "path", ref.Path, "err", err)
			continue
		}
		if err := s.AddSource(src); err != nil {
			_ = src.Close()
			slog.WarnContext(ctx, "add source", "project", id, "err", err)
		}
	}
	s.SetCuts(p.Cuts)

	actual, loaded := c.sessions.LoadOrStore(id, s)
	if loaded {
		s.Close()
	}
	return actual, nil
}

// AddSource 打开源文件并建立索引
func (c Core) AddSource(ctx context.Context, id string, in *AddSourceInput) (*SourceOutput, error) {
	if in.Path == "" {
		return nil, reason.ErrBadRequest.SetMsg("path 不能为空")
	}
	s, err := c.session(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.conf.MaxSources > 0 && len(s.Sources()) >= c.conf.MaxSources {
		return nil, reason.ErrBadRequest.SetMsg(fmt.Sprintf("单个工程最多 %d 个源文件", c.conf.MaxSources))
	}

	start := time.Now()
	src, err := media.Open(ctx, c.engine, uuid.NewString(), in.Path)
	if err != nil {
		return nil, reason.ErrBadRequest.SetMsg("打开源文件失败: " + err.Error())
	}
	slog.InfoContext(ctx, "源文件索引完成", "project", id, "source", src.ID, "path", in.Path,
		"frames", src.FrameCount(), "cost", time.Since(start).String())

	if err := s.AddSource(src); err != nil {
		_ = src.Close()
		return nil, reason.ErrBadRequest.SetMsg(err.Error())
	}

	var p Project
	if err := c.store.Project().Edit(ctx, &p, func(b *Project) {
		b.Sources = append(b.Sources, SourceRef{ID: src.ID, Path: src.Path})
		b.UpdatedAt = orm.Now()
	}, orm.Where("id=?", id)); err != nil {
		return nil, reason.ErrDB.Withf(`Edit id[%v] err[%s]`, id, err.Error())
	}
	out := newSourceOutput(src)
	return &out, nil
}

// FindSources 工程已打开的源文件
func (c Core) FindSources(ctx context.Context, id string) ([]SourceOutput, error) {
	s, err := c.session(ctx, id)
	if err != nil {
		return nil, err
	}
	srcs := s.Sources()
	out := make([]SourceOutput, 0, len(srcs))
	for _, src := range srcs {
		out = append(out, newSourceOutput(src))
	}
	return out, nil
}

func (c Core) source(ctx context.Context, id, sid string) (*media.Source, error) {
	s, err := c.session(ctx, id)
	if err != nil {
		return nil, err
	}
	src, ok := s.Source(sid)
	if !ok {
		return nil, reason.ErrNotFound.Withf(`source[%s] not found in project[%s]`, sid, id)
	}
	return src, nil
}

// GetSourceIndex 源文件索引的统计信息与诊断
func (c Core) GetSourceIndex(ctx context.Context, id, sid string) (*IndexOutput, error) {
	src, err := c.source(ctx, id, sid)
	if err != nil {
		return nil, err
	}
	out := IndexOutput{SourceID: sid, Streams: make([]media.Summary, 0, len(src.Indexes))}
	for _, idx := range src.Indexes {
		out.Streams = append(out.Streams, idx.Summarize())
	}
	return &out, nil
}

// ExtractFrame 解码源文件第 index 帧用于预览
func (c Core) ExtractFrame(ctx context.Context, id, sid string, index int) (*codec.Frame, error) {
	src, err := c.source(ctx, id, sid)
	if err != nil {
		return nil, err
	}
	f, err := src.Extract(ctx, index)
	if err != nil {
		if errors.Is(err, media.ErrFrameRange) {
			return nil, reason.ErrBadRequest.SetMsg(err.Error())
		}
		return nil, reason.ErrServer.SetMsg("解码失败: " + err.Error())
	}
	return f, nil
}

// AddCut 在时间线末尾追加一段
func (c Core) AddCut(ctx context.Context, id string, in *AddCutInput) (*Project, error) {
	s, err := c.session(ctx, id)
	if err != nil {
		return nil, err
	}
	var cut Cut
	if err := copier.Copy(&cut, in); err != nil {
		slog.ErrorContext(ctx, "Copy", "err", err)
	}
	if err := s.AddCut(cut); err != nil {
		return nil, reason.ErrBadRequest.SetMsg(err.Error())
	}
	return c.saveCuts(ctx, id, s)
}

// DelCut 删除时间线上第 pos 段
func (c Core) DelCut(ctx context.Context, id string, pos int) (*Project, error) {
	s, err := c.session(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.DelCut(pos); err != nil {
		return nil, reason.ErrBadRequest.SetMsg(err.Error())
	}
	return c.saveCuts(ctx, id, s)
}

func (c Core) saveCuts(ctx context.Context, id string, s *Session) (*Project, error) {
	var out Project
	cuts := s.Cuts()
	if err := c.store.Project().Edit(ctx, &out, func(b *Project) {
		b.Cuts = cuts
		b.UpdatedAt = orm.Now()
	}, orm.Where("id=?", id)); err != nil {
		return nil, reason.ErrDB.Withf(`Edit id[%v] err[%s]`, id, err.Error())
	}
	return &out, nil
}

// PlanProject 计算时间线上每段的重封装与转码区间
func (c Core) PlanProject(ctx context.Context, id string) ([]Plan, error) {
	s, err := c.session(ctx, id)
	if err != nil {
		return nil, err
	}
	segments, err := s.Segments()
	if err != nil {
		return nil, reason.ErrBadRequest.SetMsg(err.Error())
	}
	plans, err := PlanTimeline(segments, c.conf.Bitrate)
	if err != nil {
		return nil, reason.ErrBadRequest.SetMsg(err.Error())
	}
	return plans, nil
}

// ComposeProject 合成工程时间线，onProgress 可为 nil
func (c Core) ComposeProject(ctx context.Context, id string, in *ComposeInput, onProgress func(ComposeEvent)) (*Output, error) {
	s, err := c.session(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.TryCompose() {
		return nil, reason.ErrBadRequest.SetMsg(ErrComposing.Error())
	}
	defer s.DoneCompose()

	segments, err := s.Segments()
	if err != nil {
		return nil, reason.ErrBadRequest.SetMsg(err.Error())
	}

	dir := c.OutputDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, reason.ErrServer.SetMsg("创建输出目录失败: " + err.Error())
	}
	if err := c.checkFreeSpace(dir); err != nil {
		return nil, reason.ErrBadRequest.SetMsg(err.Error())
	}

	bitrate := in.Bitrate
	if bitrate <= 0 {
		bitrate = c.conf.Bitrate
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.mp4", id, time.Now().Format("20060102150405")))
	c.setStatus(ctx, id, StatusComposing, "")

	progress := NewProgressReporter(100*time.Millisecond, func(current, total int64) {
		if onProgress == nil || total <= 0 {
			return
		}
		onProgress(ComposeEvent{Current: current, Total: total, Percent: float64(current) * 100 / float64(total)})
	})
	start := time.Now()
	report, err := Compose(ctx, c.engine, segments, path, ComposeOptions{
		Bitrate:    bitrate,
		OnProgress: progress.Update,
	})
	progress.Close()
	if err != nil {
		slog.ErrorContext(ctx, "合成失败", "project", id, "err", err)
		c.setStatus(ctx, id, StatusFailed, err.Error())
		return nil, reason.ErrServer.SetMsg("合成失败: " + err.Error())
	}
	slog.InfoContext(ctx, "合成完成", "project", id, "path", path,
		"frames", report.Frames, "transcoded", report.Transcoded, "remuxed", report.Remuxed,
		"dts_fixes", report.DTSFixes, "cost", time.Since(start).String())

	out := Output{
		ProjectID:  id,
		Path:       path,
		Duration:   report.Duration.Seconds(),
		Frames:     report.Frames,
		Transcoded: report.Transcoded,
		Remuxed:    report.Remuxed,
		CreatedAt:  orm.Now(),
	}
	if fi, err := os.Stat(path); err == nil {
		out.Size = fi.Size()
	}
	if err := c.store.Output().Add(ctx, &out); err != nil {
		return nil, reason.ErrDB.Withf(`Add output err[%s]`, err.Error())
	}
	c.setStatus(ctx, id, StatusDone, "")
	return &out, nil
}

// setStatus 请求断开后仍需落库，不继承 ctx 的取消
func (c Core) setStatus(ctx context.Context, id, status, msg string) {
	ctx = context.WithoutCancel(ctx)
	var p Project
	if err := c.store.Project().Edit(ctx, &p, func(b *Project) {
		b.Status = status
		b.Error = msg
		b.UpdatedAt = orm.Now()
	}, orm.Where("id=?", id)); err != nil {
		slog.WarnContext(ctx, "更新工程状态失败", "project", id, "status", status, "err", err)
	}
}

// FindOutputs 工程的合成记录，最新的在前
func (c Core) FindOutputs(ctx context.Context, id string) ([]*Output, error) {
	items := make([]*Output, 0, 8)
	_, err := c.store.Output().Find(ctx, &items, &defaultPager{limit: 1000},
		orm.Where("project_id=?", id), orm.OrderBy("created_at DESC"))
	if err != nil {
		return nil, reason.ErrDB.Withf(`Find outputs project[%v] err[%s]`, id, err.Error())
	}
	return items, nil
}

// GetOutput 单个合成记录
func (c Core) GetOutput(ctx context.Context, id string, oid int64) (*Output, error) {
	var out Output
	if err := c.store.Output().Get(ctx, &out, orm.Where("id=? AND project_id=?", oid, id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Get output[%v] err[%s]`, oid, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Get output[%v] err[%s]`, oid, err.Error())
	}
	return &out, nil
}

// defaultPager 内部使用的分页器，避免传入 nil 导致空指针
type defaultPager struct {
	limit int
}

func (p *defaultPager) Offset() int { return 0 }
func (p *defaultPager) Limit() int  { return p.limit }
