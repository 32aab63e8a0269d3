package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gowvp/smartcut/internal/core/codec"
)

// Source 已打开并建好索引的源文件
// 解封装器只有一个读游标，预览与合成通过 Lock 串行使用
type Source struct {
	ID      string
	Path    string
	Size    int64
	Streams []codec.StreamParams
	Indexes []*StreamIndex
	// Video 用于剪辑判断的视频流下标
	Video int

	engine codec.Engine
	demux  codec.Demuxer
	mu     sync.Mutex
}

// Open 打开源文件并建立索引
func Open(ctx context.Context, engine codec.Engine, id, path string) (*Source, error) {
	demux, err := engine.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	indexes, video, err := Build(ctx, engine, demux)
	if err != nil {
		_ = demux.Close()
		return nil, fmt.Errorf("index %s: %w", path, err)
	}
	s := Source{
		ID:      id,
		Path:    path,
		Size:    demux.Size(),
		Streams: demux.Streams(),
		Indexes: indexes,
		Video:   video,
		engine:  engine,
		demux:   demux,
	}
	for _, st := range s.Streams {
		idx := s.Indexes[st.Index]
		switch st.Kind {
		case codec.KindVideo:
			slog.InfoContext(ctx, "视频流", "path", path, "stream", st.Index, "codec", st.Codec,
				"size", fmt.Sprintf("%dx%d", st.Width, st.Height), "time_base", st.TimeBase.String(),
				"frames", idx.Len(), "gop", idx.GOPSize, "max_bframes", idx.MaxBFrames)
		case codec.KindAudio:
			slog.InfoContext(ctx, "音频流", "path", path, "stream", st.Index, "codec", st.Codec,
				"sample_rate", st.SampleRate, "channels", st.Channels, "time_base", st.TimeBase.String(),
				"packets", idx.Len())
		default:
			slog.InfoContext(ctx, "其它流", "path", path, "stream", st.Index, "kind", st.Kind.String(), "packets", idx.Len())
		}
	}
	return &s, nil
}

// Lock 独占读游标
func (s *Source) Lock() { s.mu.Lock() }

// Unlock 释放读游标
func (s *Source) Unlock() { s.mu.Unlock() }

// Demuxer 调用方需持有锁
func (s *Source) Demuxer() codec.Demuxer { return s.demux }

// Engine 打开该文件的编解码引擎
func (s *Source) Engine() codec.Engine { return s.engine }

// VideoIndex 视频流索引
func (s *Source) VideoIndex() *StreamIndex { return s.Indexes[s.Video] }

// VideoParams 视频流参数
func (s *Source) VideoParams() codec.StreamParams { return s.Streams[s.Video] }

// FrameCount 视频帧数
func (s *Source) FrameCount() int { return s.VideoIndex().Len() }

// Close 关闭源文件
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.demux == nil {
		return nil
	}
	err := s.demux.Close()
	s.demux = nil
	return err
}

// MaxAudioDuration 所有非视频流中最长的包时长，换算到视频时间基
func (s *Source) MaxAudioDuration() int64 {
	vtb := s.VideoIndex().TimeBase
	var out int64
	for i, idx := range s.Indexes {
		if i == s.Video {
			continue
		}
		out = max(out, codec.Rescale(idx.MaxDuration, idx.TimeBase, vtb))
	}
	return out
}

// OffsetBefore 返回读取 pts（视频时间基）处所有流数据时可以安全起读的字节位置
// 视频从匹配帧回退到前一个关键帧，其它流取各自第一个不早于 pts 的包
func (s *Source) OffsetBefore(pts int64) int64 {
	v := s.VideoIndex()
	if v.Len() == 0 {
		return 0
	}
	i := v.PacketAtOrAfter(pts)
	if i < 0 {
		i = v.Len() - 1
	}
	result := v.Records[i].Pos
	for j := i; j >= 0; j-- {
		result = min(result, v.Records[j].Pos)
		if v.Records[j].Keyframe {
			break
		}
	}

	for k, idx := range s.Indexes {
		if k == s.Video {
			continue
		}
		j := idx.PacketAtOrAfter(codec.Rescale(pts, v.TimeBase, idx.TimeBase))
		if j < 0 {
			continue
		}
		result = min(result, idx.Records[j].Pos)
	}
	return result
}

// OffsetAfter 返回读完 pts（视频时间基）处所有流数据后可以停止的字节位置
// 由于包不是按 PTS 存放，视频取其后第二个关键帧的位置，超出末尾返回文件大小
func (s *Source) OffsetAfter(pts int64) int64 {
	v := s.VideoIndex()
	i := v.PacketAtOrAfter(pts)
	if i < 0 {
		return s.Size
	}
	found := false
	for ; i < v.Len(); i++ {
		if v.Records[i].Keyframe {
			if found {
				break
			}
			found = true
		}
	}
	if i >= v.Len() {
		return s.Size
	}
	result := v.Records[i].Pos

	for k, idx := range s.Indexes {
		if k == s.Video {
			continue
		}
		j := idx.PacketAtOrAfter(codec.Rescale(pts, v.TimeBase, idx.TimeBase))
		if j < 0 {
			continue
		}
		result = max(result, idx.Records[j].Pos)
	}
	return result
}
