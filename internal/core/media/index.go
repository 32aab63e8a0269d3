package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/gowvp/smartcut/internal/core/codec"
)

// probeReorderDepth 建索引时探测解码器的重排序深度，此时还不知道 B 帧数量
const probeReorderDepth = 16

// Build 顺序扫描一遍源文件，为每路流建立按 PTS 排序的包索引
// 返回索引与用于剪辑判断的视频流下标
//
// 解封装器实现了 codec.PictureParser 时直接取帧类型，否则在同一遍扫描中
// 把视频包送入探测解码器，根据输出帧的 PTS 回填帧类型
func Build(ctx context.Context, engine codec.Engine, demux codec.Demuxer) ([]*StreamIndex, int, error) {
	streams := demux.Streams()
	video := -1
	indexes := make([]*StreamIndex, len(streams))
	for i, s := range streams {
		indexes[i] = &StreamIndex{Stream: i, Kind: s.Kind, TimeBase: s.TimeBase}
		if video < 0 && s.Kind == codec.KindVideo {
			video = i
		}
	}
	if video < 0 {
		return nil, -1, ErrNoVideoStream
	}

	if err := demux.SeekByte(0, 0, demux.Size()); err != nil {
		return nil, -1, fmt.Errorf("rewind: %w", err)
	}

	parser, _ := demux.(codec.PictureParser)
	var probe codec.Decoder
	if parser == nil {
		dec, err := engine.NewDecoder(ctx, streams[video], codec.DecoderOptions{
			ReorderDepth: probeReorderDepth,
			SkipPixels:   true,
		})
		if err != nil {
			return nil, -1, fmt.Errorf("probe decoder: %w", err)
		}
		defer dec.Close()
		probe = dec
	}

	vi := indexes[video]
	lastPos := make([]int64, len(streams))
	for i := range lastPos {
		lastPos[i] = -1
	}
	var (
		started bool
		origin  int64
	)
	for {
		pkt, err := demux.ReadPacket(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, -1, ctx.Err()
			}
			return nil, -1, fmt.Errorf("%w: %w", ErrDemux, err)
		}
		if pkt.Stream < 0 || pkt.Stream >= len(indexes) {
			continue
		}
		idx := indexes[pkt.Stream]

		rec := PacketRecord{
			Pos:      pkt.Pos,
			PTS:      pkt.PTS,
			DTS:      pkt.DTS,
			Duration: pkt.Duration,
			Keyframe: pkt.Keyframe,
			Corrupt:  pkt.Corrupt,
		}
		if pkt.Stream == video {
			// 第一个关键帧之前的包全部丢弃，之后 PTS 早于它的包也丢弃
			if !started {
				if !pkt.Keyframe {
					continue
				}
				started = true
				origin = pkt.PTS
			}
			if pkt.PTS < origin {
				continue
			}
			if parser != nil {
				rec.Picture = parser.ParsePicture(pkt)
			}
		}
		// 没有字节位置的包沿用本路流上一个包的位置
		if rec.Pos < 0 {
			rec.Pos = max(lastPos[pkt.Stream], 0)
		}
		lastPos[pkt.Stream] = rec.Pos

		if pkt.Stream == video {
			vi.insertVideo(rec)
		} else {
			idx.insert(rec)
		}

		if rec.Corrupt {
			slog.WarnContext(ctx, "found corrupt packet", "stream", pkt.Stream, "pts", pkt.PTS)
		}

		if probe != nil && pkt.Stream == video {
			if err := probe.SendPacket(ctx, pkt); err != nil {
				return nil, -1, fmt.Errorf("probe decode: %w", err)
			}
			if err := drainProbe(ctx, probe, vi); err != nil {
				return nil, -1, err
			}
		}
	}

	if probe != nil {
		if err := probe.Flush(ctx); err != nil {
			return nil, -1, fmt.Errorf("probe flush: %w", err)
		}
		if err := drainProbe(ctx, probe, vi); err != nil {
			return nil, -1, err
		}
	}

	for i, idx := range indexes {
		idx.collectCorrupt()
		switch {
		case i == video:
			idx.computeVideoStats()
		case idx.Kind == codec.KindAudio:
			idx.scanGaps()
		default:
			idx.computeMaxDuration()
		}
		for _, d := range idx.Diagnostics {
			if d.Kind == DiagnosticPTSGap {
				slog.WarnContext(ctx, "found pts gap", "stream", d.Stream, "expected", d.Expected, "pts", d.PTS)
			}
		}
	}
	return indexes, video, nil
}

// drainProbe 取空探测解码器并回填帧类型
func drainProbe(ctx context.Context, dec codec.Decoder, vi *StreamIndex) error {
	for {
		f, err := dec.ReceiveFrame(ctx)
		if errors.Is(err, codec.ErrNeedMoreInput) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("probe receive: %w", err)
		}
		i := vi.PacketAtOrAfter(f.PTS)
		if i >= 0 && vi.Records[i].PTS == f.PTS && vi.Records[i].Picture == codec.PictureUnknown {
			vi.Records[i].Picture = f.Picture
		}
	}
}

// insertVideo 按 PTS 有序插入，同时统计越过的非锚点帧数量
// 解码顺序与显示顺序相差越大，需要越过的 B 帧越多
func (s *StreamIndex) insertVideo(rec PacketRecord) {
	s.Records = append(s.Records, rec)
	i := len(s.Records) - 1
	bframes := 1
	for i > 0 && s.Records[i-1].PTS > rec.PTS {
		if !s.Records[i-1].IsAnchor() {
			bframes++
		}
		s.Records[i] = s.Records[i-1]
		i--
	}
	s.Records[i] = rec
	if !rec.IsAnchor() && rec.Picture != codec.PictureUnknown && bframes > s.ReorderLength {
		s.ReorderLength = bframes
	}
}

// insert 非视频流，大多数情况下等价于追加
func (s *StreamIndex) insert(rec PacketRecord) {
	s.Records = append(s.Records, rec)
	i := len(s.Records) - 1
	for i > 0 && s.Records[i-1].PTS > rec.PTS {
		s.Records[i] = s.Records[i-1]
		i--
	}
	s.Records[i] = rec
}

func (s *StreamIndex) collectCorrupt() {
	for i, r := range s.Records {
		if r.Corrupt {
			s.Diagnostics = append(s.Diagnostics, Diagnostic{
				Kind:   DiagnosticCorruptPacket,
				Stream: s.Stream,
				Index:  i,
				PTS:    r.PTS,
			})
		}
	}
}

// computeVideoStats 第二遍扫描，统计最大连续 B 帧数、GOP 长度与 PTS/DTS 最大差值
// PTS 不连续时重置计数并记录，不中断扫描
func (s *StreamIndex) computeVideoStats() {
	s.MaxBFrames, s.GOPSize, s.MaxPTSDTSDiff = 0, 0, 0
	if len(s.Records) == 0 {
		return
	}
	var bframes, gop int
	next := s.Records[0].PTS
	for i, r := range s.Records {
		s.MaxDuration = max(s.MaxDuration, r.Duration)
		s.MaxPTSDTSDiff = max(s.MaxPTSDTSDiff, r.PTS-r.DTS)
		expected := next
		next = r.PTS + r.Duration
		if r.PTS != expected {
			s.addGap(i, expected, r.PTS)
			bframes, gop = 0, 0
			continue
		}

		if r.Picture == codec.PictureB {
			bframes++
		} else {
			s.MaxBFrames = max(s.MaxBFrames, bframes)
			bframes = 0
		}

		gop++
		if r.Picture == codec.PictureI || (r.Keyframe && r.Picture == codec.PictureUnknown) {
			s.GOPSize = max(s.GOPSize, gop)
			gop = 0
		}
	}
	s.MaxBFrames = max(s.MaxBFrames, bframes)
}

// scanGaps 音频流只检查 PTS 是否连续
func (s *StreamIndex) scanGaps() {
	if len(s.Records) == 0 {
		return
	}
	next := s.Records[0].PTS
	for i, r := range s.Records {
		s.MaxDuration = max(s.MaxDuration, r.Duration)
		if r.PTS != next {
			s.addGap(i, next, r.PTS)
		}
		next = r.PTS + r.Duration
	}
}

func (s *StreamIndex) computeMaxDuration() {
	for _, r := range s.Records {
		s.MaxDuration = max(s.MaxDuration, r.Duration)
	}
}

func (s *StreamIndex) addGap(i int, expected, pts int64) {
	s.Diagnostics = append(s.Diagnostics, Diagnostic{
		Kind:     DiagnosticPTSGap,
		Stream:   s.Stream,
		Index:    i,
		PTS:      pts,
		Expected: expected,
	})
}

// PacketAtOrAfter 第一个 PTS 不小于 pts 的记录，超出末尾返回 -1
func (s *StreamIndex) PacketAtOrAfter(pts int64) int {
	i := sort.Search(len(s.Records), func(i int) bool { return s.Records[i].PTS >= pts })
	if i >= len(s.Records) {
		return -1
	}
	return i
}
