package smartcut

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/internal/core/media"
)

var (
	// ErrInvalidCut 剪辑区间不满足 0 <= in <= out < 帧数
	ErrInvalidCut = errors.New("invalid cut range")
	// ErrEmptyTimeline 没有可合成的剪辑
	ErrEmptyTimeline = errors.New("timeline is empty")
	// ErrIncompatibleSource 视频编码与第一段不一致，无法拼接
	ErrIncompatibleSource = errors.New("incompatible source")
)

// Segment 时间线上的一段，只引用源文件不持有
type Segment struct {
	Source *media.Source
	In     int
	Out    int
}

// Plan 一段剪辑的重封装/转码边界
type Plan struct {
	SourceID string `json:"source_id"`
	CutIn    int    `json:"cut_in"`
	CutOut   int    `json:"cut_out"`
	// [RemuxStart, RemuxEnd] 直接复制，RemuxStart > RemuxEnd 表示全部转码
	RemuxStart int `json:"remux_start"`
	RemuxEnd   int `json:"remux_end"`
	// UnusedDTS 关键帧之前仅用于解码的 B 帧占用的 DTS，单位为源视频时间基
	UnusedDTS     int64               `json:"unused_dts"`
	SmallCutFixed bool                `json:"small_cut_fixed"`
	Encoder       codec.EncoderParams `json:"encoder"`
}

// HeadTranscode 剪辑起点不在关键帧上，需要转码 [CutIn, RemuxStart-1]
func (p Plan) HeadTranscode() bool { return p.CutIn < p.RemuxStart }

// TailTranscode 剪辑终点之后的帧被引用，需要转码 [RemuxEnd+1, CutOut]
func (p Plan) TailTranscode() bool { return p.CutOut > p.RemuxEnd }

// Remuxed 直接复制的帧数
func (p Plan) Remuxed() int { return max(p.RemuxEnd-p.RemuxStart+1, 0) }

// Transcoded 需要转码的帧数
func (p Plan) Transcoded() int { return p.CutOut - p.CutIn + 1 - p.Remuxed() }

// Validate 检查剪辑区间
func (s Segment) Validate() error {
	if s.Source == nil {
		return fmt.Errorf("%w: nil source", ErrInvalidCut)
	}
	if n := s.Source.FrameCount(); s.In < 0 || s.In > s.Out || s.Out >= n {
		return fmt.Errorf("%w: [%d,%d] of %d frames", ErrInvalidCut, s.In, s.Out, n)
	}
	return nil
}

// PlanSegment 计算一段剪辑的重封装区间与转码参数
// bitrate 为 0 时按源文件平均码率估算
func PlanSegment(seg Segment, bitrate int64) (Plan, error) {
	if err := seg.Validate(); err != nil {
		return Plan{}, err
	}
	src := seg.Source
	v := src.VideoIndex()
	p := Plan{
		SourceID: src.ID,
		CutIn:    seg.In,
		CutOut:   seg.Out,
	}

	p.RemuxStart = v.KeyframeAtOrAfter(seg.In)
	p.RemuxEnd = v.AnchorAtOrBefore(seg.Out)
	if p.RemuxStart < 0 || p.RemuxStart > seg.Out {
		p.RemuxStart = seg.Out + 1
		p.RemuxEnd = seg.Out
		p.SmallCutFixed = true
		slog.Info("fixed small cut", "source", src.ID, "in", seg.In, "out", seg.Out)
	}

	if p.RemuxStart <= p.RemuxEnd {
		start := v.Records[p.RemuxStart]
		for j := p.RemuxStart - 1; j >= 0; j-- {
			r := v.Records[j]
			if r.IsAnchor() || r.DTS <= start.DTS {
				break
			}
			p.UnusedDTS += r.Duration
		}
	}

	vp := src.VideoParams()
	p.Encoder = codec.EncoderParams{
		Codec:         vp.Codec,
		Width:         vp.Width,
		Height:        vp.Height,
		TimeBase:      v.TimeBase,
		FrameDuration: v.FrameDuration(),
		BitRate:       bitrate,
		GOPSize:       v.GOPSize,
		MaxBFrames:    v.MaxBFrames,
		KeyintMin:     v.GOPSize,
	}
	if p.Encoder.BitRate <= 0 {
		p.Encoder.BitRate = averageBitrate(v)
	}
	return p, nil
}

// averageBitrate 文件中视频包覆盖的字节跨度 / 帧数 / 帧时长
func averageBitrate(v *media.StreamIndex) int64 {
	if v.Len() == 0 {
		return 0
	}
	lo, hi := v.Records[0].Pos, v.Records[0].Pos
	for _, r := range v.Records {
		lo = min(lo, r.Pos)
		hi = max(hi, r.Pos)
	}
	sec := v.TimeBase.Seconds(v.FrameDuration())
	if sec <= 0 {
		return 0
	}
	return int64(float64(hi-lo) * 8 / float64(v.Len()) / sec)
}

// PlanTimeline 逐段计算
func PlanTimeline(segments []Segment, bitrate int64) ([]Plan, error) {
	if len(segments) == 0 {
		return nil, ErrEmptyTimeline
	}
	plans := make([]Plan, 0, len(segments))
	for i, seg := range segments {
		p, err := PlanSegment(seg, bitrate)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}
