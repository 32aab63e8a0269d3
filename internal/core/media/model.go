package media

import (
	"github.com/gowvp/smartcut/internal/core/codec"
)

// PacketRecord 单个包的元数据
type PacketRecord struct {
	Pos      int64             `json:"pos"`
	PTS      int64             `json:"pts"`
	DTS      int64             `json:"dts"`
	Duration int64             `json:"duration"`
	Keyframe bool              `json:"keyframe"`
	Corrupt  bool              `json:"corrupt"`
	Picture  codec.PictureType `json:"picture"`
}

// IsAnchor 关键帧或 P 帧
// 帧类型未知的关键帧按 I 帧处理
func (r PacketRecord) IsAnchor() bool {
	return r.Keyframe || r.Picture == codec.PictureI || r.Picture == codec.PictureP
}

// DiagnosticKind 索引过程中记录的异常类型
type DiagnosticKind string

const (
	DiagnosticCorruptPacket DiagnosticKind = "corrupt_packet"
	DiagnosticPTSGap        DiagnosticKind = "pts_gap"
)

// Diagnostic 不会中断扫描的异常
type Diagnostic struct {
	Kind   DiagnosticKind `json:"kind"`
	Stream int            `json:"stream"`
	// Index 记录在流内（按 PTS 排序）的下标
	Index int   `json:"index"`
	PTS   int64 `json:"pts"`
	// Expected 仅 pts_gap 有效，期望的 PTS
	Expected int64 `json:"expected,omitempty"`
}

// StreamIndex 一路流的包索引，记录按 PTS 升序
type StreamIndex struct {
	Stream   int             `json:"stream"`
	Kind     codec.MediaKind `json:"kind"`
	TimeBase codec.Rational  `json:"time_base"`
	Records  []PacketRecord  `json:"-"`

	MaxBFrames    int   `json:"max_bframes"`
	GOPSize       int   `json:"gop_size"`
	MaxPTSDTSDiff int64 `json:"max_pts_dts_difference"`
	ReorderLength int   `json:"reorder_length"`
	// MaxDuration 最长的包时长
	MaxDuration int64 `json:"max_duration"`

	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Len 记录数量
func (s *StreamIndex) Len() int {
	return len(s.Records)
}

// FrameDuration 帧时长，取第一个有时长的记录
func (s *StreamIndex) FrameDuration() int64 {
	for _, r := range s.Records {
		if r.Duration > 0 {
			return r.Duration
		}
	}
	return 1
}

// Summary 索引概要，用于展示
type Summary struct {
	Stream        int            `json:"stream"`
	Kind          string         `json:"kind"`
	TimeBase      codec.Rational `json:"time_base"`
	Packets       int            `json:"packets"`
	Keyframes     int            `json:"keyframes"`
	MaxBFrames    int            `json:"max_bframes"`
	GOPSize       int            `json:"gop_size"`
	MaxPTSDTSDiff int64          `json:"max_pts_dts_difference"`
	ReorderLength int            `json:"reorder_length"`
	MaxDuration   int64          `json:"max_duration"`
	Diagnostics   []Diagnostic   `json:"diagnostics"`
}

// Summarize 汇总索引
func (s *StreamIndex) Summarize() Summary {
	var keys int
	for _, r := range s.Records {
		if r.Keyframe {
			keys++
		}
	}
	return Summary{
		Stream:        s.Stream,
		Kind:          s.Kind.String(),
		TimeBase:      s.TimeBase,
		Packets:       len(s.Records),
		Keyframes:     keys,
		MaxBFrames:    s.MaxBFrames,
		GOPSize:       s.GOPSize,
		MaxPTSDTSDiff: s.MaxPTSDTSDiff,
		ReorderLength: s.ReorderLength,
		MaxDuration:   s.MaxDuration,
		Diagnostics:   s.Diagnostics,
	}
}
