package codectest

import (
	"math"
	"sort"

	"github.com/gowvp/smartcut/internal/core/codec"
)

// VideoStream 视频流参数
func VideoStream(index int, tb codec.Rational, dur int64) codec.StreamParams {
	return codec.StreamParams{
		Index:         index,
		Kind:          codec.KindVideo,
		Codec:         "h264",
		TimeBase:      tb,
		Width:         64,
		Height:        48,
		FrameDuration: dur,
		Extradata:     []byte("avc1"),
		Default:       true,
	}
}

// AudioStream 音频流参数
func AudioStream(index int, tb codec.Rational, dur int64) codec.StreamParams {
	return codec.StreamParams{
		Index:         index,
		Kind:          codec.KindAudio,
		Codec:         "aac",
		TimeBase:      tb,
		SampleRate:    int(tb.Den),
		Channels:      2,
		FrameDuration: dur,
		Extradata:     []byte("mp4a"),
		Default:       true,
	}
}

// VideoPackets 按显示顺序的帧类型串生成视频包，返回解码顺序
// 例如 "IBBPBBP"，B 帧排在其后第一个锚点帧之后解码
// 包数据为 {类型, 显示序号}
func VideoPackets(stream int, pattern string, dur int64) []codec.Packet {
	order := make([]int, 0, len(pattern))
	var bs []int
	delay, run := 0, 0
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == 'B' {
			bs = append(bs, i)
			run++
			delay = max(delay, run)
			continue
		}
		run = 0
		order = append(order, i)
		order = append(order, bs...)
		bs = bs[:0]
	}
	order = append(order, bs...)

	out := make([]codec.Packet, 0, len(order))
	for k, idx := range order {
		out = append(out, codec.Packet{
			Stream:   stream,
			Data:     []byte{pattern[idx], byte(idx)},
			PTS:      int64(idx) * dur,
			DTS:      int64(k-delay) * dur,
			Duration: dur,
			Keyframe: pattern[idx] == 'I',
		})
	}
	return out
}

// GOPPattern 生成 n 帧的帧类型串，每 gop 帧一个 I 帧
// layout 描述 GOP 内的帧类型，长度不足时用 P 补齐
func GOPPattern(n, gop int, layout string) string {
	b := make([]byte, n)
	for i := range b {
		j := i % gop
		switch {
		case j == 0:
			b[i] = 'I'
		case j < len(layout):
			b[i] = layout[j]
		default:
			b[i] = 'P'
		}
	}
	return string(b)
}

// AudioPackets 生成 n 个等长音频包，起始 PTS 为 start
func AudioPackets(stream, n int, start, dur int64) []codec.Packet {
	out := make([]codec.Packet, 0, n)
	for i := 0; i < n; i++ {
		pts := start + int64(i)*dur
		out = append(out, codec.Packet{
			Stream:   stream,
			Data:     []byte{'A', byte(i)},
			PTS:      pts,
			DTS:      pts,
			Duration: dur,
			Keyframe: true,
		})
	}
	return out
}

// Interleave 按 DTS 对应的秒数合并多路包，模拟文件中的交织顺序
func Interleave(streams []codec.StreamParams, lists ...[]codec.Packet) []codec.Packet {
	var all []codec.Packet
	for _, l := range lists {
		all = append(all, l...)
	}
	at := func(p codec.Packet) float64 {
		if p.Stream < len(streams) {
			return streams[p.Stream].TimeBase.Seconds(p.DTS)
		}
		return math.Inf(1)
	}
	sort.SliceStable(all, func(i, j int) bool { return at(all[i]) < at(all[j]) })
	return all
}
