package smartcut

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/internal/core/media"
)

// ComposeOptions 合成参数
type ComposeOptions struct {
	// Bitrate 转码码率，0 表示按源文件估算
	Bitrate int64
	// OnProgress 每写入一个视频包回调一次
	OnProgress func(current, total int64)
}

// Report 合成结果
type Report struct {
	Path       string        `json:"path"`
	Plans      []Plan        `json:"plans"`
	Frames     int           `json:"frames"`
	Transcoded int           `json:"transcoded"`
	Remuxed    int           `json:"remuxed"`
	Packets    int           `json:"packets"`
	DTSFixes   int           `json:"dts_fixes"`
	Duration   time.Duration `json:"duration"`
}

// streamState 输出流的续接状态，时间戳单位为输出流时间基
type streamState struct {
	params  codec.StreamParams
	next    int64
	lastDTS int64
	written bool
}

// encoderState 跨段复用的编码上下文
type encoderState struct {
	params codec.EncoderParams
	enc    codec.Encoder
	dts    int64
	seeded bool
}

type composer struct {
	engine codec.Engine
	mux    codec.Muxer
	opts   ComposeOptions
	states []*streamState
	video  int
	enc    *encoderState
	report *Report
	// delay 输出视频流统一的 PTS-DTS 差值，各段的 DTS 都按它对齐
	delay    int64
	total    int64
	progress int64
}

// Compose 按时间线顺序拼接各段，写入 path
// 失败时删除不完整的输出文件
func Compose(ctx context.Context, engine codec.Engine, segments []Segment, path string, opts ComposeOptions) (*Report, error) {
	plans, err := PlanTimeline(segments, opts.Bitrate)
	if err != nil {
		return nil, err
	}
	c := composer{
		engine: engine,
		opts:   opts,
		report: &Report{Path: path, Plans: plans},
	}
	for _, p := range plans {
		c.total += int64(p.CutOut - p.CutIn + 1)
	}
	if err := c.setup(segments, path); err != nil {
		return nil, err
	}
	c.delay = c.outputDelay(segments, plans)

	err = c.run(ctx, segments, plans)
	if err == nil {
		err = c.finish(ctx)
	}
	if err != nil {
		c.abort(path)
		return nil, err
	}
	if fn := c.opts.OnProgress; fn != nil {
		fn(c.progress, c.total)
	}
	vs := c.states[c.video]
	c.report.Duration = vs.params.TimeBase.Duration(vs.next)
	return c.report, nil
}

// setup 以第一段的源文件建立输出流
func (c *composer) setup(segments []Segment, path string) error {
	first := segments[0].Source
	c.video = first.Video
	c.states = make([]*streamState, len(first.Streams))
	streams := make([]codec.StreamParams, len(first.Streams))
	for i, st := range first.Streams {
		streams[i] = st
		c.states[i] = &streamState{params: st}
	}

	// 最大交织间隔取所有源中最长 GOP 的两倍
	vtb := first.VideoIndex().TimeBase
	var gop int
	for _, seg := range segments {
		gop = max(gop, seg.Source.VideoIndex().GOPSize)
	}
	delta := vtb.Duration(2 * int64(gop) * first.VideoIndex().FrameDuration())

	mux, err := c.engine.NewMuxer(path, streams, codec.MuxerOptions{MaxInterleaveDelta: delta})
	if err != nil {
		return fmt.Errorf("new muxer: %w", err)
	}
	c.mux = mux
	if err := mux.WriteHeader(); err != nil {
		c.abort(path)
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// outputDelay 各段关键帧的 PTS-DTS 差值与转码编码器提前量中的最大值
// 重排序深度不同的源拼接时，DTS 仍不晚于 PTS 且单调递增
func (c *composer) outputDelay(segments []Segment, plans []Plan) int64 {
	outTB := c.states[c.video].params.TimeBase
	var delay int64
	for i, plan := range plans {
		v := segments[i].Source.VideoIndex()
		rescale := func(x int64) int64 { return codec.Rescale(x, v.TimeBase, outTB) }
		if plan.Remuxed() > 0 {
			delay = max(delay, keyframeDelay(v.Records[plan.RemuxStart], rescale))
		}
		if plan.Transcoded() > 0 {
			fd := max(rescale(plan.Encoder.FrameDuration), 1)
			delay = max(delay, encoderDelay(plan.Encoder.MaxBFrames)*fd)
		}
	}
	return delay
}

// keyframeDelay 重封装起点关键帧在输出时间基下的 PTS-DTS 差值
func keyframeDelay(r media.PacketRecord, rescale func(int64) int64) int64 {
	return max(rescale(r.PTS)-rescale(r.DTS), 0)
}

// encoderDelay 编码器第一个包的 DTS 相对第一帧的提前量（帧数）
func encoderDelay(maxBFrames int) int64 {
	switch {
	case maxBFrames <= 0:
		return 0
	case maxBFrames == 1:
		return 1
	default:
		return 2
	}
}

func (c *composer) run(ctx context.Context, segments []Segment, plans []Plan) error {
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.segment(ctx, i, len(segments), seg, plans[i]); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return nil
}

func (c *composer) finish(ctx context.Context) error {
	if err := c.closeEncoder(ctx); err != nil {
		return err
	}
	if err := c.mux.WriteTrailer(); err != nil {
		return fmt.Errorf("write trailer: %w", err)
	}
	if err := c.mux.Close(); err != nil {
		return fmt.Errorf("close muxer: %w", err)
	}
	c.mux = nil
	return nil
}

func (c *composer) abort(path string) {
	if c.enc != nil {
		_ = c.enc.enc.Close()
		c.enc = nil
	}
	if c.mux != nil {
		_ = c.mux.Close()
		c.mux = nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("remove partial output", "path", path, "err", err)
	}
}

// mapStreams 源文件流到输出流的映射，按（类型，同类序号）匹配，无对应输出时为 -1
func (c *composer) mapStreams(src *media.Source) ([]int, error) {
	out := make([]int, len(src.Streams))
	seen := make(map[codec.MediaKind]int)
	for i, st := range src.Streams {
		ord := seen[st.Kind]
		seen[st.Kind]++
		out[i] = -1
		n := 0
		for o, s := range c.states {
			if s.params.Kind != st.Kind {
				continue
			}
			if n == ord {
				out[i] = o
				break
			}
			n++
		}
		if out[i] < 0 {
			continue
		}
		if want := c.states[out[i]].params.Codec; want != st.Codec {
			if i == src.Video {
				return nil, fmt.Errorf("%w: video codec %s, expect %s", ErrIncompatibleSource, st.Codec, want)
			}
			slog.Warn("skip stream with different codec", "source", src.ID, "stream", i, "codec", st.Codec, "expect", want)
			out[i] = -1
		}
	}
	if out[src.Video] != c.video {
		return nil, fmt.Errorf("%w: video stream not matched", ErrIncompatibleSource)
	}
	return out, nil
}

// segment 依次处理头部转码、中间重封装、尾部转码
func (c *composer) segment(ctx context.Context, idx, n int, seg Segment, plan Plan) error {
	src := seg.Source
	src.Lock()
	defer src.Unlock()

	mapping, err := c.mapStreams(src)
	if err != nil {
		return err
	}

	v := src.VideoIndex()
	vs := c.states[c.video]
	inTB, outTB := v.TimeBase, vs.params.TimeBase
	rescale := func(x int64) int64 { return codec.Rescale(x, inTB, outTB) }
	dur := func(r media.PacketRecord) int64 {
		if r.Duration > 0 {
			return r.Duration
		}
		return v.FrameDuration()
	}

	cutIn, cutOut := v.Records[plan.CutIn], v.Records[plan.CutOut]
	segStart := vs.next
	// off 使本段第一帧落在输出的 next 上
	off := rescale(cutIn.PTS) - segStart
	segEnd := rescale(cutOut.PTS+dur(cutOut)) - off

	// shift 把本段关键帧的 PTS-DTS 差值补齐到输出统一的 delay
	var shift int64
	if plan.Remuxed() > 0 {
		shift = c.delay - keyframeDelay(v.Records[plan.RemuxStart], rescale)
	}

	encParams := plan.Encoder
	encParams.TimeBase = outTB
	encParams.FrameDuration = max(rescale(plan.Encoder.FrameDuration), 1)

	slog.InfoContext(ctx, "compose segment", "segment", idx, "source", src.ID,
		"cut_in", plan.CutIn, "cut_out", plan.CutOut,
		"remux_start", plan.RemuxStart, "remux_end", plan.RemuxEnd,
		"unused_dts", plan.UnusedDTS, "small_cut_fixed", plan.SmallCutFixed)

	// 头部转码
	if plan.HeadTranscode() {
		before := int64(math.MaxInt64)
		if plan.Remuxed() > 0 {
			before = rescale(v.Records[plan.RemuxStart].DTS+plan.UnusedDTS) - off - shift
		}
		if err := c.transcode(ctx, src, plan.CutIn, plan.RemuxStart-1, encParams, rescale, off, before); err != nil {
			return fmt.Errorf("transcode head: %w", err)
		}
	}

	// 重封装之前必须把编码器中的包全部写出
	if err := c.closeEncoder(ctx); err != nil {
		return err
	}
	if err := c.remux(ctx, idx, n, src, mapping, plan, off, shift, segStart, segEnd); err != nil {
		return fmt.Errorf("remux: %w", err)
	}

	// 尾部转码
	if plan.TailTranscode() {
		if err := c.transcode(ctx, src, plan.RemuxEnd+1, plan.CutOut, encParams, rescale, off, math.MaxInt64); err != nil {
			return fmt.Errorf("transcode tail: %w", err)
		}
	}

	vs.next = segEnd
	c.report.Frames += plan.CutOut - plan.CutIn + 1
	return nil
}

// transcode 解码 [first,last] 并送入编码器，帧 PTS 换算到输出时间轴
// before 为紧随其后的重封装关键帧的输出 DTS，没有时传 math.MaxInt64
func (c *composer) transcode(ctx context.Context, src *media.Source, first, last int, params codec.EncoderParams, rescale func(int64) int64, off, before int64) error {
	if err := c.openEncoder(ctx, params); err != nil {
		return err
	}
	v := src.VideoIndex()
	vs := c.states[c.video]
	fd := params.FrameDuration

	// DTS 计数器比第一帧提前 delay，并在后面的关键帧之前结束
	// 同时不早于上一个写出的包
	rangeStart := rescale(v.Records[first].PTS) - off
	seed := rangeStart - c.delay
	if before != math.MaxInt64 {
		seed = min(seed, before-int64(last-first+1)*fd)
	}
	if vs.written {
		seed = max(seed, vs.lastDTS+fd)
	}
	if c.enc.seeded {
		seed = max(seed, c.enc.dts)
	}
	c.enc.dts = seed
	c.enc.seeded = true

	n, err := src.DecodeRange(ctx, first, last, func(f *codec.Frame) error {
		f.PTS = rescale(f.PTS) - off
		f.Keyframe = false
		f.Picture = codec.PictureUnknown
		if err := c.enc.enc.SendFrame(ctx, f); err != nil {
			return fmt.Errorf("send frame: %w", err)
		}
		return c.drainEncoder(ctx)
	})
	if err != nil {
		return err
	}
	if want := last - first + 1; n != want {
		return fmt.Errorf("%w: decoded %d of %d frames", media.ErrFrameNotFound, n, want)
	}
	c.report.Transcoded += n
	return nil
}

func (c *composer) openEncoder(ctx context.Context, params codec.EncoderParams) error {
	if c.enc != nil && c.enc.params == params {
		return nil
	}
	if err := c.closeEncoder(ctx); err != nil {
		return err
	}
	enc, err := c.engine.NewEncoder(ctx, params)
	if err != nil {
		return fmt.Errorf("new encoder: %w", err)
	}
	c.enc = &encoderState{params: params, enc: enc}
	slog.Debug("open encoder", "codec", params.Codec, "bitrate", params.BitRate,
		"gop", params.GOPSize, "max_bframes", params.MaxBFrames)
	return nil
}

// closeEncoder flush 并写出剩余的包，编码上下文只能 flush 一次
func (c *composer) closeEncoder(ctx context.Context) error {
	if c.enc == nil {
		return nil
	}
	defer func() {
		_ = c.enc.enc.Close()
		c.enc = nil
	}()
	if err := c.enc.enc.Flush(ctx); err != nil {
		return fmt.Errorf("flush encoder: %w", err)
	}
	return c.drainEncoder(ctx)
}

func (c *composer) drainEncoder(ctx context.Context) error {
	for {
		pkt, err := c.enc.enc.ReceivePacket(ctx)
		if errors.Is(err, codec.ErrNeedMoreInput) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive packet: %w", err)
		}
		pkt.Stream = c.video
		pkt.Pos = -1
		pkt.DTS = c.enc.dts
		if pkt.Duration <= 0 {
			pkt.Duration = c.enc.params.FrameDuration
		}
		c.enc.dts += c.enc.params.FrameDuration
		if err := c.write(pkt); err != nil {
			return err
		}
		c.tick()
	}
}

// remux 复制 [RemuxStart, RemuxEnd] 的视频包以及同一时间段的其它流
// 视频包的 DTS 额外减去 shift
func (c *composer) remux(ctx context.Context, idx, n int, src *media.Source, mapping []int, plan Plan, off, shift, segStart, segEnd int64) error {
	v := src.VideoIndex()
	vs := c.states[c.video]
	inTB, outTB := v.TimeBase, vs.params.TimeBase
	cutIn, cutOut := v.Records[plan.CutIn], v.Records[plan.CutOut]
	remuxVideo := plan.Remuxed() > 0
	var startPTS, endPTS int64
	if remuxVideo {
		startPTS, endPTS = v.Records[plan.RemuxStart].PTS, v.Records[plan.RemuxEnd].PTS
	}

	// 非视频流的偏移与音画同步校正
	offs := make(map[int]int64)
	ends := make(map[int]int64)
	for k, o := range mapping {
		if o < 0 || k == src.Video {
			continue
		}
		st := c.states[o]
		stb := st.params.TimeBase
		si := src.Indexes[k]
		startS := codec.Rescale(segStart, outTB, stb)
		base := codec.Rescale(cutIn.PTS, inTB, stb) - startS
		var desync int64
		if idx > 0 {
			if j := si.PacketAtOrAfter(codec.Rescale(cutIn.PTS, inTB, si.TimeBase)); j >= 0 {
				p0 := si.Records[j]
				d := p0.Duration
				if d <= 0 {
					d = si.MaxDuration
				}
				d = codec.Rescale(d, si.TimeBase, stb)
				desync = snapDesync(st.next-(codec.Rescale(p0.PTS, si.TimeBase, stb)-base), d)
				if desync != 0 {
					slog.DebugContext(ctx, "audio desync", "segment", idx, "stream", o, "desync", desync, "duration", d)
				}
			}
		}
		offs[k] = base - desync
		ends[k] = codec.Rescale(segEnd, outTB, stb)
	}

	lo := src.OffsetBefore(cutIn.PTS - src.MaxAudioDuration())
	hi := src.OffsetAfter(cutOut.PTS)
	demux := src.Demuxer()
	if demux == nil {
		return fmt.Errorf("%w: source closed", media.ErrDemux)
	}
	if err := demux.SeekByte(lo, lo, hi); err != nil {
		return err
	}

	written := make(map[int]int64)
	for {
		pkt, err := demux.ReadPacket(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %w", media.ErrDemux, err)
		}
		if pkt.Pos > hi {
			break
		}
		if pkt.Stream < 0 || pkt.Stream >= len(mapping) {
			continue
		}
		o := mapping[pkt.Stream]
		if o < 0 {
			continue
		}

		if pkt.Stream == src.Video {
			if !remuxVideo || pkt.PTS < startPTS || pkt.PTS > endPTS {
				continue
			}
			dts := pkt.DTS
			if pkt.PTS == startPTS {
				dts += plan.UnusedDTS
			}
			pkt.PTS = codec.Rescale(pkt.PTS, inTB, outTB) - off
			pkt.DTS = codec.Rescale(dts, inTB, outTB) - off - shift
			pkt.Duration = codec.Rescale(pkt.Duration, inTB, outTB)
			pkt.Stream = o
			if err := c.write(pkt); err != nil {
				return err
			}
			c.report.Remuxed++
			c.tick()
			continue
		}

		st := c.states[o]
		si := src.Indexes[pkt.Stream]
		stb := st.params.TimeBase
		pts := codec.Rescale(pkt.PTS, si.TimeBase, stb) - offs[pkt.Stream]
		d := codec.Rescale(pkt.Duration, si.TimeBase, stb)
		end := ends[pkt.Stream]
		// 倒数第二段放宽半个包，避免末尾少一个音频包
		if idx == n-2 {
			end += d / 2
		}
		if pts < st.next || pts+d > end {
			continue
		}
		pkt.DTS = codec.Rescale(pkt.DTS, si.TimeBase, stb) - offs[pkt.Stream]
		pkt.PTS = pts
		pkt.Duration = d
		pkt.Stream = o
		if err := c.write(pkt); err != nil {
			return err
		}
		written[o] = max(written[o], pts+d)
	}

	c.advanceNonVideo(mapping, segEnd, written)
	return nil
}

// advanceNonVideo 更新非视频流的续接点，没有写出包的流取本段结束时间
func (c *composer) advanceNonVideo(mapping []int, segEnd int64, written map[int]int64) {
	vtb := c.states[c.video].params.TimeBase
	for o, st := range c.states {
		if o == c.video || !mapped(mapping, o) {
			continue
		}
		if end, ok := written[o]; ok {
			st.next = end
			continue
		}
		st.next = max(st.next, codec.Rescale(segEnd, vtb, st.params.TimeBase))
	}
}

func mapped(mapping []int, o int) bool {
	for _, m := range mapping {
		if m == o {
			return true
		}
	}
	return false
}

// write 保证同一路流 DTS 单调递增
func (c *composer) write(pkt *codec.Packet) error {
	st := c.states[pkt.Stream]
	if st.written && pkt.DTS <= st.lastDTS {
		slog.Debug("fix non monotonic dts", "stream", pkt.Stream, "dts", pkt.DTS, "last", st.lastDTS)
		pkt.DTS = st.lastDTS + 1
		c.report.DTSFixes++
	}
	if err := c.mux.WritePacket(pkt); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	st.lastDTS = pkt.DTS
	st.written = true
	c.report.Packets++
	return nil
}

func (c *composer) tick() {
	c.progress++
	if fn := c.opts.OnProgress; fn != nil {
		fn(c.progress, c.total)
	}
}

// snapDesync 把 v 折算到 (-d/2, d/2]
func snapDesync(v, d int64) int64 {
	if d <= 0 {
		return 0
	}
	v %= d
	if v < 0 {
		v += d
	}
	if 2*v > d {
		v -= d
	}
	return v
}
