// Package mp4 读写 ISO BMFF 文件，只处理剪辑需要的样本表
package mp4

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"

	gomp4 "github.com/abema/go-mp4"
	"github.com/gowvp/smartcut/internal/core/codec"
)

var (
	boxMoov = gomp4.BoxTypeMoov()
	boxTrak = gomp4.BoxTypeTrak()
	boxTkhd = gomp4.BoxTypeTkhd()
	boxMdia = gomp4.BoxTypeMdia()
	boxHdlr = gomp4.BoxTypeHdlr()
	boxMinf = gomp4.BoxTypeMinf()
	boxStbl = gomp4.BoxTypeStbl()
	boxStsd = gomp4.BoxTypeStsd()
	boxStss = gomp4.BoxTypeStss()
	boxAvc1 = gomp4.BoxTypeAvc1()
	boxAvcC = gomp4.BoxTypeAvcC()
)

// sample 一个样本在文件中的位置与时间戳
type sample struct {
	stream   int
	pos      int64
	size     uint32
	pts      int64
	dts      int64
	duration int64
	keyframe bool
}

// Reader 按文件偏移顺序读取样本
type Reader struct {
	f       *os.File
	size    int64
	streams []codec.StreamParams
	samples []sample
	cursor  int
}

var (
	_ codec.Demuxer       = (*Reader)(nil)
	_ codec.PictureParser = (*Reader)(nil)
)

// Open 解析 moov，建立所有轨道的样本表
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", codec.ErrDemux, err)
	}
	r := Reader{f: f}
	if err := r.load(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %w", codec.ErrDemux, path, err)
	}
	return &r, nil
}

func (r *Reader) load() error {
	fi, err := r.f.Stat()
	if err != nil {
		return err
	}
	r.size = fi.Size()

	info, err := gomp4.Probe(r.f)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	traks, err := gomp4.ExtractBox(r.f, nil, gomp4.BoxPath{boxMoov, boxTrak})
	if err != nil {
		return fmt.Errorf("extract trak: %w", err)
	}
	if len(info.Tracks) == 0 {
		return errors.New("no track")
	}
	if len(traks) != len(info.Tracks) {
		return fmt.Errorf("track count mismatch %d/%d", len(traks), len(info.Tracks))
	}

	for i, track := range info.Tracks {
		st, keys, err := r.loadTrack(i, traks[i], track)
		if err != nil {
			return fmt.Errorf("track %d: %w", track.TrackID, err)
		}
		r.streams = append(r.streams, st)
		r.appendSamples(i, track, keys, info.Timescale)
	}
	sort.SliceStable(r.samples, func(i, j int) bool { return r.samples[i].pos < r.samples[j].pos })
	return nil
}

// loadTrack 读取轨道参数，返回关键帧样本序号（从 1 开始），nil 表示全部为关键帧
func (r *Reader) loadTrack(idx int, trak *gomp4.BoxInfo, track *gomp4.Track) (codec.StreamParams, map[uint32]bool, error) {
	st := codec.StreamParams{
		Index:    idx,
		TimeBase: codec.NewRational(1, int64(track.Timescale)),
		Default:  true,
	}
	if !st.TimeBase.Valid() {
		return st, nil, fmt.Errorf("invalid timescale %d", track.Timescale)
	}

	hdlr, err := gomp4.ExtractBoxWithPayload(r.f, trak, gomp4.BoxPath{boxMdia, boxHdlr})
	if err != nil {
		return st, nil, err
	}
	if len(hdlr) > 0 {
		if h, ok := hdlr[0].Payload.(*gomp4.Hdlr); ok {
			st.Kind = kindOf(h.HandlerType)
		}
	}

	tkhd, err := gomp4.ExtractBoxWithPayload(r.f, trak, gomp4.BoxPath{boxTkhd})
	if err != nil {
		return st, nil, err
	}
	if len(tkhd) > 0 {
		if h, ok := tkhd[0].Payload.(*gomp4.Tkhd); ok {
			st.Width, st.Height = int(h.Width>>16), int(h.Height>>16)
		}
	}

	switch track.Codec {
	case gomp4.CodecAVC1:
		st.Codec = "h264"
		st.LengthSize = 4
		if track.AVC != nil {
			st.Width, st.Height = int(track.AVC.Width), int(track.AVC.Height)
			st.LengthSize = int(track.AVC.LengthSize)
		}
		avcc, err := gomp4.ExtractBoxWithPayload(r.f, trak, gomp4.BoxPath{boxMdia, boxMinf, boxStbl, boxStsd, boxAvc1, boxAvcC})
		if err != nil {
			return st, nil, err
		}
		if len(avcc) > 0 {
			if c, ok := avcc[0].Payload.(*gomp4.AVCDecoderConfiguration); ok {
				for _, ps := range c.SequenceParameterSets {
					st.ParameterSets = append(st.ParameterSets, ps.NALUnit)
				}
				for _, ps := range c.PictureParameterSets {
					st.ParameterSets = append(st.ParameterSets, ps.NALUnit)
				}
			}
		}
	case gomp4.CodecMP4A:
		st.Codec = "aac"
		st.SampleRate = int(track.Timescale)
		if track.MP4A != nil {
			st.Channels = int(track.MP4A.ChannelCount)
		}
	}

	if st.Extradata, err = r.sampleEntry(trak); err != nil {
		return st, nil, err
	}
	if st.Codec == "" {
		st.Codec = entryType(st.Extradata)
	}
	if len(track.Samples) > 0 {
		st.FrameDuration = int64(track.Samples[0].TimeDelta)
	}

	stss, err := gomp4.ExtractBoxWithPayload(r.f, trak, gomp4.BoxPath{boxMdia, boxMinf, boxStbl, boxStss})
	if err != nil {
		return st, nil, err
	}
	if len(stss) == 0 {
		return st, nil, nil
	}
	s, ok := stss[0].Payload.(*gomp4.Stss)
	if !ok {
		return st, nil, nil
	}
	keys := make(map[uint32]bool, len(s.SampleNumber))
	for _, n := range s.SampleNumber {
		keys[n] = true
	}
	return st, keys, nil
}

// sampleEntry 原样读取 stsd 中的第一个样本描述，写文件时直接复制
func (r *Reader) sampleEntry(trak *gomp4.BoxInfo) ([]byte, error) {
	stsd, err := gomp4.ExtractBox(r.f, trak, gomp4.BoxPath{boxMdia, boxMinf, boxStbl, boxStsd})
	if err != nil || len(stsd) == 0 {
		return nil, err
	}
	bi := stsd[0]
	// FullBox 4 字节 + entry_count 4 字节
	start := int64(bi.Offset + bi.HeaderSize + 8)
	end := int64(bi.Offset + bi.Size)
	if end-start < 8 {
		return nil, nil
	}
	head := make([]byte, 4)
	if _, err := r.f.ReadAt(head, start); err != nil {
		return nil, err
	}
	n := int64(binary.BigEndian.Uint32(head))
	if n < 8 || start+n > end {
		return nil, fmt.Errorf("invalid sample entry size %d", n)
	}
	entry := make([]byte, n)
	if _, err := r.f.ReadAt(entry, start); err != nil {
		return nil, err
	}
	return entry, nil
}

// appendSamples 按 stsc/stco 展开样本偏移，时间戳按编辑列表平移
// 空编辑表示轨道延后开始，movieTS 为 mvhd 的时间基
func (r *Reader) appendSamples(stream int, track *gomp4.Track, keys map[uint32]bool, movieTS uint32) {
	var shift, lead int64
	for _, e := range track.EditList {
		if e.MediaTime < 0 {
			if movieTS > 0 {
				lead += int64(e.SegmentDuration) * int64(track.Timescale) / int64(movieTS)
			}
			continue
		}
		shift = e.MediaTime
		break
	}
	shift -= lead

	var dts int64
	n := 0
	for _, c := range track.Chunks {
		pos := int64(c.DataOffset)
		for k := uint32(0); k < c.SamplesPerChunk && n < len(track.Samples); k++ {
			s := track.Samples[n]
			n++
			r.samples = append(r.samples, sample{
				stream:   stream,
				pos:      pos,
				size:     s.Size,
				dts:      dts - shift,
				pts:      dts + s.CompositionTimeOffset - shift,
				duration: int64(s.TimeDelta),
				keyframe: keys == nil || keys[uint32(n)],
			})
			pos += int64(s.Size)
			dts += int64(s.TimeDelta)
		}
	}
}

func kindOf(handler [4]byte) codec.MediaKind {
	switch string(handler[:]) {
	case "vide":
		return codec.KindVideo
	case "soun":
		return codec.KindAudio
	case "sbtl", "subt", "text":
		return codec.KindSubtitle
	}
	return codec.KindData
}

func entryType(entry []byte) string {
	if len(entry) < 8 {
		return ""
	}
	return string(entry[4:8])
}

func (r *Reader) Streams() []codec.StreamParams { return r.streams }

func (r *Reader) Size() int64 { return r.size }

// ReadPacket 按文件偏移顺序返回下一个样本
func (r *Reader) ReadPacket(ctx context.Context) (*codec.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.f == nil {
		return nil, os.ErrClosed
	}
	if r.cursor >= len(r.samples) {
		return nil, io.EOF
	}
	s := r.samples[r.cursor]
	r.cursor++

	data := make([]byte, s.size)
	if _, err := r.f.ReadAt(data, s.pos); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read sample at %d: %w", s.pos, err)
	}
	return &codec.Packet{
		Stream:   s.stream,
		Data:     data,
		PTS:      s.pts,
		DTS:      s.dts,
		Duration: s.duration,
		Pos:      s.pos,
		Keyframe: s.keyframe,
	}, nil
}

// SeekByte 定位到 [min,max] 内不早于 target 的第一个样本，找不到时退到 min
func (r *Reader) SeekByte(min, target, max int64) error {
	i, _ := slices.BinarySearchFunc(r.samples, target, func(s sample, t int64) int {
		switch {
		case s.pos < t:
			return -1
		case s.pos > t:
			return 1
		}
		return 0
	})
	if i < len(r.samples) && r.samples[i].pos <= max {
		r.cursor = i
		return nil
	}
	i, _ = slices.BinarySearchFunc(r.samples, min, func(s sample, t int64) int {
		switch {
		case s.pos < t:
			return -1
		case s.pos > t:
			return 1
		}
		return 0
	})
	if i < len(r.samples) && r.samples[i].pos <= max {
		r.cursor = i
		return nil
	}
	return fmt.Errorf("%w: no sample in [%d,%d]", codec.ErrSeekFailed, min, max)
}

func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
