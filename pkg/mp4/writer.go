package mp4

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	gomp4 "github.com/abema/go-mp4"
	"github.com/gowvp/smartcut/internal/core/codec"
)

// movieTimescale mvhd 与 tkhd 使用的时间基
const movieTimescale = 1000

const defaultInterleaveDelta = 10 * time.Second

var identityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

// undLanguage mdhd 中 "und" 的 5 bit 打包编码
var undLanguage = [3]byte{'u' - 0x60, 'n' - 0x60, 'd' - 0x60}

type chunk struct {
	offset  uint64
	samples uint32
}

// track 一路流的样本表，时间戳单位为 timescale
type track struct {
	params    codec.StreamParams
	timescale uint32
	mul       int64

	sizes  []uint32
	dts    []int64
	pts    []int64
	last   int64
	keys   []uint32
	chunks []chunk
}

// Writer mdat 在前、moov 在后的 MP4 封装器
// 写入的包按各路流 DTS 对应的时间交织，交织间隔不超过 MaxInterleaveDelta
type Writer struct {
	f      *os.File
	w      *gomp4.Writer
	tracks []*track
	delta  time.Duration

	pending   [][]*codec.Packet
	lastTrack int
	header    bool
	closed    bool
}

var _ codec.Muxer = (*Writer)(nil)

// Create 创建输出文件
func Create(path string, streams []codec.StreamParams, opts codec.MuxerOptions) (*Writer, error) {
	if len(streams) == 0 {
		return nil, errors.New("mp4: no stream")
	}
	tracks := make([]*track, 0, len(streams))
	for _, st := range streams {
		if !st.TimeBase.Valid() || st.TimeBase.Den > 1<<32-1 {
			return nil, fmt.Errorf("mp4: stream %d invalid time base %s", st.Index, st.TimeBase)
		}
		tracks = append(tracks, &track{params: st, timescale: uint32(st.TimeBase.Den), mul: st.TimeBase.Num})
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	delta := opts.MaxInterleaveDelta
	if delta <= 0 {
		delta = defaultInterleaveDelta
	}
	return &Writer{
		f:         f,
		w:         gomp4.NewWriter(f),
		tracks:    tracks,
		delta:     delta,
		pending:   make([][]*codec.Packet, len(streams)),
		lastTrack: -1,
	}, nil
}

// WriteHeader 写 ftyp 并开始 mdat，mdat 使用 64 位长度
func (m *Writer) WriteHeader() error {
	if m.header {
		return errors.New("mp4: header already written")
	}
	brand := func(s string) gomp4.CompatibleBrandElem {
		return gomp4.CompatibleBrandElem{CompatibleBrand: [4]byte{s[0], s[1], s[2], s[3]}}
	}
	err := m.box(gomp4.BoxTypeFtyp(), &gomp4.Ftyp{
		MajorBrand:       [4]byte{'i', 's', 'o', 'm'},
		MinorVersion:     0x200,
		CompatibleBrands: []gomp4.CompatibleBrandElem{brand("isom"), brand("iso2"), brand("avc1"), brand("mp41")},
	}, nil)
	if err != nil {
		return fmt.Errorf("mp4: write ftyp: %w", err)
	}
	if _, err := m.w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMdat(), HeaderSize: gomp4.LargeHeaderSize}); err != nil {
		return fmt.Errorf("mp4: start mdat: %w", err)
	}
	m.header = true
	return nil
}

// WritePacket 包进入对应流的队列，满足交织条件后写入 mdat
func (m *Writer) WritePacket(pkt *codec.Packet) error {
	if !m.header {
		return errors.New("mp4: header not written")
	}
	if pkt.Stream < 0 || pkt.Stream >= len(m.tracks) {
		return fmt.Errorf("mp4: invalid stream %d", pkt.Stream)
	}
	q := m.pending[pkt.Stream]
	if n := len(q); n > 0 && pkt.DTS < q[n-1].DTS {
		return fmt.Errorf("mp4: stream %d dts %d < %d", pkt.Stream, pkt.DTS, q[n-1].DTS)
	}
	if t := m.tracks[pkt.Stream]; len(q) == 0 && len(t.dts) > 0 && pkt.DTS*t.mul < t.dts[len(t.dts)-1] {
		return fmt.Errorf("mp4: stream %d dts %d not monotonic", pkt.Stream, pkt.DTS)
	}
	cp := *pkt
	m.pending[pkt.Stream] = append(q, &cp)
	return m.interleave(false)
}

// interleave 每次写出 DTS 最早的包
// 所有流都有排队的包，或者排队跨度超过交织间隔时才写
func (m *Writer) interleave(flush bool) error {
	for {
		first, full := -1, true
		var firstAt, lastAt float64
		for i, q := range m.pending {
			if len(q) == 0 {
				full = false
				continue
			}
			tb := m.tracks[i].params.TimeBase
			at := tb.Seconds(q[0].DTS)
			if first < 0 || at < firstAt {
				first, firstAt = i, at
			}
			lastAt = max(lastAt, tb.Seconds(q[len(q)-1].DTS))
		}
		if first < 0 {
			return nil
		}
		if !flush && !full && lastAt-firstAt <= m.delta.Seconds() {
			return nil
		}
		pkt := m.pending[first][0]
		m.pending[first] = m.pending[first][1:]
		if err := m.writeSample(first, pkt); err != nil {
			return err
		}
	}
}

func (m *Writer) writeSample(idx int, pkt *codec.Packet) error {
	offset, err := m.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := m.w.Write(pkt.Data); err != nil {
		return fmt.Errorf("mp4: write sample: %w", err)
	}
	t := m.tracks[idx]
	if idx != m.lastTrack || len(t.chunks) == 0 {
		t.chunks = append(t.chunks, chunk{offset: uint64(offset)})
	}
	t.chunks[len(t.chunks)-1].samples++
	m.lastTrack = idx

	t.sizes = append(t.sizes, uint32(len(pkt.Data)))
	t.dts = append(t.dts, pkt.DTS*t.mul)
	t.pts = append(t.pts, pkt.PTS*t.mul)
	t.last = max(pkt.Duration*t.mul, 0)
	if pkt.Keyframe {
		t.keys = append(t.keys, uint32(len(t.sizes)))
	}
	return nil
}

// WriteTrailer 写出剩余的包，补全 mdat 长度后写 moov
func (m *Writer) WriteTrailer() error {
	if !m.header {
		return errors.New("mp4: header not written")
	}
	if err := m.interleave(true); err != nil {
		return err
	}
	if _, err := m.w.EndBox(); err != nil {
		return fmt.Errorf("mp4: end mdat: %w", err)
	}
	if err := m.writeMoov(); err != nil {
		return fmt.Errorf("mp4: write moov: %w", err)
	}
	for i, t := range m.tracks {
		slog.Debug("mp4 track written", "track", i, "samples", len(t.sizes), "chunks", len(t.chunks))
	}
	return nil
}

func (m *Writer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.f.Close()
}

// box 写一个 box，payload 为 nil 时只写子 box
func (m *Writer) box(typ gomp4.BoxType, payload gomp4.IImmutableBox, children func() error) error {
	if _, err := m.w.StartBox(&gomp4.BoxInfo{Type: typ}); err != nil {
		return err
	}
	if payload != nil {
		if _, err := gomp4.Marshal(m.w, payload, gomp4.Context{}); err != nil {
			return err
		}
	}
	if children != nil {
		if err := children(); err != nil {
			return err
		}
	}
	_, err := m.w.EndBox()
	return err
}

func (m *Writer) writeMoov() error {
	var movieDur uint32
	for _, t := range m.tracks {
		movieDur = max(movieDur, t.movieDuration())
	}
	return m.box(gomp4.BoxTypeMoov(), nil, func() error {
		err := m.box(gomp4.BoxTypeMvhd(), &gomp4.Mvhd{
			Timescale:   movieTimescale,
			DurationV0:  movieDur,
			Rate:        0x00010000,
			Volume:      0x0100,
			Matrix:      identityMatrix,
			NextTrackID: uint32(len(m.tracks) + 1),
		}, nil)
		if err != nil {
			return err
		}
		for i, t := range m.tracks {
			if err := m.writeTrak(uint32(i+1), t); err != nil {
				return fmt.Errorf("trak %d: %w", i+1, err)
			}
		}
		return nil
	})
}

func (t *track) duration() int64 {
	if len(t.dts) == 0 {
		return 0
	}
	return t.dts[len(t.dts)-1] - t.dts[0] + t.last
}

func (t *track) movieDuration() uint32 {
	return uint32(t.duration() * movieTimescale / int64(t.timescale))
}

func (m *Writer) writeTrak(id uint32, t *track) error {
	tkhd := gomp4.Tkhd{
		FullBox:    gomp4.FullBox{Flags: [3]byte{0, 0, 3}},
		TrackID:    id,
		DurationV0: t.movieDuration(),
		Matrix:     identityMatrix,
	}
	switch t.params.Kind {
	case codec.KindVideo:
		tkhd.Width = uint32(t.params.Width) << 16
		tkhd.Height = uint32(t.params.Height) << 16
	case codec.KindAudio:
		tkhd.Volume = 0x0100
	}

	return m.box(gomp4.BoxTypeTrak(), nil, func() error {
		if err := m.box(gomp4.BoxTypeTkhd(), &tkhd, nil); err != nil {
			return err
		}
		if err := m.writeEdts(t); err != nil {
			return err
		}
		return m.box(gomp4.BoxTypeMdia(), nil, func() error {
			err := m.box(gomp4.BoxTypeMdhd(), &gomp4.Mdhd{
				Timescale:  t.timescale,
				DurationV0: uint32(t.duration()),
				Language:   undLanguage,
			}, nil)
			if err != nil {
				return err
			}
			handler, name := handlerOf(t.params.Kind)
			if err := m.box(gomp4.BoxTypeHdlr(), &gomp4.Hdlr{HandlerType: handler, Name: name}, nil); err != nil {
				return err
			}
			return m.box(gomp4.BoxTypeMinf(), nil, func() error {
				switch t.params.Kind {
				case codec.KindVideo:
					err = m.box(gomp4.BoxTypeVmhd(), &gomp4.Vmhd{FullBox: gomp4.FullBox{Flags: [3]byte{0, 0, 1}}}, nil)
				case codec.KindAudio:
					err = m.box(gomp4.BoxTypeSmhd(), &gomp4.Smhd{}, nil)
				}
				if err != nil {
					return err
				}
				err = m.box(gomp4.BoxTypeDinf(), nil, func() error {
					return m.box(gomp4.BoxTypeDref(), &gomp4.Dref{EntryCount: 1}, func() error {
						return m.box(gomp4.BoxTypeUrl(), &gomp4.Url{FullBox: gomp4.FullBox{Flags: [3]byte{0, 0, 1}}}, nil)
					})
				})
				if err != nil {
					return err
				}
				return m.writeStbl(t)
			})
		})
	})
}

// writeEdts 第一个包的 DTS 不为 0 时写编辑列表，使显示时间与写入的 PTS 一致
func (m *Writer) writeEdts(t *track) error {
	if len(t.dts) == 0 || t.dts[0] == 0 {
		return nil
	}
	var entries []gomp4.ElstEntry
	dur := t.movieDuration()
	if t.dts[0] < 0 {
		entries = append(entries, gomp4.ElstEntry{SegmentDurationV0: dur, MediaTimeV0: int32(-t.dts[0]), MediaRateInteger: 1})
	} else {
		// 晚于 0 开始时先插入空编辑
		empty := uint32(t.dts[0] * movieTimescale / int64(t.timescale))
		entries = append(entries,
			gomp4.ElstEntry{SegmentDurationV0: empty, MediaTimeV0: -1, MediaRateInteger: 1},
			gomp4.ElstEntry{SegmentDurationV0: dur, MediaTimeV0: 0, MediaRateInteger: 1},
		)
	}
	return m.box(gomp4.BoxTypeEdts(), nil, func() error {
		return m.box(gomp4.BoxTypeElst(), &gomp4.Elst{EntryCount: uint32(len(entries)), Entries: entries}, nil)
	})
}

func (m *Writer) writeStbl(t *track) error {
	return m.box(gomp4.BoxTypeStbl(), nil, func() error {
		if err := m.writeStsd(t); err != nil {
			return err
		}

		stts := gomp4.Stts{}
		for i := range t.dts {
			delta := t.last
			if i+1 < len(t.dts) {
				delta = t.dts[i+1] - t.dts[i]
			}
			delta = max(delta, 0)
			if n := len(stts.Entries); n > 0 && int64(stts.Entries[n-1].SampleDelta) == delta {
				stts.Entries[n-1].SampleCount++
				continue
			}
			stts.Entries = append(stts.Entries, gomp4.SttsEntry{SampleCount: 1, SampleDelta: uint32(delta)})
		}
		stts.EntryCount = uint32(len(stts.Entries))
		if err := m.box(gomp4.BoxTypeStts(), &stts, nil); err != nil {
			return err
		}

		if ctts, ok := t.ctts(); ok {
			if err := m.box(gomp4.BoxTypeCtts(), ctts, nil); err != nil {
				return err
			}
		}

		if t.params.Kind == codec.KindVideo && len(t.keys) < len(t.sizes) {
			err := m.box(gomp4.BoxTypeStss(), &gomp4.Stss{EntryCount: uint32(len(t.keys)), SampleNumber: t.keys}, nil)
			if err != nil {
				return err
			}
		}

		stsc := gomp4.Stsc{}
		for i, c := range t.chunks {
			if n := len(stsc.Entries); n > 0 && stsc.Entries[n-1].SamplesPerChunk == c.samples {
				continue
			}
			stsc.Entries = append(stsc.Entries, gomp4.StscEntry{
				FirstChunk:             uint32(i + 1),
				SamplesPerChunk:        c.samples,
				SampleDescriptionIndex: 1,
			})
		}
		stsc.EntryCount = uint32(len(stsc.Entries))
		if err := m.box(gomp4.BoxTypeStsc(), &stsc, nil); err != nil {
			return err
		}

		if err := m.box(gomp4.BoxTypeStsz(), &gomp4.Stsz{SampleCount: uint32(len(t.sizes)), EntrySize: t.sizes}, nil); err != nil {
			return err
		}

		co64 := gomp4.Co64{EntryCount: uint32(len(t.chunks)), ChunkOffset: make([]uint64, 0, len(t.chunks))}
		for _, c := range t.chunks {
			co64.ChunkOffset = append(co64.ChunkOffset, c.offset)
		}
		return m.box(gomp4.BoxTypeCo64(), &co64, nil)
	})
}

// writeStsd 样本描述原样复制源文件的第一个样本描述
func (m *Writer) writeStsd(t *track) error {
	entry := t.params.Extradata
	count := uint32(1)
	if len(entry) < 8 {
		count = 0
		entry = nil
	}
	return m.box(gomp4.BoxTypeStsd(), &gomp4.Stsd{EntryCount: count}, func() error {
		_, err := m.w.Write(entry)
		return err
	})
}

// ctts 存在 PTS != DTS 的样本时生成，出现负偏移时使用 version 1
func (t *track) ctts() (*gomp4.Ctts, bool) {
	var need, negative bool
	for i := range t.dts {
		off := t.pts[i] - t.dts[i]
		need = need || off != 0
		negative = negative || off < 0
	}
	if !need {
		return nil, false
	}
	c := gomp4.Ctts{}
	if negative {
		c.FullBox.Version = 1
	}
	for i := range t.dts {
		off := t.pts[i] - t.dts[i]
		if n := len(c.Entries); n > 0 {
			last := &c.Entries[n-1]
			if (negative && int64(last.SampleOffsetV1) == off) || (!negative && int64(last.SampleOffsetV0) == off) {
				last.SampleCount++
				continue
			}
		}
		e := gomp4.CttsEntry{SampleCount: 1}
		if negative {
			e.SampleOffsetV1 = int32(off)
		} else {
			e.SampleOffsetV0 = uint32(off)
		}
		c.Entries = append(c.Entries, e)
	}
	c.EntryCount = uint32(len(c.Entries))
	return &c, true
}

func handlerOf(kind codec.MediaKind) ([4]byte, string) {
	switch kind {
	case codec.KindVideo:
		return [4]byte{'v', 'i', 'd', 'e'}, "VideoHandler"
	case codec.KindAudio:
		return [4]byte{'s', 'o', 'u', 'n'}, "SoundHandler"
	case codec.KindSubtitle:
		return [4]byte{'s', 'b', 't', 'l'}, "SubtitleHandler"
	}
	return [4]byte{'m', 'e', 't', 'a'}, "DataHandler"
}
