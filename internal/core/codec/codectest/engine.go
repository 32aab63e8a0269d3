// Package codectest 提供内存中的编解码引擎，用于测试剪辑逻辑
// 视频包的第一个字节表示帧类型（'I' 'P' 'B'），解码器据此还原帧类型
package codectest

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gowvp/smartcut/internal/core/codec"
)

// Source 内存中的媒体文件，Packets 按文件顺序排列
type Source struct {
	Streams []codec.StreamParams
	Packets []codec.Packet
	// NoParser 为 true 时解封装器不提供流式帧类型解析
	NoParser bool
	// CorruptAt 这些下标的包被标记为损坏
	CorruptAt map[int]bool
}

// Engine 内存编解码引擎
type Engine struct {
	mu      sync.Mutex
	sources map[string]*Source
	muxers  map[string]*Muxer

	// Decoders 记录创建过的解码器数量
	Decoders int
	// Encoders 记录创建过的编码器数量
	Encoders int
	// SentToEncoder 送入编码器的帧
	SentToEncoder []codec.Frame
}

// NewEngine 创建引擎
func NewEngine() *Engine {
	return &Engine{
		sources: make(map[string]*Source),
		muxers:  make(map[string]*Muxer),
	}
}

// Add 注册一个内存文件，并按文件顺序补齐包的字节偏移
func (e *Engine) Add(path string, src *Source) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var pos int64 = 100
	for i := range src.Packets {
		src.Packets[i].Pos = pos
		pos += int64(len(src.Packets[i].Data)) + 100
		if src.CorruptAt[i] {
			src.Packets[i].Corrupt = true
		}
	}
	e.sources[path] = src
}

// Muxed 返回写入 path 的封装器
func (e *Engine) Muxed(path string) *Muxer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muxers[path]
}

var _ codec.Engine = (*Engine)(nil)

func (e *Engine) Open(_ context.Context, path string) (codec.Demuxer, error) {
	e.mu.Lock()
	src, ok := e.sources[path]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", codec.ErrDemux, path)
	}
	d := &Demuxer{src: src}
	if src.NoParser {
		return &plainDemuxer{d}, nil
	}
	return d, nil
}

func (e *Engine) NewDecoder(_ context.Context, params codec.StreamParams, opts codec.DecoderOptions) (codec.Decoder, error) {
	e.mu.Lock()
	e.Decoders++
	e.mu.Unlock()
	return &Decoder{depth: opts.ReorderDepth, width: params.Width, height: params.Height}, nil
}

func (e *Engine) NewEncoder(_ context.Context, params codec.EncoderParams) (codec.Encoder, error) {
	e.mu.Lock()
	e.Encoders++
	e.mu.Unlock()
	return &Encoder{engine: e, params: params}, nil
}

func (e *Engine) NewMuxer(path string, streams []codec.StreamParams, opts codec.MuxerOptions) (codec.Muxer, error) {
	m := &Muxer{Streams: streams, Options: opts}
	e.mu.Lock()
	e.muxers[path] = m
	e.mu.Unlock()
	return m, nil
}

// Demuxer 内存解封装器
type Demuxer struct {
	src    *Source
	cursor int
	closed bool
}

// plainDemuxer 不实现 codec.PictureParser
type plainDemuxer struct{ d *Demuxer }

func (p *plainDemuxer) Streams() []codec.StreamParams { return p.d.Streams() }
func (p *plainDemuxer) Size() int64                   { return p.d.Size() }
func (p *plainDemuxer) ReadPacket(ctx context.Context) (*codec.Packet, error) {
	return p.d.ReadPacket(ctx)
}
func (p *plainDemuxer) SeekByte(min, target, max int64) error { return p.d.SeekByte(min, target, max) }
func (p *plainDemuxer) Close() error                          { return p.d.Close() }

func (d *Demuxer) Streams() []codec.StreamParams { return d.src.Streams }

func (d *Demuxer) Size() int64 {
	if n := len(d.src.Packets); n > 0 {
		last := d.src.Packets[n-1]
		return last.Pos + int64(len(last.Data)) + 100
	}
	return 0
}

func (d *Demuxer) ReadPacket(ctx context.Context) (*codec.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.cursor >= len(d.src.Packets) {
		return nil, io.EOF
	}
	p := d.src.Packets[d.cursor]
	d.cursor++
	p.Data = append([]byte(nil), p.Data...)
	return &p, nil
}

// SeekByte 定位到第一个位置不小于 target 的包，没有位置的包(-1)不参与比较
// target <= 0 时回到文件开头
func (d *Demuxer) SeekByte(min, target, max int64) error {
	if target <= 0 {
		d.cursor = 0
		return nil
	}
	if i := d.firstAtOrAfter(target); i >= 0 && d.src.Packets[i].Pos <= max {
		d.cursor = i
		return nil
	}
	if i := d.firstAtOrAfter(min); i >= 0 && d.src.Packets[i].Pos <= max {
		d.cursor = i
		return nil
	}
	return fmt.Errorf("%w: [%d,%d,%d]", codec.ErrSeekFailed, min, target, max)
}

func (d *Demuxer) firstAtOrAfter(pos int64) int {
	for i, p := range d.src.Packets {
		if p.Pos >= 0 && p.Pos >= pos {
			return i
		}
	}
	return -1
}

func (d *Demuxer) Close() error {
	d.closed = true
	return nil
}

// ParsePicture 实现 codec.PictureParser
func (d *Demuxer) ParsePicture(pkt *codec.Packet) codec.PictureType {
	return pictureOf(pkt.Data)
}

func pictureOf(data []byte) codec.PictureType {
	if len(data) == 0 {
		return codec.PictureUnknown
	}
	switch data[0] {
	case 'I':
		return codec.PictureI
	case 'P':
		return codec.PictureP
	case 'B':
		return codec.PictureB
	}
	return codec.PictureUnknown
}

// Decoder 按 PTS 最小堆模拟解码器的重排序输出
type Decoder struct {
	depth         int
	width, height int
	pending       frameHeap
	flushed       bool
	closed        bool
	// Sent 送入的包数量
	Sent int
}

func (d *Decoder) SendPacket(_ context.Context, pkt *codec.Packet) error {
	if d.flushed {
		return codec.ErrFlushed
	}
	d.Sent++
	heap.Push(&d.pending, &codec.Frame{
		PTS:      pkt.PTS,
		Picture:  pictureOf(pkt.Data),
		Keyframe: pkt.Keyframe,
		Width:    d.width,
		Height:   d.height,
		Data:     append([]byte(nil), pkt.Data...),
	})
	return nil
}

func (d *Decoder) ReceiveFrame(_ context.Context) (*codec.Frame, error) {
	if d.pending.Len() == 0 {
		if d.flushed {
			return nil, io.EOF
		}
		return nil, codec.ErrNeedMoreInput
	}
	if !d.flushed && d.pending.Len() <= d.depth {
		return nil, codec.ErrNeedMoreInput
	}
	return heap.Pop(&d.pending).(*codec.Frame), nil
}

func (d *Decoder) Flush(_ context.Context) error {
	if d.flushed {
		return codec.ErrFlushed
	}
	d.flushed = true
	return nil
}

func (d *Decoder) Close() error {
	d.closed = true
	return nil
}

type frameHeap []*codec.Frame

func (h frameHeap) Len() int           { return len(h) }
func (h frameHeap) Less(i, j int) bool { return h[i].PTS < h[j].PTS }
func (h frameHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *frameHeap) Push(x any)        { *h = append(*h, x.(*codec.Frame)) }
func (h *frameHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Encoder 每送入一帧立即输出一个包，GOP 内第一帧为关键帧
type Encoder struct {
	engine  *Engine
	params  codec.EncoderParams
	out     []*codec.Packet
	count   int
	flushed bool
}

func (e *Encoder) SendFrame(_ context.Context, f *codec.Frame) error {
	if e.flushed {
		return codec.ErrFlushed
	}
	e.engine.mu.Lock()
	e.engine.SentToEncoder = append(e.engine.SentToEncoder, *f)
	e.engine.mu.Unlock()

	key := e.count == 0 || (e.params.GOPSize > 0 && e.count%e.params.GOPSize == 0)
	typ := byte('P')
	if key {
		typ = 'I'
	}
	e.count++
	e.out = append(e.out, &codec.Packet{
		Data:     []byte{typ, 'e'},
		PTS:      f.PTS,
		Duration: e.params.FrameDuration,
		Pos:      -1,
		Keyframe: key,
	})
	return nil
}

func (e *Encoder) ReceivePacket(_ context.Context) (*codec.Packet, error) {
	if len(e.out) == 0 {
		if e.flushed {
			return nil, io.EOF
		}
		return nil, codec.ErrNeedMoreInput
	}
	p := e.out[0]
	e.out = e.out[1:]
	return p, nil
}

func (e *Encoder) Flush(_ context.Context) error {
	if e.flushed {
		return codec.ErrFlushed
	}
	e.flushed = true
	return nil
}

func (e *Encoder) Close() error { return nil }

// Muxer 记录写入的包
type Muxer struct {
	Streams       []codec.StreamParams
	Options       codec.MuxerOptions
	Packets       []codec.Packet
	HeaderWritten bool
	TrailerDone   bool
	Closed        bool
}

func (m *Muxer) WriteHeader() error {
	m.HeaderWritten = true
	return nil
}

func (m *Muxer) WritePacket(pkt *codec.Packet) error {
	if !m.HeaderWritten {
		return fmt.Errorf("header not written")
	}
	m.Packets = append(m.Packets, *pkt)
	return nil
}

func (m *Muxer) WriteTrailer() error {
	m.TrailerDone = true
	return nil
}

func (m *Muxer) Close() error {
	m.Closed = true
	return nil
}

// StreamPackets 按写入顺序返回某路流的包
func (m *Muxer) StreamPackets(stream int) []codec.Packet {
	out := make([]codec.Packet, 0, len(m.Packets))
	for _, p := range m.Packets {
		if p.Stream == stream {
			out = append(out, p)
		}
	}
	return out
}
