// Package codec 定义剪辑引擎与编解码/封装实现之间的端口
// 核心算法只依赖这里的接口，具体实现由 adapter 注入
package codec

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNeedMoreInput 当前没有可取的输出，需要继续送入数据
	ErrNeedMoreInput = errors.New("codec: need more input")
	// ErrDemux 打开或解析容器失败
	ErrDemux = errors.New("codec: demux failed")
	// ErrSeekFailed 按字节定位失败
	ErrSeekFailed = errors.New("codec: seek failed")
	// ErrFlushed 已经 flush 过的上下文不再接受输入
	ErrFlushed = errors.New("codec: context already flushed")
)

// MediaKind 流类型
type MediaKind int

const (
	KindUnknown MediaKind = iota
	KindVideo
	KindAudio
	KindSubtitle
	KindData
)

func (k MediaKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSubtitle:
		return "subtitle"
	case KindData:
		return "data"
	}
	return "unknown"
}

// PictureType 帧类型
type PictureType int8

const (
	PictureUnknown PictureType = iota
	PictureI
	PictureP
	PictureB
)

func (p PictureType) String() string {
	switch p {
	case PictureI:
		return "I"
	case PictureP:
		return "P"
	case PictureB:
		return "B"
	}
	return "?"
}

// StreamParams 描述一路基本流
type StreamParams struct {
	Index         int
	Kind          MediaKind
	Codec         string
	TimeBase      Rational
	Width, Height int
	SampleRate    int
	Channels      int
	// FrameDuration 标称帧时长，单位 TimeBase
	FrameDuration int64
	// Extradata 容器层的样本描述，原样写回输出
	Extradata []byte
	// ParameterSets H.264 的 SPS/PPS，解码 Annex-B 输入时需要
	ParameterSets [][]byte
	LengthSize    int
	Default       bool
	Metadata      map[string]string
}

// Packet 压缩数据包，时间戳单位为所属流的 TimeBase
type Packet struct {
	Stream   int
	Data     []byte
	PTS      int64
	DTS      int64
	Duration int64
	// Pos 包在文件中的字节偏移，未知时为 -1
	Pos      int64
	Keyframe bool
	Corrupt  bool
}

// Frame 解码后的图像，Data 为 yuv420p 平面数据
type Frame struct {
	PTS      int64
	Picture  PictureType
	Keyframe bool
	Width    int
	Height   int
	Data     []byte
}

// Demuxer 解封装器，同一时刻只有一个读游标
type Demuxer interface {
	Streams() []StreamParams
	// Size 文件大小（字节）
	Size() int64
	// ReadPacket 按文件顺序返回下一个包，结束时返回 io.EOF
	ReadPacket(ctx context.Context) (*Packet, error)
	// SeekByte 将读游标移动到 [min,max] 内最接近 target 的包
	SeekByte(min, target, max int64) error
	Close() error
}

// PictureParser 流式解析器，无需解码即可得到帧类型
// Demuxer 可以选择实现该接口
type PictureParser interface {
	ParsePicture(pkt *Packet) PictureType
}

// DecoderOptions 解码器参数
type DecoderOptions struct {
	// ReorderDepth 重排序缓冲深度，一般取最大连续 B 帧数
	ReorderDepth int
	// SkipPixels 只需要帧类型与时间戳，不输出像素
	SkipPixels bool
}

// Decoder 解码上下文，状态为 idle -> fed -> flush -> closed
// 每次送入数据后都应先把输出取空，flush 只能调用一次
type Decoder interface {
	SendPacket(ctx context.Context, pkt *Packet) error
	// ReceiveFrame 返回 ErrNeedMoreInput 表示需要继续送包，flush 后取空时返回 io.EOF
	ReceiveFrame(ctx context.Context) (*Frame, error)
	Flush(ctx context.Context) error
	Close() error
}

// EncoderParams 编码参数
type EncoderParams struct {
	Codec         string
	Width, Height int
	TimeBase      Rational
	FrameDuration int64
	BitRate       int64
	GOPSize       int
	MaxBFrames    int
	KeyintMin     int
}

// Encoder 编码上下文，状态机与 Decoder 相同
type Encoder interface {
	SendFrame(ctx context.Context, frame *Frame) error
	ReceivePacket(ctx context.Context) (*Packet, error)
	Flush(ctx context.Context) error
	Close() error
}

// MuxerOptions 封装参数
type MuxerOptions struct {
	// MaxInterleaveDelta 各路流之间允许的最大交织间隔
	MaxInterleaveDelta time.Duration
}

// Muxer 封装器，同一路流必须按 DTS 非递减顺序写入
type Muxer interface {
	WriteHeader() error
	WritePacket(pkt *Packet) error
	WriteTrailer() error
	Close() error
}

// Engine 编解码引擎
type Engine interface {
	Open(ctx context.Context, path string) (Demuxer, error)
	NewDecoder(ctx context.Context, params StreamParams, opts DecoderOptions) (Decoder, error)
	NewEncoder(ctx context.Context, params EncoderParams) (Encoder, error)
	NewMuxer(path string, streams []StreamParams, opts MuxerOptions) (Muxer, error)
}
