package ffwork

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/pkg/mp4"
)

// sentPacket 送入解码器的包，用于给输出帧回填时间戳与帧类型
type sentPacket struct {
	pts      int64
	picture  codec.PictureType
	keyframe bool
}

// Decoder 缓存送入的包，flush 时一次性交给 ffmpeg 解码
// ffmpeg 按显示顺序输出帧，第 k 帧对应 PTS 第 k 小的包
type Decoder struct {
	cfg    Config
	params codec.StreamParams
	opts   codec.DecoderOptions

	annexb    bytes.Buffer
	sent      []sentPacket
	flushed   bool
	frameSize int

	proc   *process
	reader *bufio.Reader
	next   int
}

var _ codec.Decoder = (*Decoder)(nil)

func NewDecoder(cfg Config, params codec.StreamParams, opts codec.DecoderOptions) (*Decoder, error) {
	if params.Codec != "h264" {
		return nil, fmt.Errorf("ffwork: unsupported codec %q", params.Codec)
	}
	if params.Width <= 0 || params.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", params.Width, params.Height)
	}
	if params.LengthSize == 0 {
		params.LengthSize = 4
	}
	return &Decoder{
		cfg:       cfg,
		params:    params,
		opts:      opts,
		frameSize: params.Width * params.Height * 3 / 2,
	}, nil
}

// FrameSize yuv420p 一帧的字节数
func (d *Decoder) FrameSize() int {
	return d.frameSize
}

// SendPacket 样本转为 Annex-B 格式缓存，关键帧前插入 SPS/PPS
func (d *Decoder) SendPacket(ctx context.Context, pkt *codec.Packet) error {
	if d.flushed {
		return codec.ErrFlushed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.annexb.Write(mp4.ToAnnexB(nil, pkt.Data, d.params.LengthSize, d.params.ParameterSets, pkt.Keyframe))
	typ := mp4.PictureType(pkt.Data, d.params.LengthSize)
	if typ == codec.PictureUnknown && pkt.Keyframe {
		typ = codec.PictureI
	}
	d.sent = append(d.sent, sentPacket{pts: pkt.PTS, picture: typ, keyframe: pkt.Keyframe})
	return nil
}

// Flush 结束输入，需要像素时启动 ffmpeg
func (d *Decoder) Flush(ctx context.Context) error {
	if d.flushed {
		return codec.ErrFlushed
	}
	d.flushed = true
	sort.SliceStable(d.sent, func(i, j int) bool { return d.sent[i].pts < d.sent[j].pts })
	if d.opts.SkipPixels || len(d.sent) == 0 {
		return nil
	}
	return d.startFFmpeg(ctx)
}

func (d *Decoder) buildFFmpegArgs() []string {
	args := baseArgs(d.cfg.Threads)
	if d.cfg.HWAccel != "" {
		args = append(args, "-hwaccel", d.cfg.HWAccel)
	}
	return append(args,
		"-f", "h264",
		"-i", "pipe:0",
		"-fps_mode", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"-vf", fmt.Sprintf("scale=%d:%d", d.params.Width, d.params.Height),
		"pipe:1",
	)
}

func (d *Decoder) startFFmpeg(ctx context.Context) error {
	d.proc = newProcess("ffmpeg decoder", d.cfg.bin(), d.buildFFmpegArgs())
	if err := d.proc.start(true, true); err != nil {
		return err
	}
	data := d.annexb.Bytes()
	d.proc.wg.Go(func() {
		defer d.proc.stdin.Close()
		if _, err := d.proc.stdin.Write(data); err != nil && !isPipeClosed(err) {
			slog.WarnContext(ctx, "write to ffmpeg decoder failed", "err", err)
		}
	})
	d.reader = bufio.NewReaderSize(d.proc.stdout, d.frameSize*2)
	return nil
}

// ReceiveFrame flush 之前没有输出，之后按显示顺序逐帧返回
func (d *Decoder) ReceiveFrame(ctx context.Context) (*codec.Frame, error) {
	if !d.flushed {
		return nil, codec.ErrNeedMoreInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.next >= len(d.sent) {
		return nil, io.EOF
	}
	sp := d.sent[d.next]
	frame := codec.Frame{
		PTS:      sp.pts,
		Picture:  sp.picture,
		Keyframe: sp.keyframe,
		Width:    d.params.Width,
		Height:   d.params.Height,
	}
	if d.opts.SkipPixels {
		d.next++
		return &frame, nil
	}

	frame.Data = make([]byte, d.frameSize)
	if _, err := io.ReadFull(d.reader, frame.Data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if werr := d.proc.wait(); werr != nil {
				return nil, werr
			}
			slog.WarnContext(ctx, "ffmpeg decoder output fewer frames", "expect", len(d.sent), "got", d.next)
			d.next = len(d.sent)
			return nil, io.EOF
		}
		return nil, d.proc.wrap(err)
	}
	d.next++
	if d.next == len(d.sent) {
		_, _ = io.Copy(io.Discard, d.reader)
		if err := d.proc.wait(); err != nil {
			return nil, err
		}
	}
	return &frame, nil
}

func (d *Decoder) Close() error {
	if d.proc == nil {
		return nil
	}
	return d.proc.stop()
}

// Log ffmpeg 最近的输出
func (d *Decoder) Log() []string {
	if d.proc == nil {
		return nil
	}
	return d.proc.Log()
}
