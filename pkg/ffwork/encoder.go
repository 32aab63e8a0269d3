package ffwork

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/pkg/mp4"
)

// Encoder 原始帧经 stdin 交给 ffmpeg 编码到临时 mp4，flush 时读回压缩包
// 输出包的 PTS 按显示顺序一一对应送入帧的 PTS
// 关键帧内带 SPS/PPS，样本为 4 字节长度前缀
type Encoder struct {
	cfg       Config
	params    codec.EncoderParams
	frameSize int
	path      string

	proc    *process
	sent    []int64
	out     []*codec.Packet
	flushed bool
}

var _ codec.Encoder = (*Encoder)(nil)

func NewEncoder(cfg Config, params codec.EncoderParams) (*Encoder, error) {
	if params.Codec != "h264" {
		return nil, fmt.Errorf("ffwork: unsupported codec %q", params.Codec)
	}
	if params.Width <= 0 || params.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", params.Width, params.Height)
	}
	if !params.TimeBase.Valid() || params.FrameDuration <= 0 {
		return nil, fmt.Errorf("invalid frame rate: %s * %d", params.TimeBase, params.FrameDuration)
	}
	dir := cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Encoder{
		cfg:       cfg,
		params:    params,
		frameSize: params.Width * params.Height * 3 / 2,
		path:      filepath.Join(dir, "enc-"+uuid.NewString()+".mp4"),
	}, nil
}

// frameRate 帧率 = 1 / (FrameDuration * TimeBase)
func (e *Encoder) frameRate() string {
	tb := e.params.TimeBase
	return strconv.FormatInt(tb.Den, 10) + "/" + strconv.FormatInt(tb.Num*e.params.FrameDuration, 10)
}

func (e *Encoder) buildFFmpegArgs() []string {
	p := e.params
	args := baseArgs(e.cfg.Threads)
	args = append(args, "-y",
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"-s", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-framerate", e.frameRate(),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-bf", strconv.Itoa(p.MaxBFrames),
	)
	if p.BitRate > 0 {
		args = append(args, "-b:v", strconv.FormatInt(p.BitRate, 10))
	}
	if p.GOPSize > 0 {
		args = append(args, "-g", strconv.Itoa(p.GOPSize))
	}
	if p.KeyintMin > 0 {
		args = append(args, "-keyint_min", strconv.Itoa(p.KeyintMin))
	}
	// 参数集写入每个关键帧，拼接到源文件的码流中时不依赖 avcC
	return append(args,
		"-x264-params", "repeat-headers=1",
		"-an",
		"-f", "mp4",
		e.path,
	)
}

// SendFrame 第一帧到达时启动 ffmpeg
func (e *Encoder) SendFrame(ctx context.Context, f *codec.Frame) error {
	if e.flushed {
		return codec.ErrFlushed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(f.Data) != e.frameSize {
		return fmt.Errorf("incomplete frame: %d != %d", len(f.Data), e.frameSize)
	}
	if e.proc == nil {
		e.proc = newProcess("ffmpeg encoder", e.cfg.bin(), e.buildFFmpegArgs())
		if err := e.proc.start(true, false); err != nil {
			return err
		}
	}
	if _, err := e.proc.stdin.Write(f.Data); err != nil {
		if isPipeClosed(err) {
			_ = e.proc.stdin.Close()
			if werr := e.proc.wait(); werr != nil {
				return werr
			}
		}
		return e.proc.wrap(err)
	}
	e.sent = append(e.sent, f.PTS)
	return nil
}

// ReceivePacket flush 之前没有输出
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

// Flush 关闭 stdin 等待编码结束，读回临时文件中的压缩包
func (e *Encoder) Flush(ctx context.Context) error {
	if e.flushed {
		return codec.ErrFlushed
	}
	e.flushed = true
	if e.proc == nil {
		return nil
	}
	if err := e.proc.stdin.Close(); err != nil {
		return e.proc.wrap(err)
	}
	if err := e.proc.wait(); err != nil {
		return err
	}
	defer os.Remove(e.path)

	pkts, err := readPackets(ctx, e.path)
	if err != nil {
		return err
	}
	if len(pkts) != len(e.sent) {
		return fmt.Errorf("ffmpeg encoder output %d packets, expect %d", len(pkts), len(e.sent))
	}

	// 编码器内部的时间戳只用来确定显示顺序
	order := make([]int64, 0, len(pkts))
	for _, p := range pkts {
		order = append(order, p.PTS)
	}
	slices.Sort(order)
	sent := slices.Clone(e.sent)
	slices.Sort(sent)
	for _, p := range pkts {
		rank, _ := slices.BinarySearch(order, p.PTS)
		p.PTS = sent[rank]
		p.DTS = p.PTS
		p.Duration = e.params.FrameDuration
		p.Stream = 0
		p.Pos = -1
	}
	e.out = pkts
	slog.DebugContext(ctx, "ffmpeg encoder flushed", "frames", len(e.sent), "path", e.path)
	return nil
}

func readPackets(ctx context.Context, path string) ([]*codec.Packet, error) {
	r, err := mp4.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	video := -1
	for i, st := range r.Streams() {
		if st.Kind == codec.KindVideo {
			video = i
			break
		}
	}
	if video < 0 {
		return nil, errors.New("ffmpeg encoder output has no video")
	}

	var out []*codec.Packet
	for {
		p, err := r.ReadPacket(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if p.Stream == video {
			out = append(out, p)
		}
	}
}

// Close 未 flush 时结束 ffmpeg 并删除临时文件
func (e *Encoder) Close() error {
	if e.proc == nil {
		return nil
	}
	if !e.flushed {
		_ = e.proc.stdin.Close()
	}
	err := e.proc.stop()
	if rerr := os.Remove(e.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		slog.Warn("remove encoder temp file failed", "path", e.path, "err", rerr)
	}
	return err
}

// Log ffmpeg 最近的输出
func (e *Encoder) Log() []string {
	if e.proc == nil {
		return nil
	}
	return e.proc.Log()
}
