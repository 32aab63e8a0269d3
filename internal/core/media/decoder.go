package media

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gowvp/smartcut/internal/core/codec"
)

// seekSlack 按字节定位时允许的偏差
const seekSlack = 64

// Extract 解码第 i 帧（显示顺序）用于预览
func (s *Source) Extract(ctx context.Context, i int) (*codec.Frame, error) {
	s.Lock()
	defer s.Unlock()

	var out *codec.Frame
	n, err := s.DecodeRange(ctx, i, i, func(f *codec.Frame) error {
		out = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n == 0 || out == nil {
		return nil, fmt.Errorf("%w: frame %d", ErrFrameNotFound, i)
	}
	return out, nil
}

// DecodeRange 解码显示顺序 [first,last] 的帧，按 PTS 顺序交给 fn
// 从 first 之前最近的关键帧开始送包，更早的输出帧被丢弃
// 调用方需持有 Source 锁
func (s *Source) DecodeRange(ctx context.Context, first, last int, fn func(*codec.Frame) error) (int, error) {
	v := s.VideoIndex()
	if first < 0 || last >= v.Len() || first > last {
		return 0, fmt.Errorf("%w: [%d,%d] of %d", ErrFrameRange, first, last, v.Len())
	}
	if s.demux == nil {
		return 0, fmt.Errorf("%w: source closed", ErrDemux)
	}
	k := v.KeyframeAtOrBefore(first)
	if k < 0 {
		return 0, fmt.Errorf("%w: no keyframe before frame %d", ErrFrameNotFound, first)
	}
	key := v.Records[k]
	firstPTS, lastPTS := v.Records[first].PTS, v.Records[last].PTS

	if err := s.demux.SeekByte(key.Pos-seekSlack, key.Pos, key.Pos+seekSlack); err != nil {
		return 0, err
	}

	dec, err := s.engine.NewDecoder(ctx, s.VideoParams(), codec.DecoderOptions{ReorderDepth: v.MaxBFrames})
	if err != nil {
		return 0, fmt.Errorf("new decoder: %w", err)
	}
	defer dec.Close()

	var (
		count int
		after int
	)
	drain := func() error {
		for {
			f, err := dec.ReceiveFrame(ctx)
			if errors.Is(err, codec.ErrNeedMoreInput) || errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("receive frame: %w", err)
			}
			if f.PTS < firstPTS || f.PTS > lastPTS {
				continue
			}
			count++
			if err := fn(f); err != nil {
				return err
			}
		}
	}

	for {
		pkt, err := s.demux.ReadPacket(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("%w: %w", ErrDemux, err)
		}
		if pkt.Stream != s.Video || pkt.PTS < key.PTS {
			continue
		}
		// 区间内的 B 帧紧跟在其后第一个锚点帧之后解码
		// 遇到区间之后的第二个锚点帧时，需要的包都已送入
		if pkt.PTS > lastPTS && s.isAnchor(pkt) {
			if after++; after >= 2 {
				break
			}
		}
		if err := dec.SendPacket(ctx, pkt); err != nil {
			return count, fmt.Errorf("send packet: %w", err)
		}
		if err := drain(); err != nil {
			return count, err
		}
	}

	if err := dec.Flush(ctx); err != nil {
		return count, fmt.Errorf("flush decoder: %w", err)
	}
	if err := drain(); err != nil {
		return count, err
	}
	return count, nil
}

// isAnchor 根据索引判断包是否为锚点帧
func (s *Source) isAnchor(pkt *codec.Packet) bool {
	if pkt.Keyframe {
		return true
	}
	v := s.VideoIndex()
	i := v.PacketAtOrAfter(pkt.PTS)
	return i >= 0 && v.Records[i].PTS == pkt.PTS && v.Records[i].IsAnchor()
}
