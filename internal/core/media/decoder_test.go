package media

import (
	"context"
	"errors"
	"testing"

	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/internal/core/codec/codectest"
)

func TestExtractEveryFrame(t *testing.T) {
	pattern := codectest.GOPPattern(48, 12, "IBBBB")
	_, s := newTestSource(t, pattern, true)

	for i := 0; i < s.FrameCount(); i++ {
		f, err := s.Extract(context.Background(), i)
		if err != nil {
			t.Fatalf("extract %d: %s", i, err)
		}
		if f.PTS != int64(i) {
			t.Errorf("extract %d: pts %d", i, f.PTS)
		}
		// 内存解码器把包数据原样作为帧数据，第二个字节是显示序号
		if len(f.Data) < 2 || int(f.Data[1]) != i || f.Data[0] != pattern[i] {
			t.Errorf("extract %d: data %v", i, f.Data)
		}
	}
}

func TestExtractOutOfRange(t *testing.T) {
	_, s := newTestSource(t, "IPPP", false)
	if _, err := s.Extract(context.Background(), 4); !errors.Is(err, ErrFrameRange) {
		t.Fatalf("expect ErrFrameRange, got %v", err)
	}
	if _, err := s.Extract(context.Background(), -1); !errors.Is(err, ErrFrameRange) {
		t.Fatalf("expect ErrFrameRange, got %v", err)
	}
}

func TestExtractAfterClose(t *testing.T) {
	_, s := newTestSource(t, "IPPP", false)
	_ = s.Close()
	if _, err := s.Extract(context.Background(), 1); !errors.Is(err, ErrDemux) {
		t.Fatalf("expect ErrDemux, got %v", err)
	}
}

func TestDecodeRange(t *testing.T) {
	e, s := newTestSource(t, codectest.GOPPattern(48, 12, "IBBBB"), true)

	var got []int64
	s.Lock()
	n, err := s.DecodeRange(context.Background(), 5, 40, func(f *codec.Frame) error {
		got = append(got, f.PTS)
		return nil
	})
	s.Unlock()
	if err != nil {
		t.Fatal(err)
	}
	if n != 36 || len(got) != 36 {
		t.Fatalf("expect 36 frames, got %d/%d", n, len(got))
	}
	for i, pts := range got {
		if pts != int64(5+i) {
			t.Fatalf("frame %d pts %d, expect %d", i, pts, 5+i)
		}
	}
	if e.Decoders != 1 {
		t.Errorf("expect one decoder, got %d", e.Decoders)
	}
}

func TestDecodeRangeCallbackError(t *testing.T) {
	_, s := newTestSource(t, "IPPPPPPP", false)
	stop := errors.New("stop")
	s.Lock()
	defer s.Unlock()
	n, err := s.DecodeRange(context.Background(), 0, 7, func(f *codec.Frame) error {
		if f.PTS == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expect callback error, got %v", err)
	}
	if n != 3 {
		t.Errorf("expect 3 frames delivered, got %d", n)
	}
}
