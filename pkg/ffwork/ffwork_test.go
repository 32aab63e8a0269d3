package ffwork

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/pkg/mp4"
)

func TestDecoderSkipPixels(t *testing.T) {
	params := codec.StreamParams{Kind: codec.KindVideo, Codec: "h264", Width: 64, Height: 48, TimeBase: codec.NewRational(1, 25)}
	dec, err := NewDecoder(Config{}, params, codec.DecoderOptions{SkipPixels: true})
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	sample := func(nalu ...byte) []byte { return mp4.ToLengthPrefixed([][]byte{nalu}, 4) }
	// 解码顺序 I P B，显示顺序 I B P
	pkts := []codec.Packet{
		{Data: sample(0x65, 0x88, 0x80), PTS: 0, Keyframe: true},
		{Data: sample(0x41, 0xC0, 0x00, 0x00), PTS: 2},
		{Data: sample(0x01, 0xA0, 0x00, 0x00), PTS: 1},
	}
	ctx := context.Background()
	for i := range pkts {
		if err := dec.SendPacket(ctx, &pkts[i]); err != nil {
			t.Fatal(err)
		}
		if _, err := dec.ReceiveFrame(ctx); !errors.Is(err, codec.ErrNeedMoreInput) {
			t.Fatalf("expect ErrNeedMoreInput before flush, got %v", err)
		}
	}
	if err := dec.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := dec.Flush(ctx); !errors.Is(err, codec.ErrFlushed) {
		t.Fatalf("expect ErrFlushed, got %v", err)
	}
	if err := dec.SendPacket(ctx, &pkts[0]); !errors.Is(err, codec.ErrFlushed) {
		t.Fatalf("expect ErrFlushed, got %v", err)
	}

	want := []codec.PictureType{codec.PictureI, codec.PictureB, codec.PictureP}
	for i, typ := range want {
		f, err := dec.ReceiveFrame(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if f.PTS != int64(i) || f.Picture != typ || f.Data != nil {
			t.Fatalf("frame %d: pts %d picture %s", i, f.PTS, f.Picture)
		}
	}
	if _, err := dec.ReceiveFrame(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expect EOF, got %v", err)
	}
}

func TestNewRejectsUnsupported(t *testing.T) {
	if _, err := NewDecoder(Config{}, codec.StreamParams{Codec: "hevc", Width: 64, Height: 48}, codec.DecoderOptions{}); err == nil {
		t.Fatal("expect error for hevc decoder")
	}
	if _, err := NewDecoder(Config{}, codec.StreamParams{Codec: "h264"}, codec.DecoderOptions{}); err == nil {
		t.Fatal("expect error for zero resolution")
	}
	params := codec.EncoderParams{Codec: "h264", Width: 64, Height: 48, TimeBase: codec.NewRational(1, 25)}
	if _, err := NewEncoder(Config{TempDir: t.TempDir()}, params); err == nil {
		t.Fatal("expect error for zero frame duration")
	}
}

func TestEncoderFrameRate(t *testing.T) {
	enc, err := NewEncoder(Config{TempDir: t.TempDir()}, codec.EncoderParams{
		Codec: "h264", Width: 64, Height: 48, TimeBase: codec.NewRational(1, 90000), FrameDuration: 3003,
	})
	if err != nil {
		t.Fatal(err)
	}
	if r := enc.frameRate(); r != "90000/3003" {
		t.Fatalf("frame rate %s", r)
	}
	// 没有送入帧时 flush 不启动 ffmpeg
	ctx := context.Background()
	if err := enc.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := enc.ReceivePacket(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expect EOF, got %v", err)
	}
}

// TestEncodeDecode 需要安装带 libx264 的 ffmpeg
func TestEncodeDecode(t *testing.T) {
	if !HasEncoder("", "libx264") {
		t.Skip("跳过测试：需要带 libx264 的 ffmpeg")
	}
	const (
		width, height = 64, 48
		frames        = 30
	)
	ctx := context.Background()
	dir := t.TempDir()
	tb := codec.NewRational(1, 25)

	enc, err := NewEncoder(Config{TempDir: dir}, codec.EncoderParams{
		Codec: "h264", Width: width, Height: height, TimeBase: tb, FrameDuration: 1,
		BitRate: 200_000, GOPSize: 12, MaxBFrames: 2, KeyintMin: 12,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()

	size := width * height * 3 / 2
	for i := range frames {
		data := make([]byte, size)
		for j := range width * height {
			data[j] = byte(i*8 + j%width)
		}
		for j := width * height; j < size; j++ {
			data[j] = 128
		}
		if err := enc.SendFrame(ctx, &codec.Frame{PTS: int64(100 + i), Width: width, Height: height, Data: data}); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	var pkts []*codec.Packet
	for {
		p, err := enc.ReceivePacket(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		pkts = append(pkts, p)
	}
	if len(pkts) != frames {
		t.Fatalf("expect %d packets, got %d", frames, len(pkts))
	}
	if !pkts[0].Keyframe || pkts[0].PTS != 100 {
		t.Fatalf("first packet %+v", pkts[0])
	}
	seen := map[int64]bool{}
	for _, p := range pkts {
		seen[p.PTS] = true
	}
	for i := range frames {
		if !seen[int64(100+i)] {
			t.Fatalf("pts %d missing", 100+i)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("temp file not removed: %d entries", len(entries))
	}

	dec, err := NewDecoder(Config{}, codec.StreamParams{
		Kind: codec.KindVideo, Codec: "h264", Width: width, Height: height, TimeBase: tb, LengthSize: 4,
	}, codec.DecoderOptions{ReorderDepth: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	for _, p := range pkts {
		if err := dec.SendPacket(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	if err := dec.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	var got int
	for {
		f, err := dec.ReceiveFrame(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if f.PTS != int64(100+got) || len(f.Data) != size {
			t.Fatalf("frame %d: pts %d size %d", got, f.PTS, len(f.Data))
		}
		got++
	}
	if got != frames {
		t.Fatalf("expect %d frames, got %d", frames, got)
	}
}
