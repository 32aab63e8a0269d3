package smartcut

import (
	"errors"
	"testing"

	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/internal/core/codec/codectest"
)

func TestPlanSegment(t *testing.T) {
	_, src := newSource(t, codectest.GOPPattern(48, 12, "IBBBB"), true)

	cases := []struct {
		name       string
		in, out    int
		remuxStart int
		remuxEnd   int
		head, tail bool
		transcoded int
	}{
		{name: "middle", in: 5, out: 40, remuxStart: 12, remuxEnd: 36, head: true, tail: true, transcoded: 11},
		{name: "whole", in: 0, out: 47, remuxStart: 0, remuxEnd: 47},
		{name: "keyframe aligned", in: 12, out: 36, remuxStart: 12, remuxEnd: 36},
		{name: "end on anchor", in: 12, out: 30, remuxStart: 12, remuxEnd: 30},
		{name: "tail only", in: 24, out: 28, remuxStart: 24, remuxEnd: 24, tail: true, transcoded: 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := PlanSegment(Segment{Source: src, In: tc.in, Out: tc.out}, 1_000_000)
			if err != nil {
				t.Fatal(err)
			}
			if p.RemuxStart != tc.remuxStart || p.RemuxEnd != tc.remuxEnd {
				t.Fatalf("remux [%d,%d], expect [%d,%d]", p.RemuxStart, p.RemuxEnd, tc.remuxStart, tc.remuxEnd)
			}
			if p.HeadTranscode() != tc.head || p.TailTranscode() != tc.tail {
				t.Errorf("head %v tail %v", p.HeadTranscode(), p.TailTranscode())
			}
			if p.Transcoded() != tc.transcoded {
				t.Errorf("transcoded expect %d, got %d", tc.transcoded, p.Transcoded())
			}
			if p.Transcoded()+p.Remuxed() != tc.out-tc.in+1 {
				t.Errorf("transcoded %d + remuxed %d != %d", p.Transcoded(), p.Remuxed(), tc.out-tc.in+1)
			}
			if p.SmallCutFixed {
				t.Error("unexpected small cut fix")
			}
		})
	}
}

func TestPlanSegmentEncoderParams(t *testing.T) {
	_, src := newSource(t, codectest.GOPPattern(48, 12, "IBBBB"), false)

	p, err := PlanSegment(Segment{Source: src, In: 5, Out: 40}, 2_000_000)
	if err != nil {
		t.Fatal(err)
	}
	want := codec.EncoderParams{
		Codec:         "h264",
		Width:         64,
		Height:        48,
		TimeBase:      videoTB,
		FrameDuration: 1,
		BitRate:       2_000_000,
		GOPSize:       12,
		MaxBFrames:    4,
		KeyintMin:     12,
	}
	if p.Encoder != want {
		t.Fatalf("encoder params %+v, expect %+v", p.Encoder, want)
	}

	p, err = PlanSegment(Segment{Source: src, In: 5, Out: 40}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if p.Encoder.BitRate <= 0 {
		t.Fatalf("estimated bitrate %d", p.Encoder.BitRate)
	}
}

func TestPlanSmallCut(t *testing.T) {
	_, src := newSource(t, codectest.GOPPattern(48, 12, "IBBBB"), false)

	p, err := PlanSegment(Segment{Source: src, In: 13, Out: 15}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !p.SmallCutFixed {
		t.Fatal("expect small cut fix")
	}
	if p.RemuxStart != 16 || p.RemuxEnd != 15 {
		t.Fatalf("remux [%d,%d], expect [16,15]", p.RemuxStart, p.RemuxEnd)
	}
	if p.Remuxed() != 0 || p.Transcoded() != 3 {
		t.Errorf("remuxed %d transcoded %d", p.Remuxed(), p.Transcoded())
	}
	if !p.HeadTranscode() || p.TailTranscode() {
		t.Errorf("head %v tail %v", p.HeadTranscode(), p.TailTranscode())
	}
}

func TestPlanUnusedDTS(t *testing.T) {
	// GOP 末尾的 B 帧在下一个 I 帧之后解码，属于开放 GOP
	pattern := codectest.GOPPattern(36, 12, "IPPPPPPPPPBB")
	_, src := newSource(t, pattern, false)

	if mb := src.VideoIndex().MaxBFrames; mb != 2 {
		t.Fatalf("max bframes expect 2, got %d", mb)
	}
	p, err := PlanSegment(Segment{Source: src, In: 5, Out: 30}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if p.RemuxStart != 12 || p.RemuxEnd != 30 {
		t.Fatalf("remux [%d,%d], expect [12,30]", p.RemuxStart, p.RemuxEnd)
	}
	if p.UnusedDTS != 2 {
		t.Fatalf("unused dts expect 2, got %d", p.UnusedDTS)
	}

	// 封闭 GOP 没有需要跳过的 DTS
	_, closed := newSource(t, codectest.GOPPattern(36, 12, "IBBBB"), false)
	p, err = PlanSegment(Segment{Source: closed, In: 5, Out: 30}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if p.UnusedDTS != 0 {
		t.Fatalf("unused dts expect 0, got %d", p.UnusedDTS)
	}
}

func TestPlanInvalidCut(t *testing.T) {
	_, src := newSource(t, "IPPPPPPP", false)

	for _, seg := range []Segment{
		{Source: src, In: 5, Out: 3},
		{Source: src, In: -1, Out: 3},
		{Source: src, In: 0, Out: 8},
		{Source: nil, In: 0, Out: 1},
	} {
		if _, err := PlanSegment(seg, 0); !errors.Is(err, ErrInvalidCut) {
			t.Errorf("segment [%d,%d]: expect ErrInvalidCut, got %v", seg.In, seg.Out, err)
		}
	}
	if _, err := PlanTimeline(nil, 0); !errors.Is(err, ErrEmptyTimeline) {
		t.Errorf("expect ErrEmptyTimeline, got %v", err)
	}
	_, err := PlanTimeline([]Segment{{Source: src, In: 0, Out: 7}, {Source: src, In: 7, Out: 2}}, 0)
	if !errors.Is(err, ErrInvalidCut) {
		t.Errorf("expect ErrInvalidCut, got %v", err)
	}
}
