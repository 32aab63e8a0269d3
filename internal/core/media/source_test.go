package media

import (
	"testing"

	"github.com/gowvp/smartcut/internal/core/codec"
)

func TestOffsetBracketVideoOnly(t *testing.T) {
	// 无 B 帧时文件顺序即显示顺序，第 k 个包位于 100+102k
	_, s := newTestSource(t, "IPPPIPPPIPPP", false)
	pos := func(k int64) int64 { return 100 + 102*k }

	if s.Size != pos(12) {
		t.Fatalf("size expect %d, got %d", pos(12), s.Size)
	}

	before := []struct {
		pts  int64
		want int64
	}{
		{0, pos(0)},
		{3, pos(0)},
		{4, pos(4)},
		{6, pos(4)},
		{100, pos(8)},
	}
	for _, tc := range before {
		if got := s.OffsetBefore(tc.pts); got != tc.want {
			t.Errorf("offset before %d: expect %d, got %d", tc.pts, tc.want, got)
		}
	}

	after := []struct {
		pts  int64
		want int64
	}{
		{0, pos(4)},
		{1, pos(8)},
		{4, pos(8)},
		{6, s.Size},
		{100, s.Size},
	}
	for _, tc := range after {
		if got := s.OffsetAfter(tc.pts); got != tc.want {
			t.Errorf("offset after %d: expect %d, got %d", tc.pts, tc.want, got)
		}
	}
}

func TestOffsetBracketCoversAllStreams(t *testing.T) {
	_, s := newTestSource(t, "IBBPBBPBBPIBBPBBPBBPIBBPBBPBBP", true)
	v, a := s.VideoIndex(), s.Indexes[1]

	for i := 0; i < v.Len(); i++ {
		pts := v.Records[i].PTS
		lo, hi := s.OffsetBefore(pts), s.OffsetAfter(pts)
		if lo > hi {
			t.Fatalf("pts %d: bracket [%d,%d] inverted", pts, lo, hi)
		}
		k := v.KeyframeAtOrBefore(i)
		if lo > v.Records[k].Pos {
			t.Errorf("pts %d: lower bound %d after keyframe %d at %d", pts, lo, k, v.Records[k].Pos)
		}
		if j := a.PacketAtOrAfter(codec.Rescale(pts, v.TimeBase, a.TimeBase)); j >= 0 {
			if lo > a.Records[j].Pos || hi < a.Records[j].Pos {
				t.Errorf("pts %d: audio packet %d at %d outside [%d,%d]", pts, j, a.Records[j].Pos, lo, hi)
			}
		}
		if hi < v.Records[i].Pos {
			t.Errorf("pts %d: upper bound %d before the frame at %d", pts, hi, v.Records[i].Pos)
		}
	}
}
