package media

import (
	"testing"

	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/internal/core/codec/codectest"
)

func TestLocator(t *testing.T) {
	_, s := newTestSource(t, codectest.GOPPattern(48, 12, "IBBBB"), false)
	v := s.VideoIndex()

	tests := []struct {
		name string
		fn   func(int) int
		in   int
		want int
	}{
		{"keyframe before 5", v.KeyframeAtOrBefore, 5, 0},
		{"keyframe before 12", v.KeyframeAtOrBefore, 12, 12},
		{"keyframe before past end", v.KeyframeAtOrBefore, 100, 36},
		{"keyframe before negative", v.KeyframeAtOrBefore, -1, -1},
		{"keyframe after 5", v.KeyframeAtOrAfter, 5, 12},
		{"keyframe after 36", v.KeyframeAtOrAfter, 36, 36},
		{"keyframe after 37", v.KeyframeAtOrAfter, 37, -1},
		{"keyframe after negative", v.KeyframeAtOrAfter, -3, 0},
		{"anchor before 40", v.AnchorAtOrBefore, 40, 36},
		{"anchor before 41", v.AnchorAtOrBefore, 41, 41},
		{"anchor before 4", v.AnchorAtOrBefore, 4, 0},
		{"anchor after 1", v.AnchorAtOrAfter, 1, 5},
		{"anchor after 47", v.AnchorAtOrAfter, 47, 47},
		{"anchor after past end", v.AnchorAtOrAfter, 48, -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.fn(tc.in); got != tc.want {
				t.Errorf("expect %d, got %d", tc.want, got)
			}
		})
	}
}

func TestLocatorProperties(t *testing.T) {
	_, s := newTestSource(t, codectest.GOPPattern(60, 15, "IBBPBBP"), false)
	v := s.VideoIndex()

	for i := 0; i < v.Len(); i++ {
		k := v.KeyframeAtOrBefore(i)
		if k < 0 || k > i || !v.Records[k].Keyframe {
			t.Fatalf("keyframe at or before %d returned %d", i, k)
		}
		if a := v.AnchorAtOrAfter(i); a >= 0 && v.Records[a].Picture == codec.PictureB {
			t.Fatalf("anchor at or after %d returned B picture %d", i, a)
		}
		if a := v.AnchorAtOrBefore(i); a < 0 || a > i || !v.Records[a].IsAnchor() {
			t.Fatalf("anchor at or before %d returned %d", i, a)
		}
	}
}

func TestPacketAtOrAfter(t *testing.T) {
	_, s := newTestSource(t, "IPPPPPPPPP", true)
	v := s.VideoIndex()
	if i := v.PacketAtOrAfter(3); i != 3 {
		t.Errorf("expect 3, got %d", i)
	}
	if i := v.PacketAtOrAfter(-10); i != 0 {
		t.Errorf("expect 0, got %d", i)
	}
	if i := v.PacketAtOrAfter(10); i != -1 {
		t.Errorf("beyond the last packet expect -1, got %d", i)
	}

	a := s.Indexes[1]
	// 1000 不是 1024 的整数倍，落在第二个包上
	if i := a.PacketAtOrAfter(1000); i != 1 {
		t.Errorf("audio expect 1, got %d", i)
	}
	if _, ok := a.Record(-1); ok {
		t.Error("record -1 should not exist")
	}
}
