package codec

import (
	"testing"
	"time"
)

func TestRescale(t *testing.T) {
	cases := []struct {
		v        int64
		from, to Rational
		want     int64
	}{
		{v: 3003, from: NewRational(1, 30000), to: NewRational(1, 90000), want: 9009},
		{v: 1, from: NewRational(1, 3), to: NewRational(1, 2), want: 1},   // 0.666 -> 1
		{v: 1, from: NewRational(1, 4), to: NewRational(1, 2), want: 1},   // 0.5 -> 1
		{v: -1, from: NewRational(1, 4), to: NewRational(1, 2), want: -1}, // -0.5 -> -1
		{v: 1024, from: NewRational(1, 48000), to: NewRational(1, 1000), want: 21},
		{v: 1 << 40, from: NewRational(1, 90000), to: NewRational(1, 1_000_000_000), want: (1<<40)*100000/9 + 1},
		{v: 7, from: NewRational(1, 25), to: NewRational(1, 25), want: 7},
	}
	for _, c := range cases {
		if got := Rescale(c.v, c.from, c.to); got != c.want {
			t.Errorf("Rescale(%d, %s, %s) = %d, want %d", c.v, c.from, c.to, got, c.want)
		}
	}
}

func TestRationalDuration(t *testing.T) {
	tb := NewRational(1, 90000)
	if got := tb.Duration(90000); got != time.Second {
		t.Fatalf("Duration = %v", got)
	}
	if got := tb.Seconds(45000); got != 0.5 {
		t.Fatalf("Seconds = %v", got)
	}
}
