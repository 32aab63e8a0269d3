package media

import (
	"context"
	"testing"

	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/internal/core/codec/codectest"
)

var (
	videoTB = codec.NewRational(1, 25)
	audioTB = codec.NewRational(1, 48000)
)

const audioDur = 1024

// newTestSource 按帧类型串构造内存文件并打开
func newTestSource(t *testing.T, pattern string, withAudio bool) (*codectest.Engine, *Source) {
	t.Helper()
	e := codectest.NewEngine()
	e.Add("in.mp4", newTestFile(pattern, withAudio))
	s, err := Open(context.Background(), e, "src", "in.mp4")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return e, s
}

func newTestFile(pattern string, withAudio bool) *codectest.Source {
	streams := []codec.StreamParams{codectest.VideoStream(0, videoTB, 1)}
	video := codectest.VideoPackets(0, pattern, 1)
	if !withAudio {
		return &codectest.Source{Streams: streams, Packets: video}
	}
	streams = append(streams, codectest.AudioStream(1, audioTB, audioDur))
	n := len(pattern) * 48000 / 25 / audioDur
	audio := codectest.AudioPackets(1, n, 0, audioDur)
	return &codectest.Source{Streams: streams, Packets: codectest.Interleave(streams, video, audio)}
}
