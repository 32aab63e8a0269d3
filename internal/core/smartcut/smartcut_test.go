package smartcut

import (
	"context"
	"testing"

	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/internal/core/codec/codectest"
	"github.com/gowvp/smartcut/internal/core/media"
)

var (
	videoTB = codec.NewRational(1, 25)
	audioTB = codec.NewRational(1, 48000)
)

const audioDur = 1024

// addFile 按帧类型串构造内存文件，视频帧时长为 1 个时间基单位
func addFile(e *codectest.Engine, path, pattern string, withAudio bool) {
	streams := []codec.StreamParams{codectest.VideoStream(0, videoTB, 1)}
	video := codectest.VideoPackets(0, pattern, 1)
	if !withAudio {
		e.Add(path, &codectest.Source{Streams: streams, Packets: video})
		return
	}
	streams = append(streams, codectest.AudioStream(1, audioTB, audioDur))
	n := len(pattern) * 48000 / 25 / audioDur
	audio := codectest.AudioPackets(1, n, 0, audioDur)
	e.Add(path, &codectest.Source{Streams: streams, Packets: codectest.Interleave(streams, video, audio)})
}

func openSource(t *testing.T, e *codectest.Engine, id, path string) *media.Source {
	t.Helper()
	s, err := media.Open(context.Background(), e, id, path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newSource(t *testing.T, pattern string, withAudio bool) (*codectest.Engine, *media.Source) {
	t.Helper()
	e := codectest.NewEngine()
	addFile(e, "in.mp4", pattern, withAudio)
	return e, openSource(t, e, "src", "in.mp4")
}
