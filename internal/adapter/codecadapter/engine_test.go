package codecadapter

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/internal/core/media"
	"github.com/gowvp/smartcut/internal/core/smartcut"
	"github.com/gowvp/smartcut/pkg/ffwork"
)

// makeSource 用 ffmpeg 生成 50 帧、GOP 12 带 B 帧的测试文件
func makeSource(t *testing.T, dir string) string {
	t.Helper()
	if !ffwork.HasEncoder("", "libx264") {
		t.Skip("跳过测试：需要带 libx264 的 ffmpeg")
	}
	path := filepath.Join(dir, "src.mp4")
	cmd := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "lavfi", "-i", "testsrc=size=64x48:rate=25",
		"-f", "lavfi", "-i", "sine=frequency=440:sample_rate=48000",
		"-t", "2",
		"-c:v", "libx264", "-g", "12", "-keyint_min", "12", "-sc_threshold", "0", "-bf", "2",
		"-c:a", "aac",
		path,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("ffmpeg: %s: %s", err, out)
	}
	return path
}

func TestEngineCompose(t *testing.T) {
	dir := t.TempDir()
	srcPath := makeSource(t, dir)
	ctx := context.Background()
	engine := NewEngine(ffwork.Config{TempDir: filepath.Join(dir, "tmp")})

	src, err := media.Open(ctx, engine, "src", srcPath)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	if n := src.FrameCount(); n != 50 {
		t.Fatalf("expect 50 frames, got %d", n)
	}
	if p := src.VideoParams(); p.Codec != "h264" || p.Width != 64 || p.Height != 48 {
		t.Fatalf("video params %+v", p)
	}

	frame, err := src.Extract(ctx, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(frame.Data) != 64*48*3/2 {
		t.Fatalf("frame size %d", len(frame.Data))
	}

	out := filepath.Join(dir, "out.mp4")
	report, err := smartcut.Compose(ctx, engine, []smartcut.Segment{{Source: src, In: 5, Out: 40}}, out, smartcut.ComposeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Frames != 36 || report.Transcoded == 0 || report.Remuxed == 0 {
		t.Fatalf("report %+v", report)
	}

	res, err := media.Open(ctx, engine, "out", out)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Close()
	if n := res.FrameCount(); n != 36 {
		t.Fatalf("output expect 36 frames, got %d", n)
	}
	var audio bool
	for _, st := range res.Streams {
		audio = audio || st.Kind == codec.KindAudio
	}
	if !audio {
		t.Fatal("output has no audio stream")
	}
}
