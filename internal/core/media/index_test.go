package media

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/internal/core/codec/codectest"
)

func checkSorted(t *testing.T, idx *StreamIndex) {
	t.Helper()
	for i := 1; i < idx.Len(); i++ {
		if idx.Records[i-1].PTS > idx.Records[i].PTS {
			t.Fatalf("stream %d: records not sorted at %d: %d > %d", idx.Stream, i, idx.Records[i-1].PTS, idx.Records[i].PTS)
		}
	}
}

func TestBuildAggregates(t *testing.T) {
	pattern := codectest.GOPPattern(48, 12, "IBBBB")
	_, s := newTestSource(t, pattern, true)

	v := s.VideoIndex()
	if v.Len() != 48 {
		t.Fatalf("expect 48 frames, got %d", v.Len())
	}
	for _, idx := range s.Indexes {
		checkSorted(t, idx)
	}
	for i, r := range v.Records {
		if r.PTS != int64(i) {
			t.Fatalf("record %d pts %d", i, r.PTS)
		}
		if want := pattern[i]; r.Picture.String() != string(want) {
			t.Errorf("record %d picture %s, expect %c", i, r.Picture, want)
		}
	}
	if v.MaxBFrames != 4 {
		t.Errorf("max bframes expect 4, got %d", v.MaxBFrames)
	}
	if v.GOPSize != 12 {
		t.Errorf("gop size expect 12, got %d", v.GOPSize)
	}
	if v.MaxPTSDTSDiff != 8 {
		t.Errorf("max pts/dts difference expect 8, got %d", v.MaxPTSDTSDiff)
	}
	if v.ReorderLength != 1 {
		t.Errorf("reorder length expect 1, got %d", v.ReorderLength)
	}
	if len(v.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics %+v", v.Diagnostics)
	}

	a := s.Indexes[1]
	if a.Kind != codec.KindAudio || a.MaxDuration != audioDur {
		t.Errorf("audio index %+v", a.Summarize())
	}
	if s.MaxAudioDuration() != 1 {
		// 1024/48000 秒约为 0.53 帧，四舍五入为 1
		t.Errorf("max audio duration in video time base expect 1, got %d", s.MaxAudioDuration())
	}
}

func TestBuildNoBFrames(t *testing.T) {
	_, s := newTestSource(t, "IPPPPIPPPPIP", false)
	v := s.VideoIndex()
	if v.MaxBFrames != 0 {
		t.Errorf("max bframes expect 0, got %d", v.MaxBFrames)
	}
	if v.GOPSize != 5 {
		t.Errorf("gop size expect 5, got %d", v.GOPSize)
	}
	if v.ReorderLength != 0 {
		t.Errorf("reorder length expect 0, got %d", v.ReorderLength)
	}
}

func TestBuildSkipLeadingPackets(t *testing.T) {
	pkts := codectest.VideoPackets(0, "IBPBP", 1)
	lead := codec.Packet{Stream: 0, Data: []byte{'P', 0}, PTS: -2, DTS: -10, Duration: 1}
	late := codec.Packet{Stream: 0, Data: []byte{'B', 0}, PTS: -1, DTS: -9, Duration: 1}
	all := []codec.Packet{lead, pkts[0], late}
	all = append(all, pkts[1:]...)

	e := codectest.NewEngine()
	e.Add("in.mp4", &codectest.Source{
		Streams: []codec.StreamParams{codectest.VideoStream(0, videoTB, 1)},
		Packets: all,
	})
	s, err := Open(context.Background(), e, "src", "in.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	v := s.VideoIndex()
	if v.Len() != 5 {
		t.Fatalf("expect 5 records, got %d", v.Len())
	}
	if v.Records[0].PTS != 0 || !v.Records[0].Keyframe {
		t.Fatalf("first record %+v", v.Records[0])
	}
	checkSorted(t, v)
}

func TestBuildWithoutParser(t *testing.T) {
	pattern := codectest.GOPPattern(24, 12, "IBBP")

	e := codectest.NewEngine()
	e.Add("parsed.mp4", newTestFile(pattern, false))
	noParser := newTestFile(pattern, false)
	noParser.NoParser = true
	e.Add("probed.mp4", noParser)

	parsed, err := Open(context.Background(), e, "a", "parsed.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer parsed.Close()
	if e.Decoders != 0 {
		t.Fatalf("parser available, expect no probe decoder, got %d", e.Decoders)
	}

	probed, err := Open(context.Background(), e, "b", "probed.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer probed.Close()
	if e.Decoders != 1 {
		t.Fatalf("expect one probe decoder, got %d", e.Decoders)
	}

	// 两种方式得到的帧类型一致
	a, b := parsed.VideoIndex(), probed.VideoIndex()
	for i := range a.Records {
		if a.Records[i].Picture != b.Records[i].Picture {
			t.Errorf("record %d: parser %s, decoder %s", i, a.Records[i].Picture, b.Records[i].Picture)
		}
	}
	if a.MaxBFrames != b.MaxBFrames || a.GOPSize != b.GOPSize {
		t.Errorf("aggregates differ: %+v vs %+v", a.Summarize(), b.Summarize())
	}
}

func TestBuildCorruptPacket(t *testing.T) {
	src := newTestFile("IPPPPP", false)
	src.CorruptAt = map[int]bool{3: true}
	e := codectest.NewEngine()
	e.Add("in.mp4", src)

	s, err := Open(context.Background(), e, "src", "in.mp4")
	if err != nil {
		t.Fatalf("corrupt packet must not abort indexing: %s", err)
	}
	defer s.Close()

	v := s.VideoIndex()
	if v.Len() != 6 {
		t.Fatalf("expect 6 records, got %d", v.Len())
	}
	if !v.Records[3].Corrupt {
		t.Fatal("record 3 should be flagged corrupt")
	}
	if len(v.Diagnostics) != 1 {
		t.Fatalf("expect one diagnostic, got %+v", v.Diagnostics)
	}
	d := v.Diagnostics[0]
	if d.Kind != DiagnosticCorruptPacket || d.Index != 3 || d.PTS != 3 {
		t.Errorf("diagnostic %+v", d)
	}
}

func TestBuildPTSGap(t *testing.T) {
	video := codectest.VideoPackets(0, "IPPPPPPPPP", 1)
	video = append(video[:5:5], video[6:]...)
	streams := []codec.StreamParams{
		codectest.VideoStream(0, videoTB, 1),
		codectest.AudioStream(1, audioTB, audioDur),
	}
	audio := codectest.AudioPackets(1, 18, 0, audioDur)
	audio = append(audio[:7:7], audio[8:]...)

	e := codectest.NewEngine()
	e.Add("in.mp4", &codectest.Source{Streams: streams, Packets: codectest.Interleave(streams, video, audio)})
	s, err := Open(context.Background(), e, "src", "in.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	v := s.VideoIndex()
	if v.Len() != 9 {
		t.Fatalf("expect 9 records, got %d", v.Len())
	}
	if len(v.Diagnostics) != 1 {
		t.Fatalf("expect one video gap, got %+v", v.Diagnostics)
	}
	if d := v.Diagnostics[0]; d.Kind != DiagnosticPTSGap || d.Expected != 5 || d.PTS != 6 || d.Index != 5 {
		t.Errorf("video gap %+v", d)
	}

	a := s.Indexes[1]
	if len(a.Diagnostics) != 1 {
		t.Fatalf("expect one audio gap, got %+v", a.Diagnostics)
	}
	if d := a.Diagnostics[0]; d.Expected != 7*audioDur || d.PTS != 8*audioDur {
		t.Errorf("audio gap %+v", d)
	}
}

func TestBuildInheritPos(t *testing.T) {
	src := newTestFile("IPPPPPPPPP", true)
	e := codectest.NewEngine()
	e.Add("in.mp4", src)

	// Add 之后再清除部分音频包的位置
	var audio []int
	for i, p := range src.Packets {
		if p.Stream == 1 {
			audio = append(audio, i)
		}
	}
	if len(audio) < 3 {
		t.Fatalf("expect at least 3 audio packets, got %d", len(audio))
	}
	src.Packets[audio[0]].Pos = -1
	src.Packets[audio[2]].Pos = -1
	want1 := src.Packets[audio[1]].Pos

	s, err := Open(context.Background(), e, "src", "in.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	a := s.Indexes[1]
	if a.Records[0].Pos != 0 {
		t.Errorf("first audio record without position expect 0, got %d", a.Records[0].Pos)
	}
	if a.Records[2].Pos != want1 {
		t.Errorf("audio record 2 expect inherited pos %d, got %d", want1, a.Records[2].Pos)
	}
	for _, r := range a.Records {
		if r.Picture != codec.PictureUnknown {
			t.Fatalf("audio record with picture type %s", r.Picture)
		}
	}
}

func TestBuildIdempotent(t *testing.T) {
	e := codectest.NewEngine()
	e.Add("in.mp4", newTestFile(codectest.GOPPattern(36, 12, "IBBP"), true))
	demux, err := e.Open(context.Background(), "in.mp4")
	if err != nil {
		t.Fatal(err)
	}
	first, v1, err := Build(context.Background(), e, demux)
	if err != nil {
		t.Fatal(err)
	}
	second, v2, err := Build(context.Background(), e, demux)
	if err != nil {
		t.Fatal(err)
	}
	if v1 != v2 || !reflect.DeepEqual(first, second) {
		t.Fatal("building twice yields different indexes")
	}
}

func TestBuildNoVideo(t *testing.T) {
	streams := []codec.StreamParams{codectest.AudioStream(0, audioTB, audioDur)}
	e := codectest.NewEngine()
	e.Add("in.m4a", &codectest.Source{Streams: streams, Packets: codectest.AudioPackets(0, 10, 0, audioDur)})
	_, err := Open(context.Background(), e, "src", "in.m4a")
	if !errors.Is(err, ErrNoVideoStream) {
		t.Fatalf("expect ErrNoVideoStream, got %v", err)
	}
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(context.Background(), codectest.NewEngine(), "src", "missing.mp4")
	if !errors.Is(err, ErrDemux) {
		t.Fatalf("expect ErrDemux, got %v", err)
	}
}
