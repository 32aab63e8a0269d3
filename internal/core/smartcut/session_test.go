package smartcut

import (
	"errors"
	"sync"
	"testing"

	"github.com/gowvp/smartcut/internal/core/codec/codectest"
	"github.com/gowvp/smartcut/internal/core/media"
)

func TestSessionSources(t *testing.T) {
	e := codectest.NewEngine()
	addFile(e, "b.mp4", "IPPPIPPP", false)
	addFile(e, "a.mp4", "IPPPIPPP", false)
	b := openSource(t, e, "b", "b.mp4")
	a := openSource(t, e, "a", "a.mp4")

	s := NewSession("p1", 2, 0)
	if err := s.AddSource(b); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSource(b); err != nil {
		t.Fatalf("add same source twice: %s", err)
	}
	if err := s.AddSource(a); err != nil {
		t.Fatal(err)
	}

	srcs := s.Sources()
	if len(srcs) != 2 || srcs[0].ID != "a" || srcs[1].ID != "b" {
		t.Fatalf("sources should be sorted by path, got %d", len(srcs))
	}

	c := openSource(t, e, "c", "a.mp4")
	if err := s.AddSource(c); !errors.Is(err, ErrTooManySources) {
		t.Fatalf("expect ErrTooManySources, got %v", err)
	}
	if len(s.Sources()) != 2 {
		t.Fatalf("rejected source should not be kept")
	}

	s.Close()
	if len(s.Sources()) != 0 {
		t.Fatal("sources should be released after close")
	}
	if err := s.AddSource(c); err != nil {
		t.Fatalf("add after close: %s", err)
	}
}

func TestSessionCuts(t *testing.T) {
	_, src := newSource(t, "IPPPIPPP", false)
	s := NewSession("p1", 0, 2)
	if err := s.AddSource(src); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Segments(); !errors.Is(err, ErrEmptyTimeline) {
		t.Fatalf("expect ErrEmptyTimeline, got %v", err)
	}
	if err := s.AddCut(Cut{SourceID: "missing", In: 0, Out: 1}); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expect ErrSourceNotFound, got %v", err)
	}
	if err := s.AddCut(Cut{SourceID: src.ID, In: 3, Out: 8}); !errors.Is(err, ErrInvalidCut) {
		t.Fatalf("expect ErrInvalidCut, got %v", err)
	}
	if err := s.AddCut(Cut{SourceID: src.ID, In: 4, Out: 7}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCut(Cut{SourceID: src.ID, In: 0, Out: 3}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCut(Cut{SourceID: src.ID, In: 0, Out: 1}); !errors.Is(err, ErrTooManyCuts) {
		t.Fatalf("expect ErrTooManyCuts, got %v", err)
	}

	// 时间线保持插入顺序
	segs, err := s.Segments()
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 2 || segs[0].In != 4 || segs[1].In != 0 {
		t.Fatalf("segments %+v", segs)
	}

	cuts := s.Cuts()
	cuts[0].In = 100
	if s.Cuts()[0].In != 4 {
		t.Fatal("Cuts should return a copy")
	}

	if err := s.DelCut(2); !errors.Is(err, ErrInvalidCut) {
		t.Fatalf("expect ErrInvalidCut, got %v", err)
	}
	if err := s.DelCut(0); err != nil {
		t.Fatal(err)
	}
	if cuts := s.Cuts(); len(cuts) != 1 || cuts[0].In != 0 {
		t.Fatalf("cuts after delete %+v", cuts)
	}

	s.SetCuts([]Cut{{SourceID: "gone", In: 0, Out: 1}})
	if _, err := s.Segments(); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expect ErrSourceNotFound, got %v", err)
	}
}

func TestSessionCompose(t *testing.T) {
	s := NewSession("p1", 0, 0)
	if !s.TryCompose() {
		t.Fatal("first compose should start")
	}
	if s.TryCompose() {
		t.Fatal("second compose should be rejected")
	}
	s.DoneCompose()
	if !s.TryCompose() {
		t.Fatal("compose should start again after done")
	}
}

func TestSessionAddSourceConcurrent(t *testing.T) {
	e := codectest.NewEngine()
	addFile(e, "a.mp4", "IPPPIPPP", false)

	const n = 8
	srcs := make([]*media.Source, n)
	for i := range srcs {
		srcs[i] = openSource(t, e, "same", "a.mp4")
	}

	s := NewSession("p1", 0, 0)
	var wg sync.WaitGroup
	for _, src := range srcs {
		wg.Go(func() {
			if err := s.AddSource(src); err != nil {
				t.Error(err)
			}
		})
	}
	wg.Wait()

	kept := s.Sources()
	if len(kept) != 1 {
		t.Fatalf("expect 1 source, got %d", len(kept))
	}
	if got := s.count.Load(); got != 1 {
		t.Errorf("expect count 1, got %d", got)
	}
	for _, src := range srcs {
		opened := src.Demuxer() != nil
		if want := src == kept[0]; opened != want {
			t.Errorf("source %p opened %v, expect %v", src, opened, want)
		}
	}
}
