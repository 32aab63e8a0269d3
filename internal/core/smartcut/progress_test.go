package smartcut

import (
	"sync"
	"testing"
	"time"
)

func TestProgressReporter(t *testing.T) {
	var mu sync.Mutex
	var calls int
	var last [2]int64
	p := NewProgressReporter(5*time.Millisecond, func(current, total int64) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		last = [2]int64{current, total}
	})
	p.Update(3, 10)
	time.Sleep(20 * time.Millisecond)
	p.Update(10, 10)
	p.Close()
	p.Close()

	mu.Lock()
	defer mu.Unlock()
	if calls < 2 {
		t.Errorf("expect periodic callbacks, got %d", calls)
	}
	if last != [2]int64{10, 10} {
		t.Errorf("last callback %v, expect final progress", last)
	}
}

func TestProgressReporterWithoutCallback(t *testing.T) {
	p := NewProgressReporter(time.Millisecond, nil)
	p.Update(1, 2)
	p.Close()
	if p.Current.Load() != 1 || p.Total.Load() != 2 {
		t.Fatalf("progress %d/%d", p.Current.Load(), p.Total.Load())
	}
}
