package app

import (
	"log/slog"
	"os"
	"testing"

	"github.com/gowvp/smartcut/internal/conf"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"xxx":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupLog(t *testing.T) {
	bc := conf.DefaultConfig()
	bc.ConfigDir = t.TempDir()
	bc.Log.Dir = t.TempDir()
	log, closeFn, err := SetupLog(&bc)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hello")
	closeFn()

	entries, err := os.ReadDir(bc.Log.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("expect log file")
	}
}
