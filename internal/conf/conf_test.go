package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSetupConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "config.toml")

	// 文件不存在时写入默认配置
	bc, err := SetupConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("default config not written:", err)
	}
	if bc.Editor.MaxCuts != 256 {
		t.Fatalf("expect default max cuts 256, got %d", bc.Editor.MaxCuts)
	}

	bc.Editor.MaxCuts = 8
	bc.Data.Database.SlowThreshold = Duration(time.Second)
	if err := WriteConfig(&bc, path); err != nil {
		t.Fatal(err)
	}

	got, err := SetupConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Editor.MaxCuts != 8 {
		t.Errorf("expect max cuts 8, got %d", got.Editor.MaxCuts)
	}
	if got.Data.Database.SlowThreshold.Duration() != time.Second {
		t.Errorf("expect slow threshold 1s, got %s", got.Data.Database.SlowThreshold.Duration())
	}
	if got.ConfigPath != path {
		t.Errorf("config path %s", got.ConfigPath)
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatal(err)
	}
	if d.Duration() != 90*time.Second {
		t.Fatalf("expect 90s, got %s", d.Duration())
	}
	b, _ := d.MarshalText()
	if string(b) != "1m30s" {
		t.Fatalf("expect 1m30s, got %s", b)
	}
	if err := d.UnmarshalText([]byte("abc")); err == nil {
		t.Fatal("expect error")
	}
}
