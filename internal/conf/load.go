package conf

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// SetupConfig 读取配置文件，文件不存在时写入默认配置
func SetupConfig(path string) (Bootstrap, error) {
	bc := DefaultConfig()
	bc.ConfigPath = path
	bc.ConfigDir = filepath.Dir(path)

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return bc, WriteConfig(&bc, path)
	}
	if err != nil {
		return bc, err
	}
	if err := toml.NewDecoder(bytes.NewReader(b)).Decode(&bc); err != nil {
		return bc, fmt.Errorf("decode %s: %w", path, err)
	}
	return bc, nil
}

// WriteConfig 将配置写回文件
func WriteConfig(bc *Bootstrap, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := toml.Marshal(bc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
