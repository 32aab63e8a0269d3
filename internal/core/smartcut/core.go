package smartcut

import (
	"path/filepath"

	"github.com/gowvp/smartcut/internal/conf"
	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/ixugo/goddd/pkg/conc"
	"github.com/ixugo/goddd/pkg/system"
)

// Storer data persistence
type Storer interface {
	Project() ProjectStorer
	Output() OutputStorer
}

// Core business domain
type Core struct {
	store    Storer
	conf     *conf.Editor
	engine   codec.Engine
	sessions *conc.Map[string, *Session]
}

type Option func(*Core)

// WithConfig 注入剪辑配置
func WithConfig(conf *conf.Editor) Option {
	return func(c *Core) {
		c.conf = conf
	}
}

// WithEngine 注入编解码引擎
func WithEngine(engine codec.Engine) Option {
	return func(c *Core) {
		c.engine = engine
	}
}

// NewCore create business domain
func NewCore(store Storer, opts ...Option) Core {
	c := Core{
		store:    store,
		conf:     &conf.Editor{},
		sessions: conc.NewMap[string, *Session](),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// OutputDir 合成文件目录的绝对路径
func (c Core) OutputDir() string {
	dir := c.conf.OutputDir
	if dir == "" {
		dir = "outputs"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(system.Getwd(), dir)
}

// TempDir 转码临时文件目录的绝对路径
func (c Core) TempDir() string {
	dir := c.conf.TempDir
	if dir == "" {
		dir = "tmp"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(system.Getwd(), dir)
}

// Close 关闭所有会话
func (c Core) Close() {
	c.sessions.Range(func(id string, s *Session) bool {
		s.Close()
		c.sessions.Delete(id)
		return true
	})
}
