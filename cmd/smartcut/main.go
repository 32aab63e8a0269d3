package main

import (
	"expvar"
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gowvp/smartcut/internal/app"
	"github.com/gowvp/smartcut/internal/conf"
	"github.com/ixugo/goddd/pkg/system"
)

var (
	buildVersion = "0.0.1" // 构建版本号
	gitBranch    = "dev"
	gitHash      = "debug"
)

var configPath = flag.String("conf", "./configs", "config directory, eg: -conf /configs/")

func main() {
	flag.Parse()
	expvar.NewString("git_branch").Set(gitBranch)
	expvar.NewString("git_hash").Set(gitHash)

	dir := *configPath
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(system.Getwd(), dir)
	}
	bc, err := conf.SetupConfig(filepath.Join(dir, "config.toml"))
	if err != nil {
		slog.Error("读取配置文件失败", "err", err)
		os.Exit(1)
	}
	bc.BuildVersion = buildVersion
	bc.Debug = os.Getenv("SMARTCUT_DEBUG") == "true"

	if err := app.Run(&bc); err != nil {
		slog.Error("服务异常退出", "err", err)
		os.Exit(1)
	}
}
