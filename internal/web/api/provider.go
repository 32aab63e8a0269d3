package api

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/gowvp/smartcut/internal/adapter/codecadapter"
	"github.com/gowvp/smartcut/internal/conf"
	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/internal/core/smartcut"
	"github.com/gowvp/smartcut/pkg/ffwork"
	"github.com/ixugo/goddd/pkg/system"
	"github.com/ixugo/goddd/pkg/web"
	"gorm.io/gorm"
)

var ProviderSet = wire.NewSet(
	wire.Struct(new(Usecase), "*"),
	NewHTTPHandler,
	NewCodecEngine,
	NewSmartcutCore, NewSmartcutAPI,
)

type Usecase struct {
	Conf        *conf.Bootstrap
	DB          *gorm.DB
	SmartcutAPI SmartcutAPI
}

// NewHTTPHandler 生成Gin框架路由内容
func NewHTTPHandler(uc *Usecase) http.Handler {
	cfg := uc.Conf.Server
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.NoRoute(func(c *gin.Context) {
		c.JSON(404, "来到了无人的荒漠")
	})
	// 如果启用了 Pprof，设置 Pprof 监控
	if cfg.HTTP.PProf.Enabled {
		web.SetupPProf(g, &cfg.HTTP.PProf.AccessIps) // 设置 Pprof 监控
	}

	setupRouter(g, uc) // 设置路由处理函数
	return g           // 返回配置好的 Gin 实例作为 http.Handler
}

// absDir 相对路径以程序目录为基准
func absDir(dir, def string) string {
	if dir == "" {
		dir = def
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(system.Getwd(), dir)
}

// NewCodecEngine mp4 封装 + ffmpeg 编解码
func NewCodecEngine(bc *conf.Bootstrap) codec.Engine {
	return codecadapter.NewEngine(ffwork.Config{
		FFmpegBin: bc.Editor.FFmpegBin,
		TempDir:   absDir(bc.Editor.TempDir, "tmp"),
	})
}

// NewSmartcutCore 关闭时停止清理协程，释放所有打开的源文件
func NewSmartcutCore(store smartcut.Storer, engine codec.Engine, bc *conf.Bootstrap) (smartcut.Core, func()) {
	core := smartcut.NewCore(store,
		smartcut.WithConfig(&bc.Editor),
		smartcut.WithEngine(engine),
	)

	// 启动清理协程
	ctx, cancel := context.WithCancel(context.Background())
	go core.StartCleanupWorker(ctx)

	return core, func() {
		cancel()
		core.Close()
	}
}
