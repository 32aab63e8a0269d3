package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gowvp/smartcut/internal/conf"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// Run 启动 http 服务，收到退出信号后优雅关闭
func Run(bc *conf.Bootstrap) error {
	log, closeLog, err := SetupLog(bc)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(log)

	handler, cleanup, err := wireApp(bc)
	if err != nil {
		return fmt.Errorf("wire app: %w", err)
	}
	defer cleanup()

	timeout := bc.Server.HTTP.Timeout.Duration()
	svr := http.Server{
		Addr:              fmt.Sprintf(":%d", bc.Server.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       2 * time.Minute,
	}

	errC := make(chan error, 1)
	go func() {
		slog.Info("http server start", "addr", svr.Addr, "version", bc.BuildVersion)
		if err := svr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("服务关闭", "signal", sig.String())
	case err := <-errC:
		slog.Error("http server", "err", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svr.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown", "err", err)
		return err
	}
	return nil
}

// SetupLog 日志同时输出到控制台与按时间切分的文件
func SetupLog(bc *conf.Bootstrap) (*slog.Logger, func(), error) {
	level := parseLevel(bc.Log.Level)
	if bc.Debug || bc.Server.Debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	closeFn := func() {}
	if dir := bc.Log.Dir; dir != "" {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(bc.ConfigDir, "..", dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
		opts := []rotatelogs.Option{rotatelogs.WithMaxAge(bc.Log.MaxAge.Duration())}
		if d := bc.Log.RotationTime.Duration(); d > 0 {
			opts = append(opts, rotatelogs.WithRotationTime(d))
		}
		r, err := rotatelogs.New(filepath.Join(dir, "%Y%m%d%H%M_smartcut.log"), opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("rotatelogs: %w", err)
		}
		w = io.MultiWriter(os.Stdout, r)
		closeFn = func() { _ = r.Close() }
	}

	log := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: level == slog.LevelDebug,
		Level:     level,
	}))
	return log, closeFn, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
