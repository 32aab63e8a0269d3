// Package codecadapter 把 mp4 封装与 ffmpeg 编解码组合为剪辑引擎
package codecadapter

import (
	"context"
	"log/slog"

	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/pkg/ffwork"
	"github.com/gowvp/smartcut/pkg/mp4"
)

var _ codec.Engine = (*Engine)(nil)

// Engine 实现 codec.Engine
// 解封装与封装由 pkg/mp4 完成，解码与编码交给 ffmpeg 子进程
type Engine struct {
	cfg ffwork.Config
}

// NewEngine 创建引擎，ffmpeg 不存在时只记录警告，预览与转码会在调用时报错
func NewEngine(cfg ffwork.Config) *Engine {
	if !ffwork.Available(cfg.FFmpegBin) {
		slog.Warn("ffmpeg not found, preview and transcode are unavailable", "bin", cfg.FFmpegBin)
	}
	return &Engine{cfg: cfg}
}

// Open implements codec.Engine.
func (e *Engine) Open(_ context.Context, path string) (codec.Demuxer, error) {
	r, err := mp4.Open(path)
	if err != nil {
		return nil, err
	}
	for _, st := range r.Streams() {
		slog.Debug("open stream", "path", path, "index", st.Index, "kind", st.Kind, "codec", st.Codec, "time_base", st.TimeBase)
	}
	return r, nil
}

// NewDecoder implements codec.Engine.
func (e *Engine) NewDecoder(_ context.Context, params codec.StreamParams, opts codec.DecoderOptions) (codec.Decoder, error) {
	return ffwork.NewDecoder(e.cfg, params, opts)
}

// NewEncoder implements codec.Engine.
func (e *Engine) NewEncoder(_ context.Context, params codec.EncoderParams) (codec.Encoder, error) {
	return ffwork.NewEncoder(e.cfg, params)
}

// NewMuxer implements codec.Engine.
func (e *Engine) NewMuxer(path string, streams []codec.StreamParams, opts codec.MuxerOptions) (codec.Muxer, error) {
	return mp4.Create(path, streams, opts)
}
