package smartcut

import (
	"github.com/gowvp/smartcut/internal/core/codec"
	"github.com/gowvp/smartcut/internal/core/media"
	"github.com/ixugo/goddd/pkg/web"
)

type FindProjectInput struct {
	web.PagerFilter
	Name   string `form:"name"`   // 工程名称，模糊匹配
	Status string `form:"status"` // 工程状态
}

type AddProjectInput struct {
	Name string `json:"name"` // 工程名称
}

type AddSourceInput struct {
	Path string `json:"path"` // 源文件路径，服务端本地路径
}

type AddCutInput struct {
	SourceID string `json:"source_id"` // 源文件 ID
	In       int    `json:"in"`        // 入点帧序号（显示顺序）
	Out      int    `json:"out"`       // 出点帧序号，包含
}

type ComposeInput struct {
	Bitrate int64 `json:"bitrate"` // 转码码率(bps)，0 使用配置或按源文件估算
}

// SourceOutput 源文件概要
type SourceOutput struct {
	ID       string               `json:"id"`
	Path     string               `json:"path"`
	Size     int64                `json:"size"`
	Frames   int                  `json:"frames"`
	Video    int                  `json:"video"`
	Width    int                  `json:"width"`
	Height   int                  `json:"height"`
	TimeBase codec.Rational       `json:"time_base"`
	Duration float64              `json:"duration"` // 秒
	Streams  []SourceStreamOutput `json:"streams"`
}

// SourceStreamOutput 源文件中的一路流
type SourceStreamOutput struct {
	Index      int    `json:"index"`
	Kind       string `json:"kind"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// IndexOutput 源文件索引概要
type IndexOutput struct {
	SourceID string          `json:"source_id"`
	Streams  []media.Summary `json:"streams"`
}

// ComposeEvent 合成进度事件
type ComposeEvent struct {
	Current int64   `json:"current"`
	Total   int64   `json:"total"`
	Percent float64 `json:"percent"`
}

func newSourceOutput(src *media.Source) SourceOutput {
	v := src.VideoIndex()
	vp := src.VideoParams()
	out := SourceOutput{
		ID:       src.ID,
		Path:     src.Path,
		Size:     src.Size,
		Frames:   v.Len(),
		Video:    src.Video,
		Width:    vp.Width,
		Height:   vp.Height,
		TimeBase: v.TimeBase,
		Streams:  make([]SourceStreamOutput, 0, len(src.Streams)),
	}
	if n := v.Len(); n > 0 {
		last := v.Records[n-1]
		out.Duration = v.TimeBase.Seconds(last.PTS + last.Duration - v.Records[0].PTS)
	}
	for _, st := range src.Streams {
		out.Streams = append(out.Streams, SourceStreamOutput{
			Index:      st.Index,
			Kind:       st.Kind.String(),
			Codec:      st.Codec,
			SampleRate: st.SampleRate,
			Channels:   st.Channels,
		})
	}
	return out
}
