package smartcut

import (
	"context"
	"slices"

	"github.com/grafov/m3u8"
	"github.com/ixugo/goddd/pkg/reason"
)

// OutputsPlaylist 把工程的合成文件按时间顺序组成点播列表
// 每个文件的时间戳都从 0 开始，文件之间需要 EXT-X-DISCONTINUITY 让播放器重置解码器
func (c Core) OutputsPlaylist(ctx context.Context, id string, uri func(*Output) string) (string, error) {
	outputs, err := c.FindOutputs(ctx, id)
	if err != nil {
		return "", err
	}
	if len(outputs) == 0 {
		return "", reason.ErrNotFound.Withf(`project[%s] has no outputs`, id)
	}
	slices.Reverse(outputs)

	pl, err := m3u8.NewMediaPlaylist(0, uint(len(outputs)))
	if err != nil {
		return "", reason.ErrServer.SetMsg(err.Error())
	}
	pl.MediaType = m3u8.VOD
	for i, o := range outputs {
		if err := pl.Append(uri(o), o.Duration, ""); err != nil {
			return "", reason.ErrServer.SetMsg(err.Error())
		}
		if i > 0 {
			pl.SetDiscontinuity()
		}
	}
	pl.Close()
	return pl.String(), nil
}
