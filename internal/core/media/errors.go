package media

import (
	"errors"

	"github.com/gowvp/smartcut/internal/core/codec"
)

var (
	// ErrDemux 打开或读取源文件失败，对打开操作是致命的
	ErrDemux = codec.ErrDemux
	// ErrSeekFailed 定位失败，预览返回空帧，合成中止
	ErrSeekFailed = codec.ErrSeekFailed
	// ErrFrameNotFound 解码结束仍未得到目标帧
	ErrFrameNotFound = errors.New("frame not found")
	// ErrNoVideoStream 源文件没有视频流
	ErrNoVideoStream = errors.New("no video stream")
	// ErrFrameRange 帧序号越界
	ErrFrameRange = errors.New("frame index out of range")
)
