package api

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/gowvp/smartcut/internal/core/codec"
)

// encodeJPEG yuv420p 帧转 JPEG
func encodeJPEG(f *codec.Frame, quality int) ([]byte, error) {
	w, h := f.Width, f.Height
	cw, ch := (w+1)/2, (h+1)/2
	if w <= 0 || h <= 0 || len(f.Data) < w*h+2*cw*ch {
		return nil, fmt.Errorf("invalid frame %dx%d size[%d]", w, h, len(f.Data))
	}
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	img := &image.YCbCr{
		Y:              f.Data[:w*h],
		Cb:             f.Data[w*h : w*h+cw*ch],
		Cr:             f.Data[w*h+cw*ch : w*h+2*cw*ch],
		YStride:        w,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, w, h),
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
