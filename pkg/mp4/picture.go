package mp4

import (
	"encoding/binary"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/gowvp/smartcut/internal/core/codec"
)

// ParsePicture 解析 H.264 样本中第一个 slice 的类型，不需要解码
func (r *Reader) ParsePicture(pkt *codec.Packet) codec.PictureType {
	if pkt.Stream < 0 || pkt.Stream >= len(r.streams) {
		return codec.PictureUnknown
	}
	st := r.streams[pkt.Stream]
	if st.Kind != codec.KindVideo || st.Codec != "h264" {
		return codec.PictureUnknown
	}
	return PictureType(pkt.Data, st.LengthSize)
}

// PictureType 按 NAL 长度前缀拆分样本，返回第一个 slice 的帧类型
func PictureType(sample []byte, lengthSize int) codec.PictureType {
	for _, nalu := range SplitNalus(sample, lengthSize) {
		if len(nalu) == 0 {
			continue
		}
		switch avc.GetNaluType(nalu[0]) {
		case avc.NALU_IDR:
			return codec.PictureI
		case avc.NALU_NON_IDR:
			typ, err := avc.GetSliceTypeFromNALU(nalu)
			if err != nil {
				return codec.PictureUnknown
			}
			switch typ {
			case avc.SLICE_I, avc.SLICE_SI:
				return codec.PictureI
			case avc.SLICE_P, avc.SLICE_SP:
				return codec.PictureP
			case avc.SLICE_B:
				return codec.PictureB
			}
			return codec.PictureUnknown
		}
	}
	return codec.PictureUnknown
}

// SplitNalus 拆分长度前缀格式的样本，数据不完整时返回已拆出的部分
func SplitNalus(sample []byte, lengthSize int) [][]byte {
	if lengthSize == 4 {
		nalus, err := avc.GetNalusFromSample(sample)
		if err == nil {
			return nalus
		}
	}
	if lengthSize <= 0 || lengthSize > 4 {
		return nil
	}
	var out [][]byte
	for len(sample) >= lengthSize {
		var n int
		for i := 0; i < lengthSize; i++ {
			n = n<<8 | int(sample[i])
		}
		sample = sample[lengthSize:]
		if n > len(sample) {
			break
		}
		out = append(out, sample[:n])
		sample = sample[n:]
	}
	return out
}

var startCode = []byte{0, 0, 0, 1}

// ToAnnexB 把样本转为起始码格式，关键帧前插入参数集
func ToAnnexB(dst, sample []byte, lengthSize int, paramSets [][]byte, keyframe bool) []byte {
	if keyframe {
		for _, ps := range paramSets {
			dst = append(dst, startCode...)
			dst = append(dst, ps...)
		}
	}
	for _, nalu := range SplitNalus(sample, lengthSize) {
		dst = append(dst, startCode...)
		dst = append(dst, nalu...)
	}
	return dst
}

// ToLengthPrefixed 把 NAL 单元写成长度前缀格式
func ToLengthPrefixed(nalus [][]byte, lengthSize int) []byte {
	size := 0
	for _, n := range nalus {
		size += lengthSize + len(n)
	}
	out := make([]byte, 0, size)
	var buf [4]byte
	for _, n := range nalus {
		binary.BigEndian.PutUint32(buf[:], uint32(len(n)))
		out = append(out, buf[4-lengthSize:]...)
		out = append(out, n...)
	}
	return out
}
