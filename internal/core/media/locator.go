package media

// KeyframeAtOrBefore 不晚于 i 的最近关键帧，i 超出末尾时从最后一帧开始找
// 不存在时返回 -1
func (s *StreamIndex) KeyframeAtOrBefore(i int) int {
	if i >= len(s.Records) {
		i = len(s.Records) - 1
	}
	for ; i >= 0; i-- {
		if s.Records[i].Keyframe {
			return i
		}
	}
	return -1
}

// KeyframeAtOrAfter 不早于 i 的最近关键帧，找到末尾仍没有时返回 -1
func (s *StreamIndex) KeyframeAtOrAfter(i int) int {
	for i = max(i, 0); i < len(s.Records); i++ {
		if s.Records[i].Keyframe {
			return i
		}
	}
	return -1
}

// AnchorAtOrBefore 不晚于 i 的最近锚点帧（关键帧或 P 帧）
func (s *StreamIndex) AnchorAtOrBefore(i int) int {
	if i >= len(s.Records) {
		i = len(s.Records) - 1
	}
	for ; i >= 0; i-- {
		if s.Records[i].IsAnchor() {
			return i
		}
	}
	return -1
}

// AnchorAtOrAfter 不早于 i 的最近锚点帧，不会返回 B 帧
func (s *StreamIndex) AnchorAtOrAfter(i int) int {
	for i = max(i, 0); i < len(s.Records); i++ {
		if s.Records[i].IsAnchor() {
			return i
		}
	}
	return -1
}

// Record 返回第 i 条记录，越界时返回 false
func (s *StreamIndex) Record(i int) (PacketRecord, bool) {
	if i < 0 || i >= len(s.Records) {
		return PacketRecord{}, false
	}
	return s.Records[i], true
}
