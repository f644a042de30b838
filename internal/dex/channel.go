package dex

// Channels 三个并行通道：熵 (R)、原始字节 (G)、相对大小 (B)
type Channels struct {
	Entropy      []byte
	Raw          []byte
	Proportional []byte
}

// Len 返回三个通道中最长的长度
func (c Channels) Len() int {
	n := len(c.Entropy)
	if len(c.Raw) > n {
		n = len(c.Raw)
	}
	if len(c.Proportional) > n {
		n = len(c.Proportional)
	}
	return n
}

// Balanced 三个通道长度是否一致
func (c Channels) Balanced() bool {
	return len(c.Entropy) == len(c.Raw) && len(c.Raw) == len(c.Proportional)
}

// BuildChannels 按段顺序一次性构建三个通道
//
// 空段跳过，不贡献任何字节。熵和相对大小在整个段上是同一个值（平铺色带），
// 段边界在 R/B 通道上表现为矩形色块。
func BuildChannels(sections []Section, totalLen int) Channels {
	size := 0
	for _, s := range sections {
		size += s.Len()
	}

	ch := Channels{
		Entropy:      make([]byte, 0, size),
		Raw:          make([]byte, 0, size),
		Proportional: make([]byte, 0, size),
	}

	for _, s := range sections {
		n := s.Len()
		if n == 0 {
			continue
		}
		ent := Entropy(s.Bytes)
		prop := Proportion(n, totalLen)

		ch.Entropy = appendRepeat(ch.Entropy, ent, n)
		ch.Raw = append(ch.Raw, s.Bytes...)
		ch.Proportional = appendRepeat(ch.Proportional, prop, n)
	}

	return ch
}

// Proportion 段长度占整个 blob 的比例，缩放到 [0, 255]
//
// total 为 0 时返回 0。
func Proportion(n, total int) uint8 {
	if total <= 0 || n <= 0 {
		return 0
	}
	p := int(float64(n) / float64(total) * 255)
	if p > 255 {
		p = 255
	}
	return uint8(p)
}

func appendRepeat(dst []byte, v byte, n int) []byte {
	for i := 0; i < n; i++ {
		dst = append(dst, v)
	}
	return dst
}

// SectionInfo 单个段的统计信息
type SectionInfo struct {
	Name           string `json:"name"`
	Offset         uint32 `json:"offset"`
	DeclaredOffset uint32 `json:"declared_offset"`
	DeclaredSize   uint32 `json:"declared_size,omitempty"`
	Length         int    `json:"length"`
	Entropy        uint8  `json:"entropy"`
	Proportion     uint8  `json:"proportion"`
}

// Summarize 返回每个段的偏移、声明大小、实际长度与特征值
func Summarize(blob []byte) []SectionInfo {
	sections := ExtractSections(blob)
	infos := make([]SectionInfo, 0, len(sections))
	for _, s := range sections {
		infos = append(infos, SectionInfo{
			Name:           s.Name,
			Offset:         s.Offset,
			DeclaredOffset: s.DeclaredOffset,
			DeclaredSize:   s.DeclaredSize,
			Length:         s.Len(),
			Entropy:        Entropy(s.Bytes),
			Proportion:     Proportion(s.Len(), len(blob)),
		})
	}
	return infos
}
