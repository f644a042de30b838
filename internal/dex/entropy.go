package dex

import "math"

// Entropy 计算字节分布的 Shannon 熵并归一化到 [0, 255]
//
// score = floor(H / 8 * 255)，空输入返回 0。
func Entropy(data []byte) uint8 {
	if len(data) == 0 {
		return 0
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	total := float64(len(data))
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}

	score := math.Floor(h / 8.0 * 255)
	switch {
	case score < 0:
		return 0
	case score > 255:
		return 255
	}
	return uint8(score)
}
