package imaging

import "fmt"

// Stack 按顺序纵向拼接多个网格
//
// 顺序即 APK 内 DEX 条目的枚举顺序，不排序。所有网格宽度必须一致。
func Stack(grids []*PixelGrid) (*PixelGrid, error) {
	if len(grids) == 0 {
		return nil, ErrNoGrids
	}

	width := grids[0].Width
	height := 0
	for i, g := range grids {
		if g.Width != width {
			return nil, fmt.Errorf("%w: grid %d has width %d, expected %d", ErrWidthMismatch, i, g.Width, width)
		}
		height += g.Height
	}

	if len(grids) == 1 {
		return grids[0], nil
	}

	out := &PixelGrid{
		Width:  width,
		Height: height,
		Pix:    make([]byte, 0, width*height*3),
	}
	for _, g := range grids {
		out.Pix = append(out.Pix, g.Pix...)
	}
	return out, nil
}
