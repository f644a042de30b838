package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/apk-analysis/dex-image-go/internal/dex"
	"github.com/sirupsen/logrus"
)

// DefaultWidth 默认网格宽度
const DefaultWidth = 256

var (
	ErrInvalidWidth  = errors.New("grid width must be positive")
	ErrWidthMismatch = errors.New("grid widths differ")
	ErrNoGrids       = errors.New("no grids to stack")
)

// PixelGrid 固定宽度的 RGB 像素网格
//
// Pix 按行存储，每个像素 3 字节 (R, G, B)。
type PixelGrid struct {
	Width  int
	Height int
	Pix    []byte
}

// NewPixelGrid 创建空白网格
func NewPixelGrid(width, height int) *PixelGrid {
	return &PixelGrid{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*3),
	}
}

// Row 返回第 r 行的像素字节 (长度 Width*3)
func (g *PixelGrid) Row(r int) []byte {
	stride := g.Width * 3
	return g.Pix[r*stride : (r+1)*stride]
}

// At 返回 (row, col) 处的像素
func (g *PixelGrid) At(row, col int) (r, gr, b uint8) {
	i := (row*g.Width + col) * 3
	return g.Pix[i], g.Pix[i+1], g.Pix[i+2]
}

// Image 转换为不透明的 image.RGBA
func (g *PixelGrid) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			r, gr, b := g.At(y, x)
			img.SetRGBA(x, y, color.RGBA{R: r, G: gr, B: b, A: 0xFF})
		}
	}
	return img
}

// LayoutEngine 把三个通道排布成像素网格
type LayoutEngine struct {
	width  int
	logger *logrus.Logger
}

// NewLayoutEngine 创建布局引擎，logger 可以为 nil
func NewLayoutEngine(width int, logger *logrus.Logger) (*LayoutEngine, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &LayoutEngine{width: width, logger: logger}, nil
}

// Width 网格宽度
func (e *LayoutEngine) Width() int {
	return e.width
}

// Layout 把通道补齐到 Width 的整数倍并交织成像素
//
// 短通道右侧补 0，长通道截断到 total_pixels。三个通道正常情况下等长，
// 不等长时记录 warning 并按补齐/截断恢复。
func (e *LayoutEngine) Layout(ch dex.Channels) *PixelGrid {
	maxLen := ch.Len()
	if !ch.Balanced() {
		e.logger.WithFields(logrus.Fields{
			"entropy_len":      len(ch.Entropy),
			"raw_len":          len(ch.Raw),
			"proportional_len": len(ch.Proportional),
		}).Warn("Channel lengths differ, padding/truncating to grid")
	}

	rows := (maxLen + e.width - 1) / e.width
	total := rows * e.width

	red := fitChannel(ch.Entropy, total)
	green := fitChannel(ch.Raw, total)
	blue := fitChannel(ch.Proportional, total)

	grid := NewPixelGrid(e.width, rows)
	for i := 0; i < total; i++ {
		grid.Pix[i*3] = red[i]
		grid.Pix[i*3+1] = green[i]
		grid.Pix[i*3+2] = blue[i]
	}
	return grid
}

// fitChannel 右侧补 0 或截断到 n
func fitChannel(c []byte, n int) []byte {
	if len(c) >= n {
		return c[:n]
	}
	out := make([]byte, n)
	copy(out, c)
	return out
}
